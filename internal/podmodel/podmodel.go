// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package podmodel translates a corev1.Pod into the governance
// package's opaque Workload model. It is the one place that knows
// about the real Kubernetes Pod type, shared by the reconcile
// operator, the watch controller, and the admission validator so each
// doesn't reimplement the same field mapping.
package podmodel

import (
	corev1 "k8s.io/api/core/v1"

	"github.com/ash-governance/workload-governor/pkg/governance"
)

// ToWorkload converts p into a governance.Workload. Only spec/status
// fields the governance engine actually checks are copied.
func ToWorkload(p corev1.Pod) governance.Workload {
	w := governance.Workload{
		Namespace:             p.Namespace,
		Name:                  p.Name,
		Phase:                 ToPhase(p.Status.Phase),
		CreationTimestampUnix: p.CreationTimestamp.Unix(),
	}
	for _, o := range p.OwnerReferences {
		w.OwnerRefs = append(w.OwnerRefs, governance.OwnerRef{Kind: o.Kind, Name: o.Name})
	}

	statuses := map[string]corev1.ContainerStatus{}
	for _, cs := range p.Status.ContainerStatuses {
		statuses[cs.Name] = cs
	}
	for _, c := range p.Spec.Containers {
		container := governance.Container{
			Name:                c.Name,
			Image:               c.Image,
			HasLivenessProbe:    c.LivenessProbe != nil,
			HasReadinessProbe:   c.ReadinessProbe != nil,
			HasResourceRequests: len(c.Resources.Requests) > 0,
			HasResourceLimits:   len(c.Resources.Limits) > 0,
		}
		if len(c.Ports) > 0 {
			container.Port = c.Ports[0].ContainerPort
		}
		if cs, ok := statuses[c.Name]; ok {
			container.RestartCount = cs.RestartCount
		}
		w.Containers = append(w.Containers, container)
	}
	return w
}

// ToPhase maps a corev1.PodPhase onto governance.Phase.
func ToPhase(p corev1.PodPhase) governance.Phase {
	switch p {
	case corev1.PodPending:
		return governance.PhasePending
	case corev1.PodRunning:
		return governance.PhaseRunning
	case corev1.PodSucceeded:
		return governance.PhaseSucceeded
	case corev1.PodFailed:
		return governance.PhaseFailed
	default:
		return governance.PhaseUnknown
	}
}
