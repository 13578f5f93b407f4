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

package enforcement

import (
	"encoding/json"
)

// PatchedByAnnotation is stamped onto every parent workload the
// planner patches, as an audit trail of which operator patched it.
// Later cycles do not consult it: an annotated parent that still has
// patchable violations is patched again.
const PatchedByAnnotation = "governance.ash.dev/patched-by"

// probeBlock is the subset of corev1.Probe JSON this package emits.
// A TCP probe against the configured (or fallback) port is the only
// probe shape the planner can construct without knowing anything
// about the application's HTTP surface.
type probeBlock struct {
	TCPSocket struct {
		Port int32 `json:"port"`
	} `json:"tcpSocket"`
	InitialDelaySeconds int32 `json:"initialDelaySeconds,omitempty"`
	PeriodSeconds       int32 `json:"periodSeconds,omitempty"`
}

// DefaultProbe configures the probe BuildMergePatch installs, sourced
// from the owning Policy's spec.defaultProbe (or a conservative
// built-in default when unset).
type DefaultProbe struct {
	Port                int32
	InitialDelaySeconds int32
	PeriodSeconds       int32
}

// DefaultProbeFallback is used when a Policy enables probe enforcement
// without configuring defaultProbe explicitly.
var DefaultProbeFallback = DefaultProbe{Port: 8080, InitialDelaySeconds: 10, PeriodSeconds: 10}

func (d DefaultProbe) orFallback() DefaultProbe {
	if d.Port == 0 {
		return DefaultProbeFallback
	}
	return d
}

// resourcesBlock is the subset of corev1.ResourceRequirements JSON
// this package emits: plain quantity strings keyed by resource name.
type resourcesBlock struct {
	Requests map[string]string `json:"requests,omitempty"`
	Limits   map[string]string `json:"limits,omitempty"`
}

// DefaultResources configures the resources block BuildMergePatch
// installs, sourced from the owning Policy's spec.defaultResources (or
// a conservative built-in default when unset).
type DefaultResources struct {
	CPURequest    string
	MemoryRequest string
	CPULimit      string
	MemoryLimit   string
}

// DefaultResourcesFallback is used when a Policy enables resource
// enforcement without configuring defaultResources explicitly.
var DefaultResourcesFallback = DefaultResources{
	CPURequest:    "100m",
	MemoryRequest: "128Mi",
	CPULimit:      "500m",
	MemoryLimit:   "256Mi",
}

func (d DefaultResources) orFallback() DefaultResources {
	if d.CPURequest == "" {
		return DefaultResourcesFallback
	}
	return d
}

// BuildMergePatch renders plan into a Kubernetes strategic merge patch
// (JSON) against a pod-template-bearing parent (Deployment, StatefulSet,
// DaemonSet). The patch is additive only: it never removes or reorders
// existing containers, and a container absent from plan.Containers is
// left untouched in the output by omission (strategic merge patches
// merge container lists by name).
func BuildMergePatch(plan Plan, probe DefaultProbe, resources DefaultResources, operatorName string) ([]byte, error) {
	probe = probe.orFallback()
	resources = resources.orFallback()

	type container struct {
		Name           string          `json:"name"`
		LivenessProbe  *probeBlock     `json:"livenessProbe,omitempty"`
		ReadinessProbe *probeBlock     `json:"readinessProbe,omitempty"`
		Resources      *resourcesBlock `json:"resources,omitempty"`
	}
	var containers []container

	for name, cp := range plan.Containers {
		if !cp.AddLivenessProbe && !cp.AddReadinessProbe && !cp.AddResources {
			continue
		}
		c := container{Name: name}
		if cp.AddLivenessProbe {
			c.LivenessProbe = newProbeBlock(probe)
		}
		if cp.AddReadinessProbe {
			c.ReadinessProbe = newProbeBlock(probe)
		}
		if cp.AddResources {
			c.Resources = newResourcesBlock(resources)
		}
		containers = append(containers, c)
	}

	patch := map[string]interface{}{
		"metadata": map[string]interface{}{
			"annotations": map[string]interface{}{
				PatchedByAnnotation: operatorName,
			},
		},
	}
	if len(containers) > 0 {
		patch["spec"] = map[string]interface{}{
			"template": map[string]interface{}{
				"spec": map[string]interface{}{
					"containers": containers,
				},
			},
		}
	}
	return json.Marshal(patch)
}

func newProbeBlock(d DefaultProbe) *probeBlock {
	p := &probeBlock{InitialDelaySeconds: d.InitialDelaySeconds, PeriodSeconds: d.PeriodSeconds}
	p.TCPSocket.Port = d.Port
	return p
}

func newResourcesBlock(d DefaultResources) *resourcesBlock {
	return &resourcesBlock{
		Requests: map[string]string{"cpu": d.CPURequest, "memory": d.MemoryRequest},
		Limits:   map[string]string{"cpu": d.CPULimit, "memory": d.MemoryLimit},
	}
}
