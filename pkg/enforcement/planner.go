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

// Package enforcement turns violations the governance library found
// into patches against the parent workloads that own them, and decides
// which violations are safe to patch automatically at all.
package enforcement

import (
	"strings"

	"github.com/ash-governance/workload-governor/pkg/governance"
)

// patchableTypes are the violation kinds the planner knows how to fix
// by patching a pod spec template. ForbidLatestTag and HighRestarts
// require a human to pick a new image or diagnose a crash loop, so
// they are audited but never auto-patched.
var patchableTypes = map[governance.ViolationType]bool{
	governance.ViolationMissingLiveness:  true,
	governance.ViolationMissingReadiness: true,
	governance.ViolationMissingResources: true,
}

// ParentRef identifies the controller (Deployment, StatefulSet, etc.)
// that owns a pod, after stripping the ReplicaSet indirection
// Deployments introduce.
type ParentRef struct {
	Namespace string
	Kind      string
	Name      string
}

// Key returns a stable string for deduplicating parents within a
// reconcile cycle.
func (p ParentRef) Key() string {
	return p.Namespace + "/" + p.Kind + "/" + p.Name
}

// replicaSetName strips a Deployment-generated ReplicaSet's
// "-<hash>" suffix, e.g. "api-7d8f6c9b47" -> "api". The hash is always
// the final hyphen-delimited segment and, unlike a human-chosen
// Deployment name segment, is an 8-10 character lowercase alphanumeric
// pod-template hash; this heuristic mirrors what kubectl's own rollout
// history display does.
func replicaSetName(name string) string {
	idx := strings.LastIndex(name, "-")
	if idx < 0 {
		return name
	}
	suffix := name[idx+1:]
	if len(suffix) < 8 || len(suffix) > 10 {
		return name
	}
	for _, r := range suffix {
		if !isAlphaNumeric(r) {
			return name
		}
	}
	return name[:idx]
}

func isAlphaNumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// ResolveParent walks a workload's owner references to find the
// controller that ultimately owns it. A bare pod with a ReplicaSet
// owner resolves through to the Deployment name; a pod owned directly
// by a StatefulSet/DaemonSet/Job resolves to that owner as-is. A pod
// with no owner references resolves to itself as a Pod, since nothing
// higher up exists to patch.
func ResolveParent(namespace, podName string, owners []governance.OwnerRef) ParentRef {
	for _, o := range owners {
		if o.Kind == "ReplicaSet" {
			return ParentRef{Namespace: namespace, Kind: "Deployment", Name: replicaSetName(o.Name)}
		}
	}
	for _, o := range owners {
		return ParentRef{Namespace: namespace, Kind: o.Kind, Name: o.Name}
	}
	return ParentRef{Namespace: namespace, Kind: "Pod", Name: podName}
}

// Bypassed reports whether ns/workload must never be patched,
// regardless of enforcement mode: system namespaces and any namespace
// or workload explicitly opted out via the "governance/bypass=true"
// label.
func Bypassed(namespace string, labels map[string]string) bool {
	if governance.IsSystemNamespace(namespace) {
		return true
	}
	return labels["governance/bypass"] == "true"
}

// PatchableViolations filters vs down to the subset the planner can
// safely auto-remediate by patching a pod template.
func PatchableViolations(vs []governance.Violation) []governance.Violation {
	var out []governance.Violation
	for _, v := range vs {
		if patchableTypes[v.Type] {
			out = append(out, v)
		}
	}
	return out
}

// Plan is the set of container-level patches to apply to a single
// parent workload, deduplicated by container name.
type Plan struct {
	Parent     ParentRef
	Containers map[string]ContainerPatch
}

// ContainerPatch names which fixes a single container within Plan.Parent
// needs applied.
type ContainerPatch struct {
	AddLivenessProbe  bool
	AddReadinessProbe bool
	AddResources      bool
}

// BuildPlans builds the Plan for a single parent from the patchable
// violations in vs, one ContainerPatch per container name. Callers
// merge the Plans of pods that share a parent (see ParentRef.Key), so
// a Deployment with three unhealthy pods produces a single patch
// rather than three redundant ones.
func BuildPlans(parent ParentRef, vs []governance.Violation) Plan {
	plan := Plan{Parent: parent, Containers: map[string]ContainerPatch{}}
	for _, v := range PatchableViolations(vs) {
		cp := plan.Containers[v.Container]
		switch v.Type {
		case governance.ViolationMissingLiveness:
			cp.AddLivenessProbe = true
		case governance.ViolationMissingReadiness:
			cp.AddReadinessProbe = true
		case governance.ViolationMissingResources:
			cp.AddResources = true
		}
		plan.Containers[v.Container] = cp
	}
	return plan
}
