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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/ash-governance/workload-governor/pkg/governance"
)

// DefaultProbeSpec describes the probe the enforcement planner installs
// on a container found missing one, when the policy enables
// enforcement for that check.
type DefaultProbeSpec struct {
	// Port is the container port the installed TCP probe targets. If
	// zero, the planner ignores this whole block and installs its
	// built-in fallback probe (port 8080, 10s initial delay, 10s
	// period); the container's own declared ports are not consulted.
	Port int32 `json:"port,omitempty"`
	// InitialDelaySeconds is copied onto the installed probe verbatim.
	InitialDelaySeconds int32 `json:"initialDelaySeconds,omitempty"`
	// PeriodSeconds is copied onto the installed probe verbatim.
	PeriodSeconds int32 `json:"periodSeconds,omitempty"`
}

// DefaultResourcesSpec describes the resource requests/limits the
// enforcement planner installs on a container found missing them.
type DefaultResourcesSpec struct {
	CPURequest    string `json:"cpuRequest,omitempty"`
	MemoryRequest string `json:"memoryRequest,omitempty"`
	CPULimit      string `json:"cpuLimit,omitempty"`
	MemoryLimit   string `json:"memoryLimit,omitempty"`
}

// PolicySpec is the desired governance configuration for the
// namespaces the Policy selects.
type PolicySpec struct {
	// Selector restricts which namespaces this Policy evaluates. An
	// empty or unset selector matches every namespace, system
	// namespaces included (they are evaluated but never patched).
	// +optional
	NamespaceSelector *metav1.LabelSelector `json:"namespaceSelector,omitempty"`

	// ForbidLatestTag flags containers whose image resolves to the
	// "latest" tag (explicitly or by omission).
	ForbidLatestTag bool `json:"forbidLatestTag,omitempty"`
	// RequireLivenessProbe flags containers without a liveness probe.
	RequireLivenessProbe bool `json:"requireLivenessProbe,omitempty"`
	// RequireReadinessProbe flags containers without a readiness probe.
	RequireReadinessProbe bool `json:"requireReadinessProbe,omitempty"`
	// RequireResourceLimits flags containers declaring no resource
	// requests or no resource limits.
	RequireResourceLimits bool `json:"requireResourceLimits,omitempty"`
	// MaxRestartCount, if set, flags containers whose restart count
	// exceeds it. Unset disables the check.
	// +optional
	MaxRestartCount *int32 `json:"maxRestartCount,omitempty"`
	// ForbidPendingDurationSeconds, if set, flags workloads that have
	// been Pending longer than this many seconds. Unset disables the
	// check. Never evaluated by the admission validator.
	// +optional
	ForbidPendingDurationSeconds *int64 `json:"forbidPendingDurationSeconds,omitempty"`

	// EnforcementMode selects whether the reconcile operator only
	// records violations ("audit", the default) or also patches
	// offending parent workloads ("enforce").
	// +kubebuilder:validation:Enum=audit;enforce
	EnforcementMode string `json:"enforcementMode,omitempty"`

	// DefaultProbe configures the probe the planner installs when
	// enforcing a missing-probe violation.
	// +optional
	DefaultProbe *DefaultProbeSpec `json:"defaultProbe,omitempty"`
	// DefaultResources configures the resources block the planner
	// installs when enforcing a missing-resources violation.
	// +optional
	DefaultResources *DefaultResourcesSpec `json:"defaultResources,omitempty"`

	// SeverityOverrides maps a violation type name (see
	// pkg/governance.ViolationType) to a non-default severity.
	// +optional
	SeverityOverrides map[string]string `json:"severityOverrides,omitempty"`
}

// ViolationCount summarizes how many violations of one type the last
// evaluation cycle found across every namespace the policy selects.
type ViolationCount struct {
	Type  string `json:"type"`
	Count int32  `json:"count"`
}

// PolicyStatus is the most recently observed state of a Policy.
type PolicyStatus struct {
	// ObservedGeneration is the .metadata.generation the status was
	// computed from.
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
	// Healthy reports whether HealthScore is at least 80, i.e. whether
	// it classifies as Healthy.
	Healthy bool `json:"healthy"`
	// HealthScore is the lowest per-namespace score across every
	// selected namespace, in [0, 100].
	HealthScore int32 `json:"healthScore"`
	// Violations is the total violation count the last evaluation cycle
	// found across every namespace the policy selects.
	Violations int32 `json:"violations"`
	// ViolationsByType breaks Violations down by violation type.
	// +optional
	ViolationsByType []ViolationCount `json:"violationsByType,omitempty"`
	// LastEvaluated is when this status was last computed.
	// +optional
	LastEvaluated metav1.Time `json:"lastEvaluated,omitempty"`
	// Message is a short human-readable summary of the last cycle.
	Message string `json:"message,omitempty"`
	// EnforcementMode echoes spec.EnforcementMode as actually applied
	// this cycle (in case a malformed value was defaulted).
	EnforcementMode string `json:"enforcementMode,omitempty"`
	// RemediationsApplied counts patches successfully applied this
	// cycle.
	RemediationsApplied int32 `json:"remediationsApplied,omitempty"`
	// RemediationsFailed counts patches attempted but rejected this
	// cycle.
	RemediationsFailed int32 `json:"remediationsFailed,omitempty"`
	// RemediatedWorkloads names the parent workloads patched this
	// cycle, namespace/name formatted.
	// +optional
	RemediatedWorkloads []string `json:"remediatedWorkloads,omitempty"`
}

// Policy binds a set of governance checks to a namespace selection.
// +genclient
// +genclient:nonNamespaced
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object
// +kubebuilder:resource:scope=Cluster
// +kubebuilder:subresource:status
// +kubebuilder:storageversion
type Policy struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec PolicySpec `json:"spec"`
	// +optional
	Status PolicyStatus `json:"status"`
}

// PolicyList is a list of Policies.
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object
type PolicyList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Policy `json:"items"`
}

// ToConfig converts the wire spec into the governance library's own
// policy representation, resolving string-keyed fields (EnforcementMode,
// SeverityOverrides) into their typed equivalents and defaulting any
// unrecognized value to its safest interpretation.
func (s *PolicySpec) ToConfig() *governance.Policy {
	mode := governance.EnforcementAudit
	if governance.EnforcementMode(s.EnforcementMode) == governance.EnforcementEnforce {
		mode = governance.EnforcementEnforce
	}

	var overrides map[governance.ViolationType]governance.Severity
	if len(s.SeverityOverrides) > 0 {
		overrides = make(map[governance.ViolationType]governance.Severity, len(s.SeverityOverrides))
		for k, v := range s.SeverityOverrides {
			overrides[governance.ViolationType(k)] = governance.Severity(v)
		}
	}

	cfg := &governance.Policy{
		ForbidLatestTag:              s.ForbidLatestTag,
		RequireLivenessProbe:         s.RequireLivenessProbe,
		RequireReadinessProbe:        s.RequireReadinessProbe,
		RequireResourceLimits:        s.RequireResourceLimits,
		MaxRestartCount:              s.MaxRestartCount,
		ForbidPendingDurationSeconds: s.ForbidPendingDurationSeconds,
		EnforcementMode:              mode,
		SeverityOverrides:            overrides,
	}
	if s.DefaultProbe != nil {
		cfg.DefaultProbe = governance.ProbeDefaults{
			Port:                s.DefaultProbe.Port,
			InitialDelaySeconds: s.DefaultProbe.InitialDelaySeconds,
			PeriodSeconds:       s.DefaultProbe.PeriodSeconds,
		}
	}
	if s.DefaultResources != nil {
		cfg.DefaultResources = governance.ResourceDefaults{
			CPURequest:    s.DefaultResources.CPURequest,
			MemoryRequest: s.DefaultResources.MemoryRequest,
			CPULimit:      s.DefaultResources.CPULimit,
			MemoryLimit:   s.DefaultResources.MemoryLimit,
		}
	}
	return cfg
}

func (p *Policy) DeepCopyInto(out *Policy) {
	*out = *p
	out.TypeMeta = p.TypeMeta
	p.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	p.Spec.DeepCopyInto(&out.Spec)
	p.Status.DeepCopyInto(&out.Status)
}

func (p *Policy) DeepCopy() *Policy {
	if p == nil {
		return nil
	}
	out := new(Policy)
	p.DeepCopyInto(out)
	return out
}

func (p *Policy) DeepCopyObject() runtime.Object {
	if c := p.DeepCopy(); c != nil {
		return c
	}
	return nil
}

func (s *PolicySpec) DeepCopyInto(out *PolicySpec) {
	*out = *s
	if s.NamespaceSelector != nil {
		out.NamespaceSelector = s.NamespaceSelector.DeepCopy()
	}
	if s.MaxRestartCount != nil {
		v := *s.MaxRestartCount
		out.MaxRestartCount = &v
	}
	if s.ForbidPendingDurationSeconds != nil {
		v := *s.ForbidPendingDurationSeconds
		out.ForbidPendingDurationSeconds = &v
	}
	if s.DefaultProbe != nil {
		v := *s.DefaultProbe
		out.DefaultProbe = &v
	}
	if s.DefaultResources != nil {
		v := *s.DefaultResources
		out.DefaultResources = &v
	}
	if s.SeverityOverrides != nil {
		out.SeverityOverrides = make(map[string]string, len(s.SeverityOverrides))
		for k, v := range s.SeverityOverrides {
			out.SeverityOverrides[k] = v
		}
	}
}

func (s *PolicyStatus) DeepCopyInto(out *PolicyStatus) {
	*out = *s
	s.LastEvaluated.DeepCopyInto(&out.LastEvaluated)
	if s.ViolationsByType != nil {
		out.ViolationsByType = make([]ViolationCount, len(s.ViolationsByType))
		copy(out.ViolationsByType, s.ViolationsByType)
	}
	if s.RemediatedWorkloads != nil {
		out.RemediatedWorkloads = make([]string, len(s.RemediatedWorkloads))
		copy(out.RemediatedWorkloads, s.RemediatedWorkloads)
	}
}

func (in *PolicyList) DeepCopyInto(out *PolicyList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]Policy, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

func (in *PolicyList) DeepCopy() *PolicyList {
	if in == nil {
		return nil
	}
	out := new(PolicyList)
	in.DeepCopyInto(out)
	return out
}

func (in *PolicyList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}
