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

package governance

// Severity is one of the four severity bands a violation can carry.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank orders severities so minimum-severity filtering (used by
// the admission validator) can compare them.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// ViolationType names one of the six checks the engine performs.
type ViolationType string

const (
	ViolationLatestTag        ViolationType = "latestTag"
	ViolationMissingLiveness  ViolationType = "missingLiveness"
	ViolationMissingReadiness ViolationType = "missingReadiness"
	ViolationMissingResources ViolationType = "missingResources"
	ViolationHighRestarts     ViolationType = "highRestarts"
	ViolationPending          ViolationType = "pending"
)

// EnforcementMode selects whether the reconcile operator only reports
// violations or also mutates offending parent workloads.
type EnforcementMode string

const (
	EnforcementAudit   EnforcementMode = "audit"
	EnforcementEnforce EnforcementMode = "enforce"
)

// ProbeDefaults configures the probe the enforcement planner installs
// on a container found missing one. The zero value means "use the
// planner's own built-in fallback".
type ProbeDefaults struct {
	Port                int32
	InitialDelaySeconds int32
	PeriodSeconds       int32
}

// ResourceDefaults configures the resource requests/limits the
// enforcement planner installs on a container found missing them. The
// zero value means "use the planner's own built-in fallback".
type ResourceDefaults struct {
	CPURequest    string
	MemoryRequest string
	CPULimit      string
	MemoryLimit   string
}

// Policy is the governance library's own view of a policy: every field
// is optional (nil/zero means the check is disabled), decoupled from
// the Kubernetes wire representation in pkg/apis/governance/v1alpha1
// so the evaluation engine has no dependency on the CRD layer.
type Policy struct {
	ForbidLatestTag       bool
	RequireLivenessProbe  bool
	RequireReadinessProbe bool
	// RequireResourceLimits flags containers declaring no resource
	// requests or no resource limits.
	RequireResourceLimits bool
	// MaxRestartCount, if non-nil, flags containers whose restart
	// count strictly exceeds it.
	MaxRestartCount *int32
	// ForbidPendingDurationSeconds, if non-nil, flags pods that have
	// been Pending for longer than this many seconds.
	ForbidPendingDurationSeconds *int64

	EnforcementMode EnforcementMode

	// DefaultProbe and DefaultResources configure what the enforcement
	// planner injects for missingLiveness/missingReadiness/
	// missingResources violations. Zero values defer to the planner's
	// own built-in fallbacks.
	DefaultProbe     ProbeDefaults
	DefaultResources ResourceDefaults

	// SeverityOverrides maps a violation type to a non-default
	// severity. A type absent from the map uses SeverityMedium.
	SeverityOverrides map[ViolationType]Severity
}

// severityFor resolves the configured severity for a violation type,
// defaulting to medium.
func (p *Policy) severityFor(vt ViolationType) Severity {
	if p == nil {
		return SeverityMedium
	}
	if s, ok := p.SeverityOverrides[vt]; ok {
		return s
	}
	return SeverityMedium
}
