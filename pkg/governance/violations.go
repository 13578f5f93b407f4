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

import "strings"

// Violation describes a single policy breach found on one container (or,
// for the pending check, the workload as a whole).
type Violation struct {
	Namespace string
	Workload  string
	Container string
	Type      ViolationType
	Severity  Severity
	Message   string
}

// hasLatestTag reports whether an image reference resolves to the
// "latest" tag: an explicit ":latest" suffix, or no tag at all (Docker's
// own default).
func hasLatestTag(image string) bool {
	if image == "" {
		return false
	}
	last := strings.LastIndexAny(image, "/")
	ref := image[last+1:]
	idx := strings.LastIndex(ref, ":")
	if idx == -1 {
		return true
	}
	tag := ref[idx+1:]
	if strings.Contains(tag, "@") {
		// digest pin such as "name@sha256:...", never "latest".
		return false
	}
	return tag == "latest"
}

// detectViolations evaluates a single workload against policy and returns
// every violation found. A nil policy or a workload with no containers
// yields no violations. Detection never fails: missing data (for
// example an unset CreationTimestampUnix) is treated as "not
// violating" rather than an error.
func detectViolations(w Workload, p *Policy) []Violation {
	if p == nil {
		return nil
	}
	var out []Violation

	for _, c := range w.Containers {
		if p.ForbidLatestTag && hasLatestTag(c.Image) {
			out = append(out, Violation{
				Namespace: w.Namespace,
				Workload:  w.Name,
				Container: c.Name,
				Type:      ViolationLatestTag,
				Severity:  p.severityFor(ViolationLatestTag),
				Message:   "container '" + c.Name + "' image resolves to the latest tag",
			})
		}
		if p.RequireLivenessProbe && !c.HasLivenessProbe {
			out = append(out, Violation{
				Namespace: w.Namespace,
				Workload:  w.Name,
				Container: c.Name,
				Type:      ViolationMissingLiveness,
				Severity:  p.severityFor(ViolationMissingLiveness),
				Message:   "container '" + c.Name + "' has no liveness probe",
			})
		}
		if p.RequireReadinessProbe && !c.HasReadinessProbe {
			out = append(out, Violation{
				Namespace: w.Namespace,
				Workload:  w.Name,
				Container: c.Name,
				Type:      ViolationMissingReadiness,
				Severity:  p.severityFor(ViolationMissingReadiness),
				Message:   "container '" + c.Name + "' has no readiness probe",
			})
		}
		if p.RequireResourceLimits && (!c.HasResourceRequests || !c.HasResourceLimits) {
			out = append(out, Violation{
				Namespace: w.Namespace,
				Workload:  w.Name,
				Container: c.Name,
				Type:      ViolationMissingResources,
				Severity:  p.severityFor(ViolationMissingResources),
				Message:   "container '" + c.Name + "' has no resource requests/limits",
			})
		}
		if p.MaxRestartCount != nil && c.RestartCount > *p.MaxRestartCount {
			out = append(out, Violation{
				Namespace: w.Namespace,
				Workload:  w.Name,
				Container: c.Name,
				Type:      ViolationHighRestarts,
				Severity:  p.severityFor(ViolationHighRestarts),
				Message:   "container '" + c.Name + "' restart count exceeds the configured maximum",
			})
		}
	}

	return out
}

// evaluatePending appends a pending-duration violation when w has been
// Pending for longer than policy allows, measured against now (unix
// seconds). Admission callers skip this check entirely.
func evaluatePending(w Workload, p *Policy, now int64) []Violation {
	if p == nil || p.ForbidPendingDurationSeconds == nil {
		return nil
	}
	if w.Phase != PhasePending || w.CreationTimestampUnix <= 0 {
		return nil
	}
	elapsed := now - w.CreationTimestampUnix
	if elapsed <= *p.ForbidPendingDurationSeconds {
		return nil
	}
	return []Violation{{
		Namespace: w.Namespace,
		Workload:  w.Name,
		Type:      ViolationPending,
		Severity:  p.severityFor(ViolationPending),
		Message:   "workload has been pending longer than the configured threshold",
	}}
}

// Evaluate runs every configured check against w and returns the
// combined, deterministically ordered violation set. now is unix
// seconds and is used only by the pending-duration check; callers that
// never enable ForbidPendingDurationSeconds (including the admission
// validator, which always skips that check) may pass 0.
func Evaluate(w Workload, p *Policy, now int64) []Violation {
	vs := detectViolations(w, p)
	vs = append(vs, evaluatePending(w, p, now)...)
	return vs
}

// EvaluateAdmission runs only the subset of checks that do not require
// runtime data: it excludes highRestarts (requires observed restart
// history) and pending (requires elapsed wall-clock time). A nil
// policy yields no violations.
func EvaluateAdmission(w Workload, p *Policy) []Violation {
	all := detectViolations(w, p)
	out := all[:0:0]
	for _, v := range all {
		if v.Type == ViolationHighRestarts {
			continue
		}
		out = append(out, v)
	}
	return out
}
