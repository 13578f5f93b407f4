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

// Verdict is the pure outcome of an admission check. Types parallels
// Reasons, one entry per blocking violation, so callers can emit
// metrics labeled by violation type without re-evaluating.
type Verdict struct {
	Allowed bool
	Reasons []string
	Types   []ViolationType
}

// allowVerdict is shared by every fail-open path.
var allowVerdict = Verdict{Allowed: true}

// Admit implements the admission validator's pure decision function:
// a workload is denied only when policy is present, the workload is
// not in a bypassed namespace, and at least one admission-time
// violation meets or exceeds minBlockingSeverity. bypassed is whether
// the namespace is a system namespace; callers compute it via
// IsSystemNamespace. The governance/bypass=true label escape
// hatch is an enforcement-only concept (see pkg/enforcement.Bypassed)
// and never applies at admission time.
func Admit(w Workload, p *Policy, bypassed bool, minBlockingSeverity Severity) Verdict {
	if p == nil || bypassed {
		return allowVerdict
	}

	var reasons []string
	var types []ViolationType
	for _, v := range EvaluateAdmission(w, p) {
		if !v.Severity.AtLeast(minBlockingSeverity) {
			continue
		}
		reasons = append(reasons, reasonFor(v))
		types = append(types, v.Type)
	}
	if len(reasons) == 0 {
		return allowVerdict
	}
	return Verdict{Allowed: false, Reasons: reasons, Types: types}
}

func reasonFor(v Violation) string {
	switch v.Type {
	case ViolationLatestTag:
		return "container '" + v.Container + "' uses :latest"
	case ViolationMissingLiveness:
		return "container '" + v.Container + "' has no liveness probe"
	case ViolationMissingReadiness:
		return "container '" + v.Container + "' has no readiness probe"
	default:
		return string(v.Type) + " violation on container '" + v.Container + "'"
	}
}
