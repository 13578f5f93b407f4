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

// Package webhook implements the admission validator: a fail-open,
// TLS-terminated HTTP handler wrapping the pure
// governance.Admit decision function.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/ash-governance/workload-governor/pkg/governance"
)

// DefaultBudget bounds how long a single admission review is allowed
// to take before the wrapper fails open.
const DefaultBudget = 2 * time.Second

// PolicyLookup resolves the Policy governing a namespace. A nil
// Policy (no error) means no policy applies and the workload is
// allowed unconditionally.
type PolicyLookup func(ctx context.Context, namespace string) (*governance.Policy, error)

// Validator wraps PolicyLookup with the admission decision.
type Validator struct {
	Lookup              PolicyLookup
	MinBlockingSeverity governance.Severity
	Budget              time.Duration
}

// NewValidator builds a Validator. minBlockingSeverity defaults to
// high when the zero value is passed.
func NewValidator(lookup PolicyLookup, minBlockingSeverity governance.Severity) *Validator {
	if minBlockingSeverity == "" {
		minBlockingSeverity = governance.SeverityHigh
	}
	return &Validator{
		Lookup:              lookup,
		MinBlockingSeverity: minBlockingSeverity,
		Budget:              DefaultBudget,
	}
}

// result carries the outcome of the budgeted evaluation back to the
// caller, whether it completed or timed out.
type result struct {
	verdict governance.Verdict
	err     error
}

// Evaluate resolves the workload's policy and returns the pure
// verdict, bounded by v.Budget. It never panics: a recovered panic,
// lookup error, or budget overrun all fail open (Allow). The returned
// bool reports whether evaluation actually completed in time and
// without a panic or lookup error (false in all three cases); the
// caller uses it only for metrics/logging, the Verdict is always safe
// to act on.
func (v *Validator) Evaluate(ctx context.Context, namespace string, labels map[string]string, w governance.Workload) (governance.Verdict, bool) {
	ctx, cancel := context.WithTimeout(ctx, v.budget())
	defer cancel()

	out := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- result{err: fmt.Errorf("admission evaluation panicked: %v", r)}
			}
		}()
		out <- v.evaluate(ctx, namespace, labels, w)
	}()

	select {
	case r := <-out:
		if r.err != nil {
			return governance.Verdict{Allowed: true}, false
		}
		return r.verdict, true
	case <-ctx.Done():
		return governance.Verdict{Allowed: true}, false
	}
}

func (v *Validator) evaluate(ctx context.Context, namespace string, labels map[string]string, w governance.Workload) result {
	if governance.IsSystemNamespace(namespace) {
		return result{verdict: governance.Verdict{Allowed: true}}
	}
	policy, err := v.Lookup(ctx, namespace)
	if err != nil {
		return result{err: err}
	}
	return result{verdict: governance.Admit(w, policy, false, v.MinBlockingSeverity)}
}

func (v *Validator) budget() time.Duration {
	if v.Budget <= 0 {
		return DefaultBudget
	}
	return v.Budget
}
