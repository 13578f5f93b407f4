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

package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ash-governance/workload-governor/pkg/governance"
)

func TestValidatorEvaluateAllowsOnLookupError(t *testing.T) {
	v := NewValidator(func(ctx context.Context, ns string) (*governance.Policy, error) {
		return nil, errors.New("etcd unavailable")
	}, governance.SeverityHigh)

	verdict, completed := v.Evaluate(context.Background(), "production", nil, governance.Workload{})
	if !verdict.Allowed {
		t.Errorf("verdict.Allowed = false, want true (fail open on lookup error)")
	}
	if completed {
		t.Errorf("completed = true, want false (lookup failed)")
	}
}

func TestValidatorEvaluateAllowsOnPanic(t *testing.T) {
	v := NewValidator(func(ctx context.Context, ns string) (*governance.Policy, error) {
		panic("boom")
	}, governance.SeverityHigh)

	verdict, completed := v.Evaluate(context.Background(), "production", nil, governance.Workload{})
	if !verdict.Allowed {
		t.Errorf("verdict.Allowed = false, want true (fail open on panic)")
	}
	if completed {
		t.Errorf("completed = true, want false (lookup panicked)")
	}
}

func TestValidatorEvaluateAllowsOnBudgetExceeded(t *testing.T) {
	v := NewValidator(func(ctx context.Context, ns string) (*governance.Policy, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, governance.SeverityHigh)
	v.Budget = 10 * time.Millisecond

	verdict, completed := v.Evaluate(context.Background(), "production", nil, governance.Workload{})
	if !verdict.Allowed {
		t.Errorf("verdict.Allowed = false, want true (fail open on timeout)")
	}
	if completed {
		t.Errorf("completed = true, want false (budget exceeded)")
	}
}

func TestValidatorEvaluateBypassesSystemNamespace(t *testing.T) {
	called := false
	v := NewValidator(func(ctx context.Context, ns string) (*governance.Policy, error) {
		called = true
		return &governance.Policy{ForbidLatestTag: true}, nil
	}, governance.SeverityHigh)

	w := governance.Workload{Containers: []governance.Container{{Name: "app", Image: "nginx:latest"}}}
	verdict, completed := v.Evaluate(context.Background(), "kube-system", nil, w)
	if !verdict.Allowed || !completed {
		t.Errorf("verdict = %+v, completed = %v, want Allowed/completed", verdict, completed)
	}
	if called {
		t.Errorf("policy lookup was called for a bypassed namespace")
	}
}

func TestValidatorEvaluateDeniesLatestTag(t *testing.T) {
	v := NewValidator(func(ctx context.Context, ns string) (*governance.Policy, error) {
		return &governance.Policy{
			ForbidLatestTag:   true,
			SeverityOverrides: map[governance.ViolationType]governance.Severity{governance.ViolationLatestTag: governance.SeverityCritical},
		}, nil
	}, governance.SeverityHigh)

	w := governance.Workload{
		Namespace:  "production",
		Containers: []governance.Container{{Name: "app", Image: "nginx:latest"}},
	}
	verdict, completed := v.Evaluate(context.Background(), "production", nil, w)
	if verdict.Allowed || !completed {
		t.Errorf("verdict = %+v, completed = %v, want Deny/completed", verdict, completed)
	}
}

func TestValidatorDefaultsMinBlockingSeverityToHigh(t *testing.T) {
	v := NewValidator(nil, "")
	if v.MinBlockingSeverity != governance.SeverityHigh {
		t.Errorf("MinBlockingSeverity = %q, want %q", v.MinBlockingSeverity, governance.SeverityHigh)
	}
}
