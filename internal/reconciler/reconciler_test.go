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

package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	governancev1alpha1 "github.com/ash-governance/workload-governor/pkg/apis/governance/v1alpha1"
	"github.com/ash-governance/workload-governor/pkg/enforcement"
	"github.com/ash-governance/workload-governor/pkg/governance"
)

type fakeLister struct {
	workloads []governance.Workload
}

func (f *fakeLister) ListWorkloads(ctx context.Context, sel *metav1.LabelSelector) ([]governance.Workload, error) {
	return f.workloads, nil
}

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := governancev1alpha1.AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme(...) error = %v", err)
	}
	return scheme
}

func TestReconcileAuditModeRecordsButNeverPatches(t *testing.T) {
	scheme := newScheme(t)
	policy := &governancev1alpha1.Policy{
		ObjectMeta: metav1.ObjectMeta{Name: "default-policy"},
		Spec: governancev1alpha1.PolicySpec{
			ForbidLatestTag: true,
			EnforcementMode: "audit",
		},
	}
	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(policy).
		WithStatusSubresource(policy).
		Build()

	lister := &fakeLister{workloads: []governance.Workload{
		{
			Namespace:  "payments",
			Name:       "api-7d8f6c9b47-x2z9k",
			Containers: []governance.Container{{Name: "app", Image: "app:latest"}},
			OwnerRefs:  []governance.OwnerRef{{Kind: "ReplicaSet", Name: "api-7d8f6c9b47"}},
		},
	}}

	patched := false
	r := New(c, log.NewNopLogger(), lister, "workload-governor")
	r.Now = func() time.Time { return time.Unix(1000, 0) }
	r.ParentPatcher = func(ctx context.Context, parent enforcement.ParentRef, data []byte) error {
		patched = true
		return nil
	}

	_, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Name: "default-policy"}})
	if err != nil {
		t.Fatalf("Reconcile(...) error = %v", err)
	}
	if patched {
		t.Errorf("audit mode must never patch parent workloads")
	}

	var got governancev1alpha1.Policy
	if err := c.Get(context.Background(), types.NamespacedName{Name: "default-policy"}, &got); err != nil {
		t.Fatalf("Get(...) error = %v", err)
	}
	if got.Status.HealthScore == 0 {
		t.Errorf("status was not populated: %+v", got.Status)
	}
	if !hasFinalizer(&got) {
		t.Errorf("reconcile did not add finalizer")
	}

	var results governancev1alpha1.AuditResultList
	if err := c.List(context.Background(), &results); err != nil {
		t.Fatalf("List(...) error = %v", err)
	}
	if len(results.Items) != 1 {
		t.Fatalf("expected one AuditResult, got %d", len(results.Items))
	}
	if results.Items[0].Spec.ViolationCount != 1 {
		t.Errorf("AuditResult.ViolationCount = %d, want 1", results.Items[0].Spec.ViolationCount)
	}
	if got.Status.Violations != 1 {
		t.Errorf("Status.Violations = %d, want 1", got.Status.Violations)
	}
	if !got.Status.Healthy {
		t.Errorf("Status.Healthy = false, want true at or above the 80 threshold (score=%d)", got.Status.HealthScore)
	}
}

func TestPatchStatusHealthyRequiresScoreAtLeast80(t *testing.T) {
	scheme := newScheme(t)
	maxRestarts := int32(1)
	policy := &governancev1alpha1.Policy{
		ObjectMeta: metav1.ObjectMeta{Name: "degraded-policy"},
		Spec: governancev1alpha1.PolicySpec{
			ForbidLatestTag:       true,
			RequireLivenessProbe:  true,
			RequireReadinessProbe: true,
			RequireResourceLimits: true,
			MaxRestartCount:       &maxRestarts,
			EnforcementMode:       "audit",
		},
	}
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(policy).WithStatusSubresource(policy).Build()

	// Every check trips on both containers of this one pod: weighted
	// penalty (5+3+2+3+6)*2 over 1 pod = 38, scoring 62 -- Stable
	// under the old (buggy) >=60 threshold, but not Healthy under the
	// documented >=80 one.
	lister := &fakeLister{workloads: []governance.Workload{
		{
			Namespace: "payments",
			Name:      "api",
			Containers: []governance.Container{
				{Name: "app", Image: "app:latest", RestartCount: 5},
				{Name: "app2", Image: "app2:latest", RestartCount: 5},
			},
		},
	}}

	r := New(c, log.NewNopLogger(), lister, "workload-governor")
	r.Now = func() time.Time { return time.Unix(1000, 0) }

	if _, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Name: "degraded-policy"}}); err != nil {
		t.Fatalf("Reconcile(...) error = %v", err)
	}

	var got governancev1alpha1.Policy
	if err := c.Get(context.Background(), types.NamespacedName{Name: "degraded-policy"}, &got); err != nil {
		t.Fatalf("Get(...) error = %v", err)
	}
	if got.Status.HealthScore >= 80 {
		t.Fatalf("test setup expected HealthScore < 80, got %d", got.Status.HealthScore)
	}
	if got.Status.Healthy {
		t.Errorf("Status.Healthy = true with score %d, want false below the 80 threshold", got.Status.HealthScore)
	}
}

func TestReconcileInvokesOnFirstSuccessOnce(t *testing.T) {
	scheme := newScheme(t)
	policy := &governancev1alpha1.Policy{
		ObjectMeta: metav1.ObjectMeta{Name: "default-policy"},
		Spec:       governancev1alpha1.PolicySpec{EnforcementMode: "audit"},
	}
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(policy).WithStatusSubresource(policy).Build()

	r := New(c, log.NewNopLogger(), &fakeLister{}, "workload-governor")
	r.Now = func() time.Time { return time.Unix(1000, 0) }

	calls := 0
	r.OnFirstSuccess = func() { calls++ }

	for i := 0; i < 2; i++ {
		if _, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Name: "default-policy"}}); err != nil {
			t.Fatalf("Reconcile(...) error = %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("OnFirstSuccess called %d times, want exactly 1", calls)
	}
}

func TestReconcileEnforceModePatchesPatchableViolationsOnly(t *testing.T) {
	scheme := newScheme(t)
	policy := &governancev1alpha1.Policy{
		ObjectMeta: metav1.ObjectMeta{Name: "enforce-policy"},
		Spec: governancev1alpha1.PolicySpec{
			ForbidLatestTag:      true,
			RequireLivenessProbe: true,
			EnforcementMode:      "enforce",
		},
	}
	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(policy).
		WithStatusSubresource(policy).
		Build()

	lister := &fakeLister{workloads: []governance.Workload{
		{
			Namespace:  "payments",
			Name:       "api-7d8f6c9b47-x2z9k",
			Containers: []governance.Container{{Name: "app", Image: "app:latest"}},
			OwnerRefs:  []governance.OwnerRef{{Kind: "ReplicaSet", Name: "api-7d8f6c9b47"}},
		},
	}}

	var patchedParents []string
	r := New(c, log.NewNopLogger(), lister, "workload-governor")
	r.Now = func() time.Time { return time.Unix(1000, 0) }
	r.ParentPatcher = func(ctx context.Context, parent enforcement.ParentRef, data []byte) error {
		patchedParents = append(patchedParents, parent.Key())
		return nil
	}

	_, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Name: "enforce-policy"}})
	if err != nil {
		t.Fatalf("Reconcile(...) error = %v", err)
	}
	if len(patchedParents) != 1 || patchedParents[0] != "payments/Deployment/api" {
		t.Errorf("patchedParents = %v, want [payments/Deployment/api]", patchedParents)
	}

	var got governancev1alpha1.Policy
	if err := c.Get(context.Background(), types.NamespacedName{Name: "enforce-policy"}, &got); err != nil {
		t.Fatalf("Get(...) error = %v", err)
	}
	if got.Status.RemediationsApplied != 1 {
		t.Errorf("RemediationsApplied = %d, want 1", got.Status.RemediationsApplied)
	}
}

func TestReconcileEnforceModeBypassesSystemNamespace(t *testing.T) {
	scheme := newScheme(t)
	policy := &governancev1alpha1.Policy{
		ObjectMeta: metav1.ObjectMeta{Name: "enforce-policy"},
		Spec:       governancev1alpha1.PolicySpec{RequireLivenessProbe: true, EnforcementMode: "enforce"},
	}
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(policy).WithStatusSubresource(policy).Build()

	lister := &fakeLister{workloads: []governance.Workload{
		{
			Namespace:  "kube-system",
			Name:       "coredns-7d8f6c9b47-x2z9k",
			Containers: []governance.Container{{Name: "coredns"}},
			OwnerRefs:  []governance.OwnerRef{{Kind: "ReplicaSet", Name: "coredns-7d8f6c9b47"}},
		},
	}}

	patched := false
	r := New(c, log.NewNopLogger(), lister, "workload-governor")
	r.Now = func() time.Time { return time.Unix(1000, 0) }
	r.ParentPatcher = func(ctx context.Context, parent enforcement.ParentRef, data []byte) error {
		patched = true
		return nil
	}

	if _, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Name: "enforce-policy"}}); err != nil {
		t.Fatalf("Reconcile(...) error = %v", err)
	}
	if patched {
		t.Errorf("system namespace workload must never be patched")
	}
}
