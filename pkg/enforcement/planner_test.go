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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ash-governance/workload-governor/pkg/governance"
)

func TestResolveParent(t *testing.T) {
	cases := []struct {
		doc     string
		podName string
		owners  []governance.OwnerRef
		want    ParentRef
	}{
		{
			doc:     "replicaset owner resolves through to deployment",
			podName: "api-7d8f6c9b47-x2z9k",
			owners:  []governance.OwnerRef{{Kind: "ReplicaSet", Name: "api-7d8f6c9b47"}},
			want:    ParentRef{Namespace: "payments", Kind: "Deployment", Name: "api"},
		},
		{
			doc:     "statefulset owner resolves as-is",
			podName: "db-0",
			owners:  []governance.OwnerRef{{Kind: "StatefulSet", Name: "db"}},
			want:    ParentRef{Namespace: "payments", Kind: "StatefulSet", Name: "db"},
		},
		{
			doc:     "no owners resolves to the pod itself",
			podName: "standalone",
			owners:  nil,
			want:    ParentRef{Namespace: "payments", Kind: "Pod", Name: "standalone"},
		},
		{
			doc:     "non-hash suffix is not stripped",
			podName: "my-app-prod",
			owners:  []governance.OwnerRef{{Kind: "ReplicaSet", Name: "my-app-prod"}},
			want:    ParentRef{Namespace: "payments", Kind: "Deployment", Name: "my-app-prod"},
		},
	}
	for _, c := range cases {
		t.Run(c.doc, func(t *testing.T) {
			got := ResolveParent("payments", c.podName, c.owners)
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("ResolveParent(...) mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBypassed(t *testing.T) {
	cases := []struct {
		doc    string
		ns     string
		labels map[string]string
		want   bool
	}{
		{doc: "system namespace always bypassed", ns: "kube-system", want: true},
		{doc: "ordinary namespace not bypassed", ns: "payments", want: false},
		{doc: "explicit opt-out label bypasses", ns: "payments", labels: map[string]string{"governance/bypass": "true"}, want: true},
		{doc: "opt-out label false does not bypass", ns: "payments", labels: map[string]string{"governance/bypass": "false"}, want: false},
	}
	for _, c := range cases {
		t.Run(c.doc, func(t *testing.T) {
			if got := Bypassed(c.ns, c.labels); got != c.want {
				t.Errorf("Bypassed(%q, %v) = %v, want %v", c.ns, c.labels, got, c.want)
			}
		})
	}
}

func TestPatchableViolationsExcludesUnfixableTypes(t *testing.T) {
	vs := []governance.Violation{
		{Container: "app", Type: governance.ViolationLatestTag},
		{Container: "app", Type: governance.ViolationMissingLiveness},
		{Container: "app", Type: governance.ViolationHighRestarts},
		{Container: "sidecar", Type: governance.ViolationMissingReadiness},
	}
	got := PatchableViolations(vs)
	if len(got) != 2 {
		t.Fatalf("PatchableViolations(...) = %v, want 2 entries", got)
	}
}

func TestBuildPlansDedupesByContainer(t *testing.T) {
	parent := ParentRef{Namespace: "ns", Kind: "Deployment", Name: "api"}
	vs := []governance.Violation{
		{Container: "app", Type: governance.ViolationMissingLiveness},
		{Container: "app", Type: governance.ViolationMissingReadiness},
	}
	plan := BuildPlans(parent, vs)
	if len(plan.Containers) != 1 {
		t.Fatalf("BuildPlans(...) produced %d container entries, want 1", len(plan.Containers))
	}
	cp := plan.Containers["app"]
	if !cp.AddLivenessProbe || !cp.AddReadinessProbe {
		t.Errorf("BuildPlans(...) container patch = %+v, want both probes set", cp)
	}
}

func TestBuildPlansHandlesMissingResources(t *testing.T) {
	parent := ParentRef{Namespace: "ns", Kind: "Deployment", Name: "api"}
	vs := []governance.Violation{
		{Container: "app", Type: governance.ViolationMissingResources},
	}
	plan := BuildPlans(parent, vs)
	cp := plan.Containers["app"]
	if !cp.AddResources {
		t.Errorf("BuildPlans(...) container patch = %+v, want AddResources set", cp)
	}
}

func TestPatchableViolationsIncludesMissingResources(t *testing.T) {
	vs := []governance.Violation{
		{Container: "app", Type: governance.ViolationMissingResources},
		{Container: "app", Type: governance.ViolationHighRestarts},
	}
	got := PatchableViolations(vs)
	if len(got) != 1 || got[0].Type != governance.ViolationMissingResources {
		t.Fatalf("PatchableViolations(...) = %v, want only the missingResources entry", got)
	}
}
