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

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/ash-governance/workload-governor/pkg/governance"
)

func TestPodListerListWorkloadsFiltersByNamespaceSelector(t *testing.T) {
	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme(...) error = %v", err)
	}

	payments := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "payments", Labels: map[string]string{"tier": "critical"}}}
	staging := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "staging", Labels: map[string]string{"tier": "dev"}}}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: "payments", Name: "api"},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "app", Image: "app:latest"}}},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning},
	}
	stagingPod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: "staging", Name: "worker"},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "app", Image: "app:latest"}}},
	}

	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(payments, staging, pod, stagingPod).Build()
	lister := PodLister{Client: c}

	workloads, err := lister.ListWorkloads(context.Background(), &metav1.LabelSelector{MatchLabels: map[string]string{"tier": "critical"}})
	if err != nil {
		t.Fatalf("ListWorkloads(...) error = %v", err)
	}
	if len(workloads) != 1 {
		t.Fatalf("len(workloads) = %d, want 1", len(workloads))
	}
	if workloads[0].Namespace != "payments" || workloads[0].Name != "api" {
		t.Errorf("workload = %+v, want payments/api", workloads[0])
	}
	if workloads[0].Phase != governance.PhaseRunning {
		t.Errorf("Phase = %q, want Running", workloads[0].Phase)
	}
}

func TestPodListerNilSelectorMatchesAllNamespaces(t *testing.T) {
	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme(...) error = %v", err)
	}
	payments := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "payments"}}
	staging := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "staging"}}
	podA := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: "payments", Name: "api"}}
	podB := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: "staging", Name: "worker"}}

	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(payments, staging, podA, podB).Build()
	lister := PodLister{Client: c}

	workloads, err := lister.ListWorkloads(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListWorkloads(...) error = %v", err)
	}
	if len(workloads) != 2 {
		t.Fatalf("len(workloads) = %d, want 2", len(workloads))
	}
}
