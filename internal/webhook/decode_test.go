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
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/ash-governance/workload-governor/pkg/governance"
)

func TestDecodePod(t *testing.T) {
	pod := corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: "payments",
			Name:      "api-7d8f6c9b47-x2z9k",
			Labels:    map[string]string{"app": "api"},
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{
				{
					Name:          "app",
					Image:         "app:latest",
					LivenessProbe: &corev1.Probe{},
				},
			},
		},
	}
	raw, err := json.Marshal(pod)
	if err != nil {
		t.Fatalf("Marshal(...) error = %v", err)
	}

	ns, labels, w, err := DecodePod(raw)
	if err != nil {
		t.Fatalf("DecodePod(...) error = %v", err)
	}
	if ns != "payments" {
		t.Errorf("namespace = %q, want payments", ns)
	}
	if diff := cmp.Diff(map[string]string{"app": "api"}, labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	want := governance.Workload{
		Namespace:             "payments",
		Name:                  "api-7d8f6c9b47-x2z9k",
		Phase:                 governance.PhaseUnknown,
		CreationTimestampUnix: pod.CreationTimestamp.Unix(),
		Containers: []governance.Container{
			{Name: "app", Image: "app:latest", HasLivenessProbe: true},
		},
	}
	if diff := cmp.Diff(want, w); diff != "" {
		t.Errorf("workload mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePodInvalidJSON(t *testing.T) {
	if _, _, _, err := DecodePod([]byte("not json")); err == nil {
		t.Errorf("DecodePod(...) error = nil, want an error")
	}
}
