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

	corev1 "k8s.io/api/core/v1"

	"github.com/ash-governance/workload-governor/internal/podmodel"
	"github.com/ash-governance/workload-governor/pkg/governance"
)

// DecodePod is the production Decoder: it unmarshals the admitted
// object as a corev1.Pod and translates it through the same
// podmodel.ToWorkload mapping the reconcile operator and watch
// controller use, so admission sees the identical field set. A pod
// under review has no Status yet, so RestartCount comes back zero and
// Phase as Unknown — harmless, since EvaluateAdmission excludes the checks
// that would use them.
func DecodePod(raw []byte) (string, map[string]string, governance.Workload, error) {
	var pod corev1.Pod
	if err := json.Unmarshal(raw, &pod); err != nil {
		return "", nil, governance.Workload{}, err
	}
	return pod.Namespace, pod.Labels, podmodel.ToWorkload(pod), nil
}
