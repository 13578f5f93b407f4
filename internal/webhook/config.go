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
	"fmt"

	arv1 "k8s.io/api/admissionregistration/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

// PodValidationPath is the HTTP path the cluster's admission config
// points the webhook at.
const PodValidationPath = "/validate/pods"

// ValidatingWebhookConfig builds the cluster-wide config for the pod
// admission webhook. The failure policy is always Ignore: the
// validator is required to fail open, and a Fail policy would let the
// API server itself block workloads on webhook unavailability,
// contradicting that guarantee.
func ValidatingWebhookConfig(name, namespace string, caBundle []byte, ors ...metav1.OwnerReference) *arv1.ValidatingWebhookConfiguration {
	path := PodValidationPath

	return &arv1.ValidatingWebhookConfiguration{
		ObjectMeta: metav1.ObjectMeta{
			Name:            name,
			OwnerReferences: ors,
		},
		Webhooks: []arv1.ValidatingWebhook{
			{
				Name: fmt.Sprintf("pods.%s.%s.svc", name, namespace),
				ClientConfig: arv1.WebhookClientConfig{
					Service: &arv1.ServiceReference{
						Name:      name,
						Namespace: namespace,
						Path:      &path,
					},
					CABundle: caBundle,
				},
				Rules: []arv1.RuleWithOperations{
					{
						Operations: []arv1.OperationType{arv1.Create, arv1.Update},
						Rule: arv1.Rule{
							APIGroups:   []string{""},
							APIVersions: []string{"v1"},
							Resources:   []string{"pods"},
						},
					},
				},
				FailurePolicy:           ptr.To(arv1.Ignore),
				SideEffects:             ptr.To(arv1.SideEffectClassNone),
				AdmissionReviewVersions: []string{"v1"},
			},
		},
	}
}
