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

package v1alpha1

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// PolicyLabel is the label key the reconcile operator stamps on every
// AuditResult it creates, naming the Policy that produced it.
const PolicyLabel = GroupName + "/policy"

// ViolationRecord is a single finding from one evaluation cycle,
// persisted onto the AuditResult for later inspection.
type ViolationRecord struct {
	Namespace string `json:"namespace"`
	Workload  string `json:"workload"`
	Container string `json:"container,omitempty"`
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

// AuditResultSpec is the immutable record of a single evaluation cycle.
// AuditResult has no status subresource: it is a point-in-time record,
// not a reconciled object.
type AuditResultSpec struct {
	PolicyName              string            `json:"policyName"`
	EvaluatedAt             metav1.Time       `json:"evaluatedAt"`
	HealthScore             int32             `json:"healthScore"`
	TotalWorkloadsEvaluated int32             `json:"totalWorkloadsEvaluated"`
	ViolationCount          int32             `json:"violationCount"`
	Violations              []ViolationRecord `json:"violations,omitempty"`
}

// AuditResult is an immutable, timestamped record of one Policy
// evaluation cycle.
// +genclient
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object
// +kubebuilder:storageversion
type AuditResult struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec AuditResultSpec `json:"spec"`
}

// AuditResultList is a list of AuditResults.
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object
type AuditResultList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []AuditResult `json:"items"`
}

// AuditResultName builds the "<policy-name>-audit-<epoch-seconds>" name
// every AuditResult is created under.
func AuditResultName(policyName string, epochSeconds int64) string {
	return fmt.Sprintf("%s-audit-%d", policyName, epochSeconds)
}

func (a *AuditResult) DeepCopyInto(out *AuditResult) {
	*out = *a
	out.TypeMeta = a.TypeMeta
	a.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	a.Spec.DeepCopyInto(&out.Spec)
}

func (a *AuditResult) DeepCopy() *AuditResult {
	if a == nil {
		return nil
	}
	out := new(AuditResult)
	a.DeepCopyInto(out)
	return out
}

func (a *AuditResult) DeepCopyObject() runtime.Object {
	if c := a.DeepCopy(); c != nil {
		return c
	}
	return nil
}

func (s *AuditResultSpec) DeepCopyInto(out *AuditResultSpec) {
	*out = *s
	s.EvaluatedAt.DeepCopyInto(&out.EvaluatedAt)
	if s.Violations != nil {
		out.Violations = make([]ViolationRecord, len(s.Violations))
		copy(out.Violations, s.Violations)
	}
}

func (in *AuditResultList) DeepCopyInto(out *AuditResultList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]AuditResult, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

func (in *AuditResultList) DeepCopy() *AuditResultList {
	if in == nil {
		return nil
	}
	out := new(AuditResultList)
	in.DeepCopyInto(out)
	return out
}

func (in *AuditResultList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}
