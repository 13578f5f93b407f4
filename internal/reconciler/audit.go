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
	"sort"
	"time"

	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	governancev1alpha1 "github.com/ash-governance/workload-governor/pkg/apis/governance/v1alpha1"
	"github.com/ash-governance/workload-governor/pkg/governance"
)

func toViolationRecords(vs []governance.Violation) []governancev1alpha1.ViolationRecord {
	out := make([]governancev1alpha1.ViolationRecord, 0, len(vs))
	for _, v := range vs {
		out = append(out, governancev1alpha1.ViolationRecord{
			Namespace: v.Namespace,
			Workload:  v.Workload,
			Container: v.Container,
			Type:      string(v.Type),
			Severity:  string(v.Severity),
			Message:   v.Message,
		})
	}
	return out
}

func toViolationCounts(vs []governance.Violation) []governancev1alpha1.ViolationCount {
	counts := map[governance.ViolationType]int32{}
	for _, v := range vs {
		counts[v.Type]++
	}
	out := make([]governancev1alpha1.ViolationCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, governancev1alpha1.ViolationCount{Type: string(t), Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// writeAuditResult creates the immutable AuditResult record for this
// cycle, named "<policy>-audit-<epoch-seconds>" and labeled
// "policy=<policy-name>".
func (r *Reconciler) writeAuditResult(ctx context.Context, policy *governancev1alpha1.Policy, now time.Time, score uint, totalWorkloads int, vs []governance.Violation) error {
	ar := &governancev1alpha1.AuditResult{
		ObjectMeta: metav1.ObjectMeta{
			Name:   governancev1alpha1.AuditResultName(policy.Name, now.Unix()),
			Labels: map[string]string{governancev1alpha1.PolicyLabel: policy.Name},
		},
		Spec: governancev1alpha1.AuditResultSpec{
			PolicyName:              policy.Name,
			EvaluatedAt:             metav1.NewTime(now),
			HealthScore:             int32(score),
			TotalWorkloadsEvaluated: int32(totalWorkloads),
			ViolationCount:          int32(len(vs)),
			Violations:              toViolationRecords(vs),
		},
	}
	return r.Create(ctx, ar)
}

// gcAuditResults keeps the newest `keep` AuditResults for policyName
// and deletes the rest, newest of those first. keep=0 deletes every
// AuditResult, used when a Policy is being finalized.
func (r *Reconciler) gcAuditResults(ctx context.Context, policyName string, keep int) error {
	var list governancev1alpha1.AuditResultList
	sel := client.MatchingLabels{governancev1alpha1.PolicyLabel: policyName}
	if err := r.List(ctx, &list, sel); err != nil {
		return errors.Wrap(err, "list audit results")
	}

	items := list.Items
	sort.Slice(items, func(i, j int) bool {
		return items[i].Spec.EvaluatedAt.Time.After(items[j].Spec.EvaluatedAt.Time)
	})
	if keep < 0 {
		keep = 0
	}
	if len(items) <= keep {
		return nil
	}
	for _, stale := range items[keep:] {
		stale := stale
		if err := r.Delete(ctx, &stale); err != nil {
			return errors.Wrapf(err, "delete stale audit result %s", stale.Name)
		}
	}
	return nil
}

// patchStatus updates Policy.status via the status subresource:
// finalizer/spec changes go through a plain Update, status changes go
// through the status subresource.
func (r *Reconciler) patchStatus(ctx context.Context, policy *governancev1alpha1.Policy, now time.Time, score uint, vs []governance.Violation, applied, failed int32, remediated []string) error {
	before := policy.DeepCopy()

	policy.Status = governancev1alpha1.PolicyStatus{
		ObservedGeneration:  policy.Generation,
		Healthy:             score >= 80,
		HealthScore:         int32(score),
		Violations:          int32(len(vs)),
		ViolationsByType:    toViolationCounts(vs),
		LastEvaluated:       metav1.NewTime(now),
		Message:             summarize(score, len(vs)),
		EnforcementMode:     string(policy.Spec.ToConfig().EnforcementMode),
		RemediationsApplied: applied,
		RemediationsFailed:  failed,
		RemediatedWorkloads: remediated,
	}

	return r.Status().Patch(ctx, policy, client.MergeFrom(before))
}

func summarize(score uint, violationCount int) string {
	class := governance.Classify(score)
	if violationCount == 0 {
		return string(class) + ": no violations found"
	}
	return string(class)
}
