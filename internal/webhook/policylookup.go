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

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"

	governancev1alpha1 "github.com/ash-governance/workload-governor/pkg/apis/governance/v1alpha1"
	"github.com/ash-governance/workload-governor/pkg/governance"
)

// NewManagerPolicyLookup builds a PolicyLookup backed by a
// controller-runtime client. It is meant to be called with a
// manager's cache-backed client, so every admission review resolves
// its namespace's Policy from the local informer cache rather than
// a live API call, keeping well inside the validator's budget.
//
// The first Policy whose NamespaceSelector matches the namespace's
// labels wins; Policy ordering is otherwise undefined, matching
// internal/reconciler.PodLister's namespace-selector matching.
func NewManagerPolicyLookup(c client.Client) PolicyLookup {
	return func(ctx context.Context, namespace string) (*governance.Policy, error) {
		var ns corev1.Namespace
		if err := c.Get(ctx, client.ObjectKey{Name: namespace}, &ns); err != nil {
			return nil, err
		}

		var policies governancev1alpha1.PolicyList
		if err := c.List(ctx, &policies); err != nil {
			return nil, err
		}

		set := labels.Set(ns.Labels)
		for i := range policies.Items {
			sel := labels.Everything()
			if ps := policies.Items[i].Spec.NamespaceSelector; ps != nil {
				var err error
				if sel, err = metav1.LabelSelectorAsSelector(ps); err != nil {
					continue
				}
			}
			if sel.Matches(set) {
				return policies.Items[i].Spec.ToConfig(), nil
			}
		}
		return nil, nil
	}
}
