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

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/ash-governance/workload-governor/internal/podmodel"
	"github.com/ash-governance/workload-governor/pkg/governance"
)

// PodLister implements WorkloadLister against a live client.Client: it
// resolves namespaceSelector to a set of namespaces, then lists every
// pod within them and translates each into a governance.Workload.
type PodLister struct {
	client.Client
}

// ListWorkloads implements WorkloadLister.
func (l PodLister) ListWorkloads(ctx context.Context, namespaceSelector *metav1.LabelSelector) ([]governance.Workload, error) {
	namespaces, err := l.matchingNamespaces(ctx, namespaceSelector)
	if err != nil {
		return nil, err
	}

	var out []governance.Workload
	for _, ns := range namespaces {
		var pods corev1.PodList
		if err := l.List(ctx, &pods, client.InNamespace(ns)); err != nil {
			return nil, err
		}
		for _, p := range pods.Items {
			out = append(out, podmodel.ToWorkload(p))
		}
	}
	return out, nil
}

func (l PodLister) matchingNamespaces(ctx context.Context, sel *metav1.LabelSelector) ([]string, error) {
	selector := labels.Everything()
	if sel != nil {
		var err error
		if selector, err = metav1.LabelSelectorAsSelector(sel); err != nil {
			return nil, err
		}
	}

	var namespaces corev1.NamespaceList
	if err := l.List(ctx, &namespaces, &client.ListOptions{LabelSelector: selector}); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(namespaces.Items))
	for _, ns := range namespaces.Items {
		names = append(names, ns.Name)
	}
	return names, nil
}
