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

	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/ash-governance/workload-governor/pkg/enforcement"
)

// TypedParentPatcher builds a ParentPatcher that issues a strategic
// merge patch against the real typed object for parent.Kind, covering
// the three controller kinds the enforcement planner resolves to
// (Deployment, StatefulSet, DaemonSet).
func TypedParentPatcher(c client.Client) ParentPatcher {
	return func(ctx context.Context, parent enforcement.ParentRef, data []byte) error {
		obj, err := emptyObjectFor(parent)
		if err != nil {
			return err
		}
		obj.SetNamespace(parent.Namespace)
		obj.SetName(parent.Name)
		return c.Patch(ctx, obj, client.RawPatch(types.StrategicMergePatchType, data))
	}
}

// emptyObjectFor returns the typed object to patch. A bare Pod is
// deliberately rejected: BuildMergePatch shapes its patch around
// spec.template.spec.containers, and a running Pod's own
// spec.containers is immutable in the real API server, so there is no
// patch this planner could issue that would succeed. Such pods are
// still audited (PatchableViolations still runs against them) but
// enforcement correctly reports them as failed rather than silently
// no-op succeeding.
func emptyObjectFor(parent enforcement.ParentRef) (client.Object, error) {
	switch parent.Kind {
	case "Deployment":
		return &appsv1.Deployment{}, nil
	case "StatefulSet":
		return &appsv1.StatefulSet{}, nil
	case "DaemonSet":
		return &appsv1.DaemonSet{}, nil
	case "Pod":
		return nil, errors.Errorf("parent %s/%s is a bare Pod: container spec is immutable, cannot be auto-remediated", parent.Namespace, parent.Name)
	default:
		return nil, errors.Errorf("no typed patch target registered for parent kind %q", parent.Kind)
	}
}
