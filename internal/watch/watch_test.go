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

package watch

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/ash-governance/workload-governor/pkg/governance"
)

func drainBriefly(t *testing.T, m *Maintainer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	m.Run(ctx)
}

func TestMaintainerAddUpdateDeleteNetsToZero(t *testing.T) {
	m := NewMaintainer(log.NewNopLogger())
	policy := &governance.Policy{ForbidLatestTag: true}

	go func() {
		m.Send(Event{Kind: EventAdd, UID: "pod-1", Policy: policy, Workload: governance.Workload{
			Namespace:  "payments",
			Name:       "api-1",
			Containers: []governance.Container{{Name: "app", Image: "app:latest"}},
		}})
		time.Sleep(20 * time.Millisecond)
		m.Send(Event{Kind: EventUpdate, UID: "pod-1", Policy: policy, Workload: governance.Workload{
			Namespace:  "payments",
			Name:       "api-1",
			Containers: []governance.Container{{Name: "app", Image: "app:1.0"}},
		}})
		time.Sleep(20 * time.Millisecond)
		m.Send(Event{Kind: EventDelete, UID: "pod-1"})
	}()

	drainBriefly(t, m)

	m.mtx.Lock()
	defer m.mtx.Unlock()
	agg := m.aggregates["payments"]
	if agg != (governance.Aggregate{}) {
		t.Errorf("aggregate after add+update+delete = %+v, want zero value", agg)
	}
}

func TestMaintainerQueueFullSetsNeedsRelist(t *testing.T) {
	m := NewMaintainer(log.NewNopLogger())
	for i := 0; i < EventQueueDepth+10; i++ {
		m.Send(Event{Kind: EventAdd, UID: "x"})
	}
	if !m.NeedsRelist() {
		t.Errorf("NeedsRelist() = false after overflowing the queue, want true")
	}
}

func TestResetAfterRelistClearsNeedsRelist(t *testing.T) {
	m := NewMaintainer(log.NewNopLogger())
	for i := 0; i < EventQueueDepth+10; i++ {
		m.Send(Event{Kind: EventAdd, UID: "x"})
	}
	m.ResetAfterRelist(map[string]governance.Aggregate{"ns": {TotalPods: 5}})
	if m.NeedsRelist() {
		t.Errorf("NeedsRelist() = true after ResetAfterRelist, want false")
	}
}
