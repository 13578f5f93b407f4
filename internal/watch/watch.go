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

// Package watch implements the watch controller: a leader-elected
// process that maintains a live per-namespace health-score gauge from
// a bounded stream of workload add/update/delete events.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/ash-governance/workload-governor/pkg/governance"
	"github.com/ash-governance/workload-governor/pkg/telemetry"
)

const (
	DefaultLeaseDuration = 15 * time.Second
	DefaultRenewDeadline = 10 * time.Second
	DefaultRetryPeriod   = 2 * time.Second

	// EventQueueDepth is the bounded channel size events are delivered
	// on. A maintainer that falls behind drops further events and
	// flags NeedsRelist until the caller performs a full re-list.
	EventQueueDepth = 1024
)

// EventKind distinguishes the three ways a workload can change.
type EventKind int

const (
	EventAdd EventKind = iota
	EventUpdate
	EventDelete
)

// Event is a single workload change delivered to the maintainer.
type Event struct {
	Kind     EventKind
	UID      string
	Workload governance.Workload
	Policy   *governance.Policy
}

// state is the aggregate maintainer's own lifecycle, independent of
// (but driven by) the leaderelection callbacks: Waiting while not
// leading, Leading while processing events, Draining once Run has
// returned after its context was cancelled.
type state int

const (
	stateWaiting state = iota
	stateLeading
	stateDraining
)

// Maintainer owns the live per-namespace Aggregate cache and keeps
// telemetry.NamespaceHealthScore / telemetry.ClusterHealthScore
// current as events arrive. It mirrors the stateFn-driven lifecycle of
// the lease package's Lease, generalized from follow/lead to
// waiting/leading/draining.
type Maintainer struct {
	logger log.Logger
	events chan Event

	mtx         sync.Mutex
	state       state
	aggregates  map[string]governance.Aggregate // by namespace
	byUID       map[string]perWorkload           // side cache for subtraction on update/delete
	needsRelist bool
}

type perWorkload struct {
	namespace  string
	violations []governance.Violation
}

// NewMaintainer builds a Maintainer with a bounded event channel.
func NewMaintainer(logger log.Logger) *Maintainer {
	return &Maintainer{
		logger:     logger,
		events:     make(chan Event, EventQueueDepth),
		aggregates: map[string]governance.Aggregate{},
		byUID:      map[string]perWorkload{},
	}
}

// Send delivers ev to the maintainer without blocking. If the bounded
// queue is full, the event is dropped and needsRelist is set so the
// caller knows to perform a full re-list and call ResetAfterRelist.
func (m *Maintainer) Send(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.mtx.Lock()
		m.needsRelist = true
		m.mtx.Unlock()
		level.Warn(m.logger).Log("msg", "event queue full, dropping event and requesting relist", "uid", ev.UID)
	}
}

// NeedsRelist reports whether the maintainer dropped at least one
// event because its queue was full, and the caller must perform a
// full re-list to resynchronize the aggregate cache.
func (m *Maintainer) NeedsRelist() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.needsRelist
}

// ResetAfterRelist replaces the maintainer's aggregate cache wholesale
// after the caller has performed a full re-list, clearing needsRelist.
func (m *Maintainer) ResetAfterRelist(aggregates map[string]governance.Aggregate) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.aggregates = aggregates
	m.byUID = map[string]perWorkload{}
	m.needsRelist = false
	m.publishLocked()
}

func (m *Maintainer) setState(s state) {
	m.mtx.Lock()
	m.state = s
	m.mtx.Unlock()
	logState(m.logger, s)
}

// Run processes events from the channel until ctx is done. Call it
// from the leaderelection OnStartedLeading callback; it returns when
// ctx is canceled (OnStoppedLeading fires, or process shutdown).
func (m *Maintainer) Run(ctx context.Context) {
	m.setState(stateLeading)
	defer m.setState(stateDraining)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.events:
			if !ok {
				return
			}
			m.apply(ev)
		}
	}
}

func (m *Maintainer) apply(ev Event) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	switch ev.Kind {
	case EventAdd:
		telemetry.PodEventsTotal.WithLabelValues("add").Inc()
		vs := governance.Evaluate(ev.Workload, ev.Policy, time.Now().Unix())
		m.aggregates[ev.Workload.Namespace] = governance.AddAggregate(m.aggregates[ev.Workload.Namespace], vs)
		m.byUID[ev.UID] = perWorkload{namespace: ev.Workload.Namespace, violations: vs}
	case EventUpdate:
		telemetry.PodEventsTotal.WithLabelValues("update").Inc()
		if prev, ok := m.byUID[ev.UID]; ok {
			m.aggregates[prev.namespace] = governance.SubtractAggregate(m.aggregates[prev.namespace], prev.violations)
		}
		vs := governance.Evaluate(ev.Workload, ev.Policy, time.Now().Unix())
		m.aggregates[ev.Workload.Namespace] = governance.AddAggregate(m.aggregates[ev.Workload.Namespace], vs)
		m.byUID[ev.UID] = perWorkload{namespace: ev.Workload.Namespace, violations: vs}
	case EventDelete:
		telemetry.PodEventsTotal.WithLabelValues("delete").Inc()
		if prev, ok := m.byUID[ev.UID]; ok {
			m.aggregates[prev.namespace] = governance.SubtractAggregate(m.aggregates[prev.namespace], prev.violations)
			delete(m.byUID, ev.UID)
		}
	}
	m.publishLocked()
}

// publishLocked recomputes and exports the per-namespace and
// cluster-wide gauges. Callers must hold m.mtx. ClusterHealthScore is
// the unweighted mean of per-namespace scores across namespaces that
// currently have at least one tracked pod, excluding system
// namespaces; a cluster with nothing to score reports 100.
func (m *Maintainer) publishLocked() {
	var sum uint
	var counted int
	for ns, agg := range m.aggregates {
		score := governance.Score(agg)
		telemetry.NamespaceHealthScore.WithLabelValues(ns).Set(float64(score))
		if agg.TotalPods > 0 && !governance.IsSystemNamespace(ns) {
			sum += score
			counted++
		}
	}
	clusterScore := uint(100)
	if counted > 0 {
		clusterScore = sum / uint(counted)
	}
	telemetry.ClusterHealthScore.Set(float64(clusterScore))
	telemetry.PodsTracked.Set(float64(len(m.byUID)))
}

// LeaderElectionConfig builds the client-go leader election
// configuration for the watch controller's cluster-wide Lease.
func LeaderElectionConfig(lock resourcelock.Interface, onStart func(context.Context), onStop func()) leaderelection.LeaderElectionConfig {
	return leaderelection.LeaderElectionConfig{
		Lock:          lock,
		LeaseDuration: DefaultLeaseDuration,
		RenewDeadline: DefaultRenewDeadline,
		RetryPeriod:   DefaultRetryPeriod,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				telemetry.LeaderStatus.Set(1)
				onStart(ctx)
			},
			OnStoppedLeading: func() {
				telemetry.LeaderStatus.Set(0)
				onStop()
			},
		},
	}
}

func logState(logger log.Logger, s state) {
	names := map[state]string{stateWaiting: "waiting", stateLeading: "leading", stateDraining: "draining"}
	level.Info(logger).Log("msg", "watch controller state", "state", names[s])
}
