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

package governance

import "math"

// Aggregate is the running per-namespace tally the watch controller
// maintains as workloads come and go. Counts saturate at math.MaxInt32
// instead of overflowing, and never go below zero.
type Aggregate struct {
	TotalPods        int32
	LatestTagCount   int32
	MissingLiveness  int32
	MissingReadiness int32
	MissingResources int32
	HighRestarts     int32
	PendingCount     int32
}

func saturatingAdd(a, b int32) int32 {
	sum := int64(a) + int64(b)
	if sum > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(sum)
}

func saturatingSub(a, b int32) int32 {
	diff := int64(a) - int64(b)
	if diff < 0 {
		return 0
	}
	return int32(diff)
}

// countsFor tallies how many violations of each type a workload
// contributed, for use by addAggregate/subtractAggregate.
func countsFor(vs []Violation) (latest, liveness, readiness, resources, restarts, pending int32) {
	for _, v := range vs {
		switch v.Type {
		case ViolationLatestTag:
			latest++
		case ViolationMissingLiveness:
			liveness++
		case ViolationMissingReadiness:
			readiness++
		case ViolationMissingResources:
			resources++
		case ViolationHighRestarts:
			restarts++
		case ViolationPending:
			pending++
		}
	}
	return
}

// AddAggregate folds a workload's violations into agg and returns the
// updated aggregate. The original is left untouched.
func AddAggregate(agg Aggregate, vs []Violation) Aggregate {
	latest, liveness, readiness, resources, restarts, pending := countsFor(vs)
	return Aggregate{
		TotalPods:        saturatingAdd(agg.TotalPods, 1),
		LatestTagCount:   saturatingAdd(agg.LatestTagCount, latest),
		MissingLiveness:  saturatingAdd(agg.MissingLiveness, liveness),
		MissingReadiness: saturatingAdd(agg.MissingReadiness, readiness),
		MissingResources: saturatingAdd(agg.MissingResources, resources),
		HighRestarts:     saturatingAdd(agg.HighRestarts, restarts),
		PendingCount:     saturatingAdd(agg.PendingCount, pending),
	}
}

// SubtractAggregate removes a previously-added workload's contribution
// from agg (used when a workload is deleted or re-evaluated). Every
// field saturates at zero rather than going negative, so a stale or
// duplicate removal can never corrupt the aggregate.
func SubtractAggregate(agg Aggregate, vs []Violation) Aggregate {
	latest, liveness, readiness, resources, restarts, pending := countsFor(vs)
	return Aggregate{
		TotalPods:        saturatingSub(agg.TotalPods, 1),
		LatestTagCount:   saturatingSub(agg.LatestTagCount, latest),
		MissingLiveness:  saturatingSub(agg.MissingLiveness, liveness),
		MissingReadiness: saturatingSub(agg.MissingReadiness, readiness),
		MissingResources: saturatingSub(agg.MissingResources, resources),
		HighRestarts:     saturatingSub(agg.HighRestarts, restarts),
		PendingCount:     saturatingSub(agg.PendingCount, pending),
	}
}
