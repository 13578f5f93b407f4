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

// Package governance implements the pure evaluation engine: turning a
// workload description and a policy into violations, per-namespace
// aggregates, and a health score.
package governance

// Phase mirrors the subset of pod lifecycle phases the engine reasons
// about. Unknown covers any workload the caller could not classify.
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
	PhaseUnknown   Phase = "Unknown"
)

// OwnerRef is a minimal back-reference to a controlling resource.
type OwnerRef struct {
	Kind string
	Name string
}

// Container is the subset of a container's spec and status the engine
// checks. All fields are optional; a zero value means "no information
// available" and never produces a violation on its own.
type Container struct {
	Name string
	// Image is the container's image reference, e.g. "nginx:1.21" or
	// "nginx" or "nginx:latest".
	Image string
	// HasLivenessProbe and HasReadinessProbe report whether the
	// container declares each probe type.
	HasLivenessProbe  bool
	HasReadinessProbe bool
	// HasResourceRequests and HasResourceLimits report whether the
	// container declares any requests/limits block at all. The engine
	// does not validate quantities, only presence.
	HasResourceRequests bool
	HasResourceLimits   bool
	// Port is the first declared container port, if any. Zero means
	// no port was declared.
	Port int32
	// RestartCount is the observed restart count from container
	// status. Zero if unobserved.
	RestartCount int32
}

// Workload is an opaque description of a single pod-shaped resource.
// The engine never mutates it and never fails on partially-populated
// values: a Workload with a nil or empty Containers slice simply
// contributes no per-container violations.
type Workload struct {
	Namespace string
	Name      string
	Phase     Phase
	Containers []Container
	OwnerRefs  []OwnerRef
	// CreationTimestamp, in unix seconds, backs the
	// forbidPendingDuration check. Zero means unknown and the check
	// never fires.
	CreationTimestampUnix int64
}
