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

package enforcement

import (
	"encoding/json"
	"testing"
)

func TestBuildMergePatchIsIdempotentShape(t *testing.T) {
	plan := Plan{
		Parent:     ParentRef{Namespace: "ns", Kind: "Deployment", Name: "api"},
		Containers: map[string]ContainerPatch{"app": {AddLivenessProbe: true}},
	}
	b1, err := BuildMergePatch(plan, DefaultProbe{}, DefaultResources{}, "workload-governor")
	if err != nil {
		t.Fatalf("BuildMergePatch(...) error = %v", err)
	}
	b2, err := BuildMergePatch(plan, DefaultProbe{}, DefaultResources{}, "workload-governor")
	if err != nil {
		t.Fatalf("BuildMergePatch(...) error = %v", err)
	}
	var m1, m2 map[string]interface{}
	if err := json.Unmarshal(b1, &m1); err != nil {
		t.Fatalf("unmarshal b1: %v", err)
	}
	if err := json.Unmarshal(b2, &m2); err != nil {
		t.Fatalf("unmarshal b2: %v", err)
	}
	if len(m1) != len(m2) {
		t.Errorf("BuildMergePatch(...) is not stable across calls: %v vs %v", m1, m2)
	}
	ann := m1["metadata"].(map[string]interface{})["annotations"].(map[string]interface{})
	if ann[PatchedByAnnotation] != "workload-governor" {
		t.Errorf("patch missing %s annotation: %v", PatchedByAnnotation, m1)
	}
}

func TestBuildMergePatchNoContainersOmitsSpec(t *testing.T) {
	plan := Plan{Parent: ParentRef{Namespace: "ns", Kind: "Deployment", Name: "api"}, Containers: map[string]ContainerPatch{}}
	b, err := BuildMergePatch(plan, DefaultProbe{}, DefaultResources{}, "workload-governor")
	if err != nil {
		t.Fatalf("BuildMergePatch(...) error = %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["spec"]; ok {
		t.Errorf("BuildMergePatch(...) with no container patches should omit spec, got %v", m)
	}
}

func TestDefaultProbeFallback(t *testing.T) {
	d := DefaultProbe{}.orFallback()
	if d != DefaultProbeFallback {
		t.Errorf("orFallback() = %+v, want %+v", d, DefaultProbeFallback)
	}
	custom := DefaultProbe{Port: 9000, InitialDelaySeconds: 5, PeriodSeconds: 5}
	if got := custom.orFallback(); got != custom {
		t.Errorf("orFallback() overrode a configured probe: %+v", got)
	}
}

func TestDefaultResourcesFallback(t *testing.T) {
	d := DefaultResources{}.orFallback()
	if d != DefaultResourcesFallback {
		t.Errorf("orFallback() = %+v, want %+v", d, DefaultResourcesFallback)
	}
	custom := DefaultResources{CPURequest: "200m", MemoryRequest: "256Mi", CPULimit: "1", MemoryLimit: "512Mi"}
	if got := custom.orFallback(); got != custom {
		t.Errorf("orFallback() overrode configured resources: %+v", got)
	}
}

func TestBuildMergePatchEmitsResourcesBlock(t *testing.T) {
	plan := Plan{
		Parent:     ParentRef{Namespace: "production", Kind: "Deployment", Name: "web"},
		Containers: map[string]ContainerPatch{"app": {AddResources: true}},
	}
	b, err := BuildMergePatch(plan, DefaultProbe{}, DefaultResources{CPURequest: "100m", MemoryRequest: "128Mi", CPULimit: "500m", MemoryLimit: "256Mi"}, "workload-governor")
	if err != nil {
		t.Fatalf("BuildMergePatch(...) error = %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	containers := m["spec"].(map[string]interface{})["template"].(map[string]interface{})["spec"].(map[string]interface{})["containers"].([]interface{})
	if len(containers) != 1 {
		t.Fatalf("containers = %v, want 1 entry", containers)
	}
	resources := containers[0].(map[string]interface{})["resources"].(map[string]interface{})
	requests := resources["requests"].(map[string]interface{})
	if requests["cpu"] != "100m" || requests["memory"] != "128Mi" {
		t.Errorf("requests = %v, want cpu=100m memory=128Mi", requests)
	}
	limits := resources["limits"].(map[string]interface{})
	if limits["cpu"] != "500m" || limits["memory"] != "256Mi" {
		t.Errorf("limits = %v, want cpu=500m memory=256Mi", limits)
	}
}
