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

import "testing"

func TestScoreBounds(t *testing.T) {
	cases := []struct {
		doc  string
		agg  Aggregate
		want uint
	}{
		{doc: "no pods scores perfect", agg: Aggregate{}, want: 100},
		{doc: "no violations scores perfect", agg: Aggregate{TotalPods: 10}, want: 100},
		{doc: "single pod, one of each weighted violation, scores 80", agg: Aggregate{
			TotalPods: 1, LatestTagCount: 1, MissingLiveness: 1, MissingReadiness: 1,
			HighRestarts: 1, PendingCount: 1,
		}, want: 80},
		{doc: "violations spread across many pods dilute penalty", agg: Aggregate{
			TotalPods: 100, LatestTagCount: 10,
		}, want: 100},
	}
	for _, c := range cases {
		t.Run(c.doc, func(t *testing.T) {
			if got := Score(c.agg); got != c.want {
				t.Errorf("Score(%+v) = %d, want %d", c.agg, got, c.want)
			}
			if got := Score(c.agg); got > 100 {
				t.Errorf("Score(%+v) = %d, exceeds upper bound of 100", c.agg, got)
			}
		})
	}
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		score uint
		want  Classification
	}{
		{100, ClassHealthy},
		{80, ClassHealthy},
		{79, ClassStable},
		{60, ClassStable},
		{59, ClassDegraded},
		{40, ClassDegraded},
		{39, ClassCritical},
		{0, ClassCritical},
	}
	for _, c := range cases {
		if got := Classify(c.score); got != c.want {
			t.Errorf("Classify(%d) = %q, want %q", c.score, got, c.want)
		}
	}
}
