//
// Copyright 2025 Civic Grid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package stattestutils

import (
	"math"
	"testing"
)

func TestSampleMean(t *testing.T) {
	for _, tc := range []struct {
		desc   string
		values []float64
		want   float64
	}{
		{"empty slice", nil, 0},
		{"single value", []float64{3.5}, 3.5},
		{"several values", []float64{1, 2, 3, 4}, 2.5},
	} {
		if got := SampleMean(tc.values); got != tc.want {
			t.Errorf("%s: SampleMean(%v) = %f, want %f", tc.desc, tc.values, got, tc.want)
		}
	}
}

func TestSampleVariance(t *testing.T) {
	for _, tc := range []struct {
		desc   string
		values []float64
		want   float64
	}{
		{"empty slice", nil, 0},
		{"constant values", []float64{2, 2, 2}, 0},
		{"symmetric values", []float64{-1, 1}, 1},
	} {
		if got := SampleVariance(tc.values); got != tc.want {
			t.Errorf("%s: SampleVariance(%v) = %f, want %f", tc.desc, tc.values, got, tc.want)
		}
	}
}

func TestSampleStdDev(t *testing.T) {
	if got := SampleStdDev([]float64{-2, 2}); math.Abs(got-2) > 1e-12 {
		t.Errorf("SampleStdDev([-2, 2]) = %f, want 2", got)
	}
}
