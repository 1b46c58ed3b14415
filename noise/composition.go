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

package noise

import (
	"math"
)

// ComposeEpsilons returns the sequential composition of the given privacy
// losses: the cumulative ε of answering each query in turn is exactly the
// sum of the per-query ε values. This is the accounting rule used by the
// budget ledger.
func ComposeEpsilons(epsilons []float64) float64 {
	var total float64
	for _, e := range epsilons {
		total += e
	}
	return total
}

// SplitEpsilon divides a total privacy loss evenly over n releases so that
// sequential composition of the parts recovers the total. n must be
// positive.
func SplitEpsilon(total float64, n int) float64 {
	return total / float64(n)
}

// AdvancedComposition returns the tighter cumulative privacy loss
//
//	ε·sqrt(2k·ln(1/δ)) + k·ε·(e^ε - 1)
//
// for k releases at the same per-release ε, valid with failure probability
// δ. It is an alternative accounting strategy for institutions running many
// small queries; the default ledger uses sequential composition.
func AdvancedComposition(epsilon, delta float64, k int) float64 {
	kf := float64(k)
	return epsilon*math.Sqrt(2*kf*math.Log(1/delta)) + kf*epsilon*(math.Exp(epsilon)-1)
}
