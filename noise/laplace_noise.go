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

	"github.com/lydianiq/civicgrid/rand"
)

// addLaplace perturbs value with a Laplace(0, b) sample, b = sensitivity/ε,
// via inverse-CDF sampling: for u ~ Uniform(-0.5, 0.5) the value
// -b·sign(u)·ln(1-2|u|) follows the Laplace distribution with scale b.
func addLaplace(value, epsilon, sensitivity float64) float64 {
	b := sensitivity / epsilon
	u := rand.Uniform() - 0.5
	return value - b*sign(u)*math.Log(1-2*math.Abs(u))
}

// laplaceVariance is the variance 2b² of a Laplace(0, b) sample with
// b = sensitivity/ε. Exported for statistical tests via noise_test.
func laplaceVariance(epsilon, sensitivity float64) float64 {
	b := sensitivity / epsilon
	return 2 * b * b
}

// confidenceAdvantage is the bound 1−e^(−ε) on how much an adversary's
// posterior confidence about any individual's inclusion can exceed their
// prior after observing an ε-DP release.
func confidenceAdvantage(epsilon float64) float64 {
	return 1 - math.Exp(-epsilon)
}

func sign(u float64) float64 {
	if u < 0 {
		return -1.0
	}
	return 1.0
}
