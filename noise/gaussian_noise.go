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

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/lydianiq/civicgrid/rand"
)

// addGaussian perturbs value with a Gaussian sample of standard deviation
// σ = sqrt(2·ln(1.25/δ))·sensitivity/ε, the classical analytic calibration
// for (ε, δ)-differential privacy. The standard normal draw comes from the
// secure Box–Muller sampler.
func addGaussian(value, epsilon, delta, sensitivity float64) float64 {
	return value + sigmaForGaussian(epsilon, delta, sensitivity)*rand.Normal()
}

// sigmaForGaussian returns the noise standard deviation satisfying
// (ε, δ)-DP for the given sensitivity.
func sigmaForGaussian(epsilon, delta, sensitivity float64) float64 {
	return math.Sqrt(2*math.Log(1.25/delta)) * sensitivity / epsilon
}

// GaussianTailBound returns the magnitude that Gaussian noise calibrated to
// the given parameters stays below with probability 1-alpha. Institutions
// use it to judge how far a released value can plausibly sit from the truth.
func GaussianTailBound(p Parameters, alpha float64) float64 {
	sigma := sigmaForGaussian(p.Epsilon, p.Delta, p.Sensitivity)
	noiseDist := distuv.Normal{Mu: 0, Sigma: sigma}
	return noiseDist.Quantile(1 - alpha/2)
}
