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

// Package checks contains validity checks for differentially private
// aggregation parameters.
package checks

import (
	"fmt"
	"math"
)

// CheckEpsilonStrict returns an error if ε is nonpositive, +∞ or NaN.
func CheckEpsilonStrict(epsilon float64) error {
	if epsilon <= 0 || math.IsInf(epsilon, 0) || math.IsNaN(epsilon) {
		return fmt.Errorf("Epsilon is %f, must be strictly positive and finite", epsilon)
	}
	return nil
}

// CheckEpsilonRange returns an error if ε lies outside [lower, upper].
// Used to enforce the per-request ε window accepted by the query API.
func CheckEpsilonRange(epsilon, lower, upper float64) error {
	if err := CheckEpsilonStrict(epsilon); err != nil {
		return err
	}
	if epsilon < lower || epsilon > upper {
		return fmt.Errorf("Epsilon is %f, must be within [%f, %f]", epsilon, lower, upper)
	}
	return nil
}

// CheckDeltaStrict returns an error if δ is nonpositive or greater than or equal to 1.
func CheckDeltaStrict(delta float64) error {
	if math.IsNaN(delta) {
		return fmt.Errorf("Delta is %e, cannot be NaN", delta)
	}
	if delta <= 0 {
		return fmt.Errorf("Delta is %e, must be strictly positive", delta)
	}
	if delta >= 1 {
		return fmt.Errorf("Delta is %e, must be strictly less than 1", delta)
	}
	return nil
}

// CheckNoDelta returns an error if δ is non-zero. The Laplace mechanism
// does not consume a δ parameter.
func CheckNoDelta(delta float64) error {
	if delta != 0 {
		return fmt.Errorf("Delta is %e, must be 0", delta)
	}
	return nil
}

// CheckSensitivity returns an error if the sensitivity is nonpositive or +∞.
func CheckSensitivity(sensitivity float64) error {
	if sensitivity <= 0 || math.IsInf(sensitivity, 0) || math.IsNaN(sensitivity) {
		return fmt.Errorf("Sensitivity is %f, must be strictly positive and finite", sensitivity)
	}
	return nil
}

// CheckK returns an error if the k-anonymity threshold is less than 1.
func CheckK(k int) error {
	if k < 1 {
		return fmt.Errorf("K is %d, must be at least 1", k)
	}
	return nil
}

// CheckEpsilonBudget returns an error if a daily ε budget is nonpositive or +∞.
func CheckEpsilonBudget(budget float64) error {
	if budget <= 0 || math.IsInf(budget, 0) || math.IsNaN(budget) {
		return fmt.Errorf("EpsilonBudget is %f, must be strictly positive and finite", budget)
	}
	return nil
}

// CheckRateLimit returns an error if a daily request ceiling is nonpositive.
func CheckRateLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("RateLimit is %d, must be strictly positive", limit)
	}
	return nil
}
