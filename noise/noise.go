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

// Package noise implements the differential privacy mechanisms of the
// aggregation engine. It adds calibrated Laplace or Gaussian noise to true
// aggregate values and computes privacy-budget composition across repeated
// queries.
package noise

import (
	"fmt"

	log "github.com/golang/glog"

	"github.com/lydianiq/civicgrid/checks"
)

// Mechanism identifies the noise distribution used to achieve differential
// privacy.
type Mechanism string

// Mechanisms supported by the engine.
const (
	LaplaceMechanism  Mechanism = "laplace"
	GaussianMechanism Mechanism = "gaussian"
)

// ToMechanism parses a mechanism name. It returns an error for unknown names.
func ToMechanism(s string) (Mechanism, error) {
	switch Mechanism(s) {
	case LaplaceMechanism:
		return LaplaceMechanism, nil
	case GaussianMechanism:
		return GaussianMechanism, nil
	}
	return "", fmt.Errorf("unknown noise mechanism %q", s)
}

// Parameters holds the privacy parameters of a single noisy release. A
// Parameters value is immutable once constructed and is echoed on every
// insight response for auditability.
type Parameters struct {
	Epsilon     float64   `json:"epsilon"`
	Delta       float64   `json:"delta,omitempty"`
	Sensitivity float64   `json:"sensitivity"`
	Mechanism   Mechanism `json:"mechanism"`
}

// Validate returns an error if the parameters cannot produce a well-defined
// privacy guarantee. The Gaussian mechanism requires δ; Laplace forbids it.
func (p Parameters) Validate() error {
	if err := checks.CheckEpsilonStrict(p.Epsilon); err != nil {
		return err
	}
	if err := checks.CheckSensitivity(p.Sensitivity); err != nil {
		return err
	}
	switch p.Mechanism {
	case LaplaceMechanism:
		return checks.CheckNoDelta(p.Delta)
	case GaussianMechanism:
		return checks.CheckDeltaStrict(p.Delta)
	}
	return fmt.Errorf("unknown noise mechanism %q", p.Mechanism)
}

// Noise is an interface for primitives that add noise to a true aggregate
// value to make it differentially private. The aggregator takes a Noise so
// tests can substitute deterministic instances.
type Noise interface {
	// Apply returns value perturbed according to p. It fails without
	// sampling if p is invalid.
	Apply(value float64, p Parameters) (float64, error)
}

type secure struct{}

// Secure returns a Noise instance whose samples are drawn from a
// cryptographically secure source. This is the only instance that may be
// used outside of tests.
func Secure() Noise {
	return secure{}
}

func (secure) Apply(value float64, p Parameters) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	switch p.Mechanism {
	case LaplaceMechanism:
		return addLaplace(value, p.Epsilon, p.Sensitivity), nil
	case GaussianMechanism:
		return addGaussian(value, p.Epsilon, p.Delta, p.Sensitivity), nil
	}
	// Validate has already rejected unknown mechanisms.
	log.Warningf("Apply: unreachable mechanism %q", p.Mechanism)
	return 0, fmt.Errorf("unknown noise mechanism %q", p.Mechanism)
}

// Guarantee renders the human-readable privacy guarantee of a release made
// with the given parameters. For Laplace it states the bound on an
// adversary's confidence advantage, 1−e^(−ε); for Gaussian it states the
// (ε, δ) pair and the failure probability δ.
func Guarantee(p Parameters) string {
	switch p.Mechanism {
	case GaussianMechanism:
		return fmt.Sprintf(
			"(ε=%.2f, δ=%.0e)-differential privacy: the guarantee may fail with probability at most %.0e; with 95%% probability the added noise stays within ±%.2f.",
			p.Epsilon, p.Delta, p.Delta, GaussianTailBound(p, 0.05))
	default:
		return fmt.Sprintf(
			"ε=%.2f-differential privacy: an adversary cannot improve their confidence about any individual's inclusion by more than %.1f%%.",
			p.Epsilon, confidenceAdvantage(p.Epsilon)*100)
	}
}
