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

// Package kanon enforces k-anonymity on aggregates: any value computed over
// fewer than k underlying records is suppressed or generalized to a coarser
// grouping so that no individual can be isolated.
package kanon

import (
	log "github.com/golang/glog"

	"github.com/lydianiq/civicgrid/checks"
)

// DefaultK is the threshold applied when a Config does not set one.
const DefaultK = 5

// Config governs how aggregates below the threshold are handled.
type Config struct {
	// K is the minimum number of underlying records an aggregate must cover.
	K int
	// SuppressBelowK suppresses small aggregates outright. When false, the
	// aggregator retries at the next coarser level of GeneralizationLevels
	// before giving up.
	SuppressBelowK bool
	// GeneralizationLevels maps a dimension value to its ordered ladder of
	// coarser dimensions, e.g. city → [region, country].
	GeneralizationLevels map[string][]string
}

// Threshold returns the effective k of the config.
func (c Config) Threshold() int {
	if c.K == 0 {
		return DefaultK
	}
	if err := checks.CheckK(c.K); err != nil {
		log.Warningf("Threshold: %v, falling back to default k=%d", err, DefaultK)
		return DefaultK
	}
	return c.K
}

// Decision is the outcome of evaluating an aggregate's record count against
// the threshold.
type Decision int

const (
	// Pass releases the aggregate unchanged.
	Pass Decision = iota
	// Suppress withholds the aggregate: the caller must zero the value and
	// mark the result suppressed.
	Suppress
	// Generalize re-queries at the next coarser grouping.
	Generalize
)

// Decide evaluates the number of underlying records n for the given
// dimension. Generalize is only returned when the config allows it and a
// coarser level remains for the dimension; otherwise small aggregates are
// suppressed.
func Decide(n int64, dimension string, c Config) Decision {
	if n >= int64(c.Threshold()) {
		return Pass
	}
	if c.SuppressBelowK {
		return Suppress
	}
	if len(c.GeneralizationLevels[dimension]) > 0 {
		return Generalize
	}
	return Suppress
}

// NextLevel returns the next coarser dimension for the given one and the
// remaining ladder. ok is false when the ladder is exhausted.
func NextLevel(dimension string, c Config) (coarser string, ok bool) {
	ladder := c.GeneralizationLevels[dimension]
	if len(ladder) == 0 {
		return "", false
	}
	return ladder[0], true
}

// Quality labels how reliable an aggregate is, based on how far its average
// group count exceeds the threshold. It deliberately reveals only a coarse
// band, never exact counts.
type Quality string

// Quality bands for released aggregates.
const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// ClassifyQuality buckets the average group count relative to k: above 10k
// high, above 3k medium, low otherwise.
func ClassifyQuality(avgGroupCount float64, k int) Quality {
	switch {
	case avgGroupCount > 10*float64(k):
		return QualityHigh
	case avgGroupCount > 3*float64(k):
		return QualityMedium
	default:
		return QualityLow
	}
}
