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

package aggregator

import (
	"context"
	"fmt"

	"github.com/lydianiq/civicgrid/featurestore"
	"github.com/lydianiq/civicgrid/kanon"
	"github.com/lydianiq/civicgrid/noise"
)

// ReturnRate computes a noised return-rate percentage. When the population
// is below k the result is fully suppressed and the DP engine is never
// invoked: a suppressed result must not leak even noisy signal. When the
// k-anonymity config allows generalization, the query walks the region
// ladder to coarser groupings before giving up.
func (a *Aggregator) ReturnRate(ctx context.Context, req Request) (Insight, error) {
	k := a.kcfg.Threshold()
	q := featurestore.Query{
		Region:      req.Region,
		Sector:      req.Sector,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		Granularity: req.Granularity,
	}

	counts, region, suppressed, err := a.returnCountsGeneralized(ctx, q)
	if err != nil {
		return Insight{}, err
	}
	if suppressed {
		return Insight{
			Metric: MetricReturnRate,
			ReturnRate: &ReturnRateInsight{
				ReturnRatePercent: 0,
				Region:            req.Region,
				K:                 k,
				Suppressed:        true,
			},
			PrivacyGuarantee: suppressedGuarantee(k),
		}, nil
	}

	trueRate := float64(counts.Returns) / float64(counts.TotalOrders) * 100
	params := a.params(req.DPEpsilon, returnRateSensitivity)
	noisy, err := a.noise.Apply(trueRate, params)
	if err != nil {
		return Insight{}, fmt.Errorf("return rate: %v", err)
	}
	// A rate outside [0, 100] is impossible; clamping leaks nothing because
	// the bounds are data-independent.
	noisy = clamp(noisy, 0, 100)

	total := a.totalParams(req.DPEpsilon, returnRateSensitivity)
	return Insight{
		Metric: MetricReturnRate,
		ReturnRate: &ReturnRateInsight{
			ReturnRatePercent: noisy,
			Region:            region,
			K:                 k,
		},
		DP:               total,
		PrivacyGuarantee: noise.Guarantee(*total),
	}, nil
}

// returnCountsGeneralized fetches return counts, walking the generalization
// ladder of the region dimension while the population stays below k. It
// reports the region finally used, or suppressed=true when no level
// satisfies the threshold.
func (a *Aggregator) returnCountsGeneralized(ctx context.Context, q featurestore.Query) (featurestore.ReturnCounts, string, bool, error) {
	// A cyclic ladder config must not loop forever.
	for depth := 0; depth < 8; depth++ {
		counts, err := a.store.ReturnCounts(ctx, q)
		if err != nil {
			return featurestore.ReturnCounts{}, "", false, err
		}
		switch kanon.Decide(counts.TotalOrders, regionDimension(q.Region), a.kcfg) {
		case kanon.Pass:
			return counts, q.Region, false, nil
		case kanon.Generalize:
			coarser, ok := kanon.NextLevel(regionDimension(q.Region), a.kcfg)
			if !ok {
				return featurestore.ReturnCounts{}, "", true, nil
			}
			q.Region = trimDimension(coarser)
		default:
			return featurestore.ReturnCounts{}, "", true, nil
		}
	}
	return featurestore.ReturnCounts{}, "", true, nil
}

func trimDimension(d string) string {
	const prefix = "region:"
	if len(d) > len(prefix) && d[:len(prefix)] == prefix {
		return d[len(prefix):]
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
