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
	"math"

	"github.com/lydianiq/civicgrid/featurestore"
	"github.com/lydianiq/civicgrid/kanon"
	"github.com/lydianiq/civicgrid/noise"
)

// PriceTrend computes a noised per-bucket price series and its
// period-over-period change. Buckets covering fewer than k records are
// dropped before any noise is drawn; the percent change is computed from the
// noisy series so the released numbers are mutually consistent.
func (a *Aggregator) PriceTrend(ctx context.Context, req Request) (Insight, error) {
	buckets, err := a.store.PriceBuckets(ctx, featurestore.Query{
		Region:      req.Region,
		Sector:      req.Sector,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		Granularity: req.Granularity,
	})
	if err != nil {
		return Insight{}, err
	}

	k := a.kcfg.Threshold()
	var kept []featurestore.PriceBucket
	for _, b := range buckets {
		if kanon.Decide(b.RecordCount, regionDimension(req.Region), a.kcfg) == kanon.Pass {
			kept = append(kept, b)
		}
	}
	suppressedPoints := len(buckets) - len(kept)

	if len(kept) == 0 {
		return Insight{
			Metric: MetricPriceTrend,
			PriceTrend: &PriceTrendInsight{
				DataQuality:      kanon.QualityLow,
				K:                k,
				Suppressed:       true,
				SuppressedPoints: suppressedPoints,
			},
			PrivacyGuarantee: suppressedGuarantee(k),
		}, nil
	}

	perPointEpsilon := noise.SplitEpsilon(req.DPEpsilon, len(kept))
	pointParams := a.params(perPointEpsilon, priceSensitivity)

	points := make([]PricePoint, 0, len(kept))
	var totalCount int64
	for _, b := range kept {
		noisy, err := a.noise.Apply(b.AvgPrice, pointParams)
		if err != nil {
			return Insight{}, fmt.Errorf("price trend: %v", err)
		}
		points = append(points, PricePoint{PeriodStart: b.Start, AvgPrice: noisy})
		totalCount += b.RecordCount
	}

	avgGroupCount := float64(totalCount) / float64(len(kept))
	total := a.totalParams(req.DPEpsilon, priceSensitivity)

	return Insight{
		Metric: MetricPriceTrend,
		PriceTrend: &PriceTrendInsight{
			Points:           points,
			ChangePercent:    changePercent(points),
			DataQuality:      kanon.ClassifyQuality(avgGroupCount, k),
			PerPointEpsilon:  perPointEpsilon,
			K:                k,
			SuppressedPoints: suppressedPoints,
		},
		DP:               total,
		PrivacyGuarantee: noise.Guarantee(*total),
	}, nil
}

// changePercent is the relative change from the first to the last noisy
// point.
func changePercent(points []PricePoint) float64 {
	if len(points) < 2 {
		return 0
	}
	first, last := points[0].AvgPrice, points[len(points)-1].AvgPrice
	if math.Abs(first) < 1e-9 {
		return 0
	}
	return (last - first) / first * 100
}

func regionDimension(region string) string {
	if region == "" {
		return "region:all"
	}
	return "region:" + region
}

func suppressedGuarantee(k int) string {
	return fmt.Sprintf("Result suppressed: fewer than k=%d underlying records. No noised value was released.", k)
}
