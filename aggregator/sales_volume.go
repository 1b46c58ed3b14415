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

// SalesVolume computes a noised per-bucket order volume series. Counts are
// rounded to integers after noising and floored at zero.
func (a *Aggregator) SalesVolume(ctx context.Context, req Request) (Insight, error) {
	buckets, err := a.store.SalesTotals(ctx, featurestore.Query{
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
	var kept []featurestore.SalesBucket
	for _, b := range buckets {
		if kanon.Decide(b.RecordCount, regionDimension(req.Region), a.kcfg) == kanon.Pass {
			kept = append(kept, b)
		}
	}

	if len(kept) == 0 {
		return Insight{
			Metric: MetricSalesVolume,
			SalesVolume: &SalesVolumeInsight{
				K:          k,
				Suppressed: true,
			},
			PrivacyGuarantee: suppressedGuarantee(k),
		}, nil
	}

	perPointEpsilon := noise.SplitEpsilon(req.DPEpsilon, len(kept))
	pointParams := a.params(perPointEpsilon, salesSensitivity)

	points := make([]SalesPoint, 0, len(kept))
	for _, b := range kept {
		noisy, err := a.noise.Apply(float64(b.Orders), pointParams)
		if err != nil {
			return Insight{}, fmt.Errorf("sales volume: %v", err)
		}
		orders := int64(math.Round(noisy))
		if orders < 0 {
			orders = 0
		}
		points = append(points, SalesPoint{PeriodStart: b.Start, Orders: orders})
	}

	total := a.totalParams(req.DPEpsilon, salesSensitivity)
	return Insight{
		Metric: MetricSalesVolume,
		SalesVolume: &SalesVolumeInsight{
			Points:          points,
			PerPointEpsilon: perPointEpsilon,
			K:               k,
		},
		DP:               total,
		PrivacyGuarantee: noise.Guarantee(*total),
	}, nil
}
