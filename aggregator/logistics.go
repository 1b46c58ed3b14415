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

// LogisticsBottleneck reports noised average delivery delays per sub-area of
// the requested region, classified by severity. Sub-areas below k are
// dropped before noising. The affected-shipment percentage is a ratio of
// already-filtered, aggregated counts and is released without extra noise.
func (a *Aggregator) LogisticsBottleneck(ctx context.Context, req Request) (Insight, error) {
	if req.Region == "" {
		return Insight{}, ErrMissingRegion
	}

	delays, err := a.store.AreaDelays(ctx, featurestore.Query{
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
	var kept []featurestore.AreaDelay
	var totalShipments, keptShipments int64
	for _, d := range delays {
		totalShipments += d.ShipmentCount
		if kanon.Decide(d.ShipmentCount, "area:"+d.Area, a.kcfg) == kanon.Pass {
			kept = append(kept, d)
			keptShipments += d.ShipmentCount
		}
	}

	if len(kept) == 0 {
		return Insight{
			Metric: MetricLogisticsBottleneck,
			LogisticsBottleneck: &LogisticsBottleneckInsight{
				Region:     req.Region,
				K:          k,
				Suppressed: true,
			},
			PrivacyGuarantee: suppressedGuarantee(k),
		}, nil
	}

	perAreaEpsilon := noise.SplitEpsilon(req.DPEpsilon, len(kept))
	areaParams := a.params(perAreaEpsilon, delaySensitivity)

	areas := make([]BottleneckArea, 0, len(kept))
	for _, d := range kept {
		noisyDelay, err := a.noise.Apply(d.AvgDelayHours, areaParams)
		if err != nil {
			return Insight{}, fmt.Errorf("logistics bottleneck: %v", err)
		}
		if noisyDelay < 0 {
			noisyDelay = 0
		}
		areas = append(areas, BottleneckArea{
			Area:          d.Area,
			AvgDelayHours: noisyDelay,
			Severity:      classifySeverity(noisyDelay),
		})
	}

	var affected float64
	if totalShipments > 0 {
		affected = float64(keptShipments) / float64(totalShipments) * 100
	}

	total := a.totalParams(req.DPEpsilon, delaySensitivity)
	return Insight{
		Metric: MetricLogisticsBottleneck,
		LogisticsBottleneck: &LogisticsBottleneckInsight{
			Region:                   req.Region,
			Areas:                    areas,
			AffectedShipmentsPercent: affected,
			PerAreaEpsilon:           perAreaEpsilon,
			K:                        k,
		},
		DP:               total,
		PrivacyGuarantee: noise.Guarantee(*total),
	}, nil
}

func classifySeverity(delayHours float64) string {
	switch {
	case delayHours > severityHighHours:
		return "high"
	case delayHours > severityMediumHours:
		return "medium"
	default:
		return "low"
	}
}
