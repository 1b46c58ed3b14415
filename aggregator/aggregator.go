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

// Package aggregator turns raw feature-store aggregates into privacy-safe
// civic insights. Every released number passes the k-anonymity filter and
// the DP engine; nothing below the k threshold ever reaches a response, not
// even in noised form.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lydianiq/civicgrid/checks"
	"github.com/lydianiq/civicgrid/featurestore"
	"github.com/lydianiq/civicgrid/kanon"
	"github.com/lydianiq/civicgrid/noise"
)

// Metric identifies an insight type.
type Metric string

// Metrics the engine can answer.
const (
	MetricPriceTrend          Metric = "price_trend"
	MetricReturnRate          Metric = "return_rate"
	MetricLogisticsBottleneck Metric = "logistics_bottleneck"
	MetricSalesVolume         Metric = "sales_volume"
)

// ToMetric parses a metric name.
func ToMetric(s string) (Metric, bool) {
	switch Metric(s) {
	case MetricPriceTrend, MetricReturnRate, MetricLogisticsBottleneck, MetricSalesVolume:
		return Metric(s), true
	}
	return "", false
}

// Sensitivities of the released aggregates: the most a single underlying
// record can move each true value.
const (
	// priceSensitivity bounds one transaction's contribution to a bucket's
	// average price, in currency units.
	priceSensitivity = 10.0
	// returnRateSensitivity reflects that one order changes the return rate
	// by at most one count.
	returnRateSensitivity = 1.0
	// delaySensitivity bounds one shipment's contribution to an area's
	// average delay, in hours.
	delaySensitivity = 2.0
	// salesSensitivity reflects that one record changes a bucket's order
	// count by at most one.
	salesSensitivity = 1.0
)

// Severity thresholds for logistics delays, in hours.
const (
	severityHighHours   = 4.0
	severityMediumHours = 2.0
)

// Errors surfaced to the orchestration layer.
var (
	// ErrUnsupportedMetric reports a metric the aggregator cannot answer.
	ErrUnsupportedMetric = errors.New("unsupported metric")
	// ErrMissingRegion reports a logistics query without a region.
	ErrMissingRegion = errors.New("logistics bottleneck queries require a region")
)

// Request is a validated insight query.
type Request struct {
	Metric      Metric
	Region      string
	Sector      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Granularity featurestore.Granularity
	// DPEpsilon is the total privacy loss of the whole insight. Multi-point
	// series split it across points so sequential composition recovers
	// exactly this value.
	DPEpsilon float64
}

// PricePoint is one released bucket of a price series.
type PricePoint struct {
	PeriodStart time.Time `json:"period_start"`
	AvgPrice    float64   `json:"avg_price"`
}

// PriceTrendInsight reports a noised price series and its period-over-period
// change.
type PriceTrendInsight struct {
	Points           []PricePoint  `json:"points"`
	ChangePercent    float64       `json:"change_percent"`
	DataQuality      kanon.Quality `json:"data_quality"`
	PerPointEpsilon  float64       `json:"per_point_epsilon"`
	K                int           `json:"k"`
	Suppressed       bool          `json:"suppressed"`
	SuppressedPoints int           `json:"suppressed_points"`
}

// ReturnRateInsight reports a noised return rate, clamped to [0, 100].
type ReturnRateInsight struct {
	ReturnRatePercent float64 `json:"return_rate_percent"`
	Region            string  `json:"region,omitempty"`
	K                 int     `json:"k"`
	Suppressed        bool    `json:"suppressed"`
}

// BottleneckArea is one released sub-area of a logistics insight.
type BottleneckArea struct {
	Area          string  `json:"area"`
	AvgDelayHours float64 `json:"avg_delay_hours"`
	Severity      string  `json:"severity"`
}

// LogisticsBottleneckInsight reports noised delivery delays per sub-area of
// the requested region.
type LogisticsBottleneckInsight struct {
	Region                   string           `json:"region"`
	Areas                    []BottleneckArea `json:"areas"`
	AffectedShipmentsPercent float64          `json:"affected_shipments_percent"`
	PerAreaEpsilon           float64          `json:"per_area_epsilon"`
	K                        int              `json:"k"`
	Suppressed               bool             `json:"suppressed"`
}

// SalesPoint is one released bucket of an order volume series.
type SalesPoint struct {
	PeriodStart time.Time `json:"period_start"`
	Orders      int64     `json:"orders"`
}

// SalesVolumeInsight reports a noised order volume series.
type SalesVolumeInsight struct {
	Points          []SalesPoint `json:"points"`
	PerPointEpsilon float64      `json:"per_point_epsilon"`
	K               int          `json:"k"`
	Suppressed      bool         `json:"suppressed"`
}

// Insight is the tagged union of the insight variants. Exactly one variant
// matching Metric is set; callers branch on the tag, never on type identity.
type Insight struct {
	Metric              Metric                      `json:"metric"`
	PriceTrend          *PriceTrendInsight          `json:"price_trend,omitempty"`
	ReturnRate          *ReturnRateInsight          `json:"return_rate,omitempty"`
	LogisticsBottleneck *LogisticsBottleneckInsight `json:"logistics_bottleneck,omitempty"`
	SalesVolume         *SalesVolumeInsight         `json:"sales_volume,omitempty"`
	// DP holds the parameters of the noise applied to this insight. Nil when
	// the whole result was suppressed, since no noise was drawn.
	DP *noise.Parameters `json:"dp_parameters,omitempty"`
	// PrivacyGuarantee restates the DP guarantee in prose for auditors.
	PrivacyGuarantee string `json:"privacy_guarantee"`
}

// Options configures an Aggregator.
type Options struct {
	Store featurestore.Store // required
	// Noise defaults to the secure sampler. Tests inject counting doubles.
	Noise noise.Noise
	// KAnonymity defaults to suppression at k=5.
	KAnonymity kanon.Config
	// Mechanism defaults to Laplace. Gaussian requires Delta.
	Mechanism noise.Mechanism
	Delta     float64
}

// Aggregator computes the civic insights. It is a pure function of the
// feature store's answers and the injected noise source, and is safe for
// concurrent use.
type Aggregator struct {
	store     featurestore.Store
	noise     noise.Noise
	kcfg      kanon.Config
	mechanism noise.Mechanism
	delta     float64
}

// New validates the options and returns an Aggregator.
func New(opt *Options) (*Aggregator, error) {
	if opt == nil || opt.Store == nil {
		return nil, fmt.Errorf("aggregator: feature store is required")
	}
	n := opt.Noise
	if n == nil {
		n = noise.Secure()
	}
	mech := opt.Mechanism
	if mech == "" {
		mech = noise.LaplaceMechanism
	}
	if mech == noise.GaussianMechanism {
		if err := checks.CheckDeltaStrict(opt.Delta); err != nil {
			return nil, fmt.Errorf("aggregator: %v", err)
		}
	}
	kcfg := opt.KAnonymity
	if kcfg.K == 0 {
		kcfg.K = kanon.DefaultK
	}
	if err := checks.CheckK(kcfg.K); err != nil {
		return nil, fmt.Errorf("aggregator: %v", err)
	}
	return &Aggregator{
		store:     opt.Store,
		noise:     n,
		kcfg:      kcfg,
		mechanism: mech,
		delta:     opt.Delta,
	}, nil
}

// Aggregate dispatches the request to the computation matching its metric.
func (a *Aggregator) Aggregate(ctx context.Context, req Request) (Insight, error) {
	switch req.Metric {
	case MetricPriceTrend:
		return a.PriceTrend(ctx, req)
	case MetricReturnRate:
		return a.ReturnRate(ctx, req)
	case MetricLogisticsBottleneck:
		return a.LogisticsBottleneck(ctx, req)
	case MetricSalesVolume:
		return a.SalesVolume(ctx, req)
	}
	return Insight{}, fmt.Errorf("%w: %q", ErrUnsupportedMetric, req.Metric)
}

// params builds the noise parameters for a release with the given ε and
// sensitivity under the configured mechanism.
func (a *Aggregator) params(epsilon, sensitivity float64) noise.Parameters {
	return noise.Parameters{
		Epsilon:     epsilon,
		Delta:       a.delta,
		Sensitivity: sensitivity,
		Mechanism:   a.mechanism,
	}
}

// totalParams is the composed privacy cost tag attached to the insight.
func (a *Aggregator) totalParams(totalEpsilon, sensitivity float64) *noise.Parameters {
	p := a.params(totalEpsilon, sensitivity)
	return &p
}
