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

package rand

import (
	"bufio"
	"bytes"
	cryptorand "crypto/rand"
	"math"
	"testing"

	"github.com/grd/stat"
)

func TestBooleanBufIsShifting(t *testing.T) {
	randBuf = bytes.NewReader([]byte{
		0b00100100,
		0b10010000,
	})
	for pos, want := range []bool{
		// first byte
		false,
		false,
		true,
		false,
		false,
		true,
		false,
		false,
		// second byte
		false,
		false,
		false,
		false,
		true,
		false,
		false,
		true,
	} {
		if got := Boolean(); got != want {
			t.Errorf("Boolean: got %v, want %v in %v-th iteration", got, want, pos)
		}
	}
	// Restore the crypto-backed reader for the remaining tests.
	randBuf = bufio.NewReaderSize(cryptorand.Reader, 65536)
}

func TestUniformStaysInUnitInterval(t *testing.T) {
	for i := 0; i < 100000; i++ {
		u := Uniform()
		if u <= 0 || u > 1 {
			t.Fatalf("Uniform() = %f, want within (0, 1]", u)
		}
	}
}

func TestNormalStatistics(t *testing.T) {
	const numberOfSamples = 125000
	samples := make(stat.Float64Slice, numberOfSamples)
	for i := 0; i < numberOfSamples; i++ {
		samples[i] = Normal()
	}
	sampleMean, sampleVariance := stat.Mean(samples), stat.Variance(samples)
	// The sample mean of standard normal draws is approximately Gaussian with
	// mean 0 and standard deviation 1/sqrt(numberOfSamples). The tolerance is
	// the 99.9995% quantile of that distribution, so the test falsely rejects
	// with a probability of about 10⁻⁵.
	meanErrorTolerance := 4.41717 * math.Sqrt(1.0/float64(numberOfSamples))
	varianceErrorTolerance := 4.41717 * math.Sqrt2 * math.Sqrt(1.0/float64(numberOfSamples))
	if math.Abs(sampleMean) > meanErrorTolerance {
		t.Errorf("Normal: got mean %f, want 0 (tolerance %f)", sampleMean, meanErrorTolerance)
	}
	if math.Abs(sampleVariance-1.0) > varianceErrorTolerance {
		t.Errorf("Normal: got variance %f, want 1 (tolerance %f)", sampleVariance, varianceErrorTolerance)
	}
}

func TestSignIsBalanced(t *testing.T) {
	const numberOfSamples = 100000
	var positives int
	for i := 0; i < numberOfSamples; i++ {
		if Sign() > 0 {
			positives++
		}
	}
	// 6 sigma band around the binomial mean.
	deviation := 6.0 * math.Sqrt(float64(numberOfSamples)) / 2.0
	if math.Abs(float64(positives)-numberOfSamples/2.0) > deviation {
		t.Errorf("Sign: got %d positive out of %d samples", positives, numberOfSamples)
	}
}
