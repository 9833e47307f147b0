// Package stats checks the real-time monitoring statistics a scan produces:
// that sample moments match the configured signal and that statistics files
// appear at the expected cadence.
package stats

import (
	"errors"
	"fmt"
	"math"
)

// SampleStatistics are the moments of one observed sample set.
type SampleStatistics struct {
	Mean       float64
	Variance   float64
	NumSamples int
}

// AssertStatistics checks that the sample mean and variance are within
// tolerance sigma of the population values, assuming the population is
// gaussian. The default tolerance is six sigma; pass 0 to use it.
func AssertStatistics(populationMean, populationVar float64, sample SampleStatistics, tolerance float64) error {
	if tolerance <= 0 {
		tolerance = 6.0
	}
	if sample.NumSamples < 2 {
		return fmt.Errorf("need at least 2 samples, got %d", sample.NumSamples)
	}

	n := float64(sample.NumSamples)
	s := populationVar
	// Fourth moment of a gaussian distribution.
	mu4 := 3.0 * s * s

	sigmaE := math.Sqrt(s / n)
	sigmaV := math.Sqrt((mu4 - (n-3)/(n-1)*s*s) / n)

	nSigmaE := math.Abs(sample.Mean-populationMean) / sigmaE
	nSigmaV := math.Abs(sample.Variance-s) / sigmaV

	if nSigmaE > tolerance || nSigmaV > tolerance {
		return fmt.Errorf(
			"expected sample mean (%0.6f) and variance (%0.3f) to be within %0.3f sigma of %0.6f and %0.3f respectively. n_sigma_e=%0.3f, n_sigma_v=%0.3f",
			sample.Mean, sample.Variance, tolerance, populationMean, s, nSigmaE, nSigmaV)
	}
	return nil
}

// ChannelStatistics are the observed moments of one frequency channel for a
// single polarization and complex dimension.
type ChannelStatistics struct {
	Channel int
	SampleStatistics
}

// AssertChannelStatistics checks every channel against the population
// moments, collecting all failures rather than stopping at the first.
func AssertChannelStatistics(channels []ChannelStatistics, populationMean, populationVar, tolerance float64) error {
	var errs []error
	for _, ch := range channels {
		if err := AssertStatistics(populationMean, populationVar, ch.SampleStatistics, tolerance); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", ch.Channel, err))
		}
	}
	return errors.Join(errs...)
}
