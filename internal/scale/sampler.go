package scale

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/hive_monitor/internal/faults"
)

// Sampler produces outlier-resistant weight estimates in grams.
type Sampler struct {
	ctrl              *Controller
	minValid          int
	interReadingDelay time.Duration
	clock             clock.Clock
	logger            *zap.Logger
}

// SamplerOptions configures a Sampler.
type SamplerOptions struct {
	// MinValid is the minimum number of successful conversions needed before
	// trimming. Zero means 1.
	MinValid          int
	InterReadingDelay time.Duration
	Clock             clock.Clock
	Logger            *zap.Logger
}

// NewSampler returns a sampler that reads through ctrl's raw source and
// converts with ctrl's calibration.
func NewSampler(ctrl *Controller, opts SamplerOptions) *Sampler {
	s := &Sampler{
		ctrl:              ctrl,
		minValid:          opts.MinValid,
		interReadingDelay: opts.InterReadingDelay,
		clock:             opts.Clock,
		logger:            opts.Logger,
	}
	if s.minValid < 1 {
		s.minValid = 1
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// SampleFiltered takes readingCount raw reads, converts the valid ones to
// grams and returns their trimmed mean. floor(n*trimFraction) values are
// dropped from each tail, where n is the number of valid conversions.
func (s *Sampler) SampleFiltered(ctx context.Context, readingCount int, trimFraction float64) (float64, error) {
	if readingCount < 1 {
		return 0, fmt.Errorf("sample: reading count must be >= 1, got %d", readingCount)
	}
	if !validTrim(trimFraction) {
		return 0, fmt.Errorf("sample: trim fraction must be in [0, 0.5], got %v", trimFraction)
	}
	if !s.ctrl.Calibrated() {
		return 0, fmt.Errorf("sample: %w", faults.ErrNotCalibrated)
	}

	grams := make([]float64, 0, readingCount)
	failed := 0
	src := s.ctrl.Source()
	for i := 0; i < readingCount; i++ {
		if i > 0 {
			if err := sleep(ctx, s.clock, s.interReadingDelay); err != nil {
				return 0, fmt.Errorf("sample: %w", err)
			}
		}
		raw, err := src.ReadRaw(ctx)
		if err != nil {
			failed++
			continue
		}
		w, err := s.ctrl.WeightFromRaw(raw)
		if errors.Is(err, faults.ErrNotCalibrated) {
			// Re-tared underneath us; the readings so far use a stale factor.
			return 0, fmt.Errorf("sample: %w", err)
		}
		if err != nil || math.IsNaN(w) || math.IsInf(w, 0) {
			failed++
			continue
		}
		grams = append(grams, w)
	}

	if len(grams) < s.minValid {
		return 0, fmt.Errorf("sample: %w: %d of %d reads valid, need %d",
			faults.ErrInsufficientSamples, len(grams), readingCount, s.minValid)
	}
	if failed > 0 {
		s.logger.Debug("raw reads failed during sampling", zap.Int("failed", failed), zap.Int("requested", readingCount))
	}

	mean, err := TrimmedMean(grams, trimFraction)
	if err != nil {
		return 0, fmt.Errorf("sample: %w", err)
	}
	return mean, nil
}

// TrimmedMean sorts a copy of values (stable, ascending), drops
// floor(len*trimFraction) from each end and averages the rest.
// trimFraction must be in [0, 0.5].
func TrimmedMean(values []float64, trimFraction float64) (float64, error) {
	if !validTrim(trimFraction) {
		return 0, fmt.Errorf("trim fraction must be in [0, 0.5], got %v", trimFraction)
	}
	sorted := slices.Clone(values)
	slices.SortStableFunc(sorted, cmp.Compare[float64])

	k := int(math.Floor(float64(len(sorted)) * trimFraction))
	if 2*k >= len(sorted) {
		return 0, fmt.Errorf("%w: %d values, %d trimmed from each tail", faults.ErrEmptyAfterTrim, len(sorted), k)
	}
	return stat.Mean(sorted[k:len(sorted)-k], nil), nil
}

// validTrim is false for NaN.
func validTrim(f float64) bool {
	return f >= 0 && f <= 0.5
}
