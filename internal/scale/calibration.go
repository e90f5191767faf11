// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package scale turns raw load-cell amplifier counts into weights in grams.
//
// A Controller holds the zero offset and scale factor. The zero offset comes
// from Tare with the scale unloaded; the scale factor comes from Calibrate
// with a known weight on the platform. Conversion at query time is
//
//	grams = (raw - zeroOffset) / scaleFactor
//
// and Calibrate derives scaleFactor = (rawMean - zeroOffset) / knownGrams, so
// the two are algebraic inverses.
package scale

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/hive_monitor/internal/faults"
)

// RawSampleSource yields one raw reading from the load-cell amplifier.
// Reads may fail transiently.
type RawSampleSource interface {
	ReadRaw(ctx context.Context) (float64, error)
}

// ErrInvalidWeight is returned by Calibrate for a non-positive known weight.
var ErrInvalidWeight = errors.New("known weight must be a positive number of grams")

// State is a snapshot of the calibration parameters.
type State struct {
	ZeroOffset   float64 `json:"zero_offset"`
	ScaleFactor  float64 `json:"scale_factor"`
	IsTared      bool    `json:"is_tared"`
	IsCalibrated bool    `json:"is_calibrated"`
}

// AcquireOptions controls how Tare and Calibrate collect raw samples.
type AcquireOptions struct {
	Readings          int           // raw reads per operation
	MinValid          int           // fewer valid reads than this fails with ErrInsufficientSamples
	SettleDelay       time.Duration // wait before the first read
	InterReadingDelay time.Duration // wait between reads, lets the amplifier finish a conversion
}

// DefaultAcquireOptions mirrors the field procedure: 2 s settle, 50 reads 100 ms apart.
var DefaultAcquireOptions = AcquireOptions{
	Readings:          50,
	MinValid:          1,
	SettleDelay:       2 * time.Second,
	InterReadingDelay: 100 * time.Millisecond,
}

// Controller owns the calibration state. It is safe for concurrent use:
// Tare, Calibrate and Restore take the write lock only to publish their
// result, WeightFromRaw takes the read lock.
type Controller struct {
	src    RawSampleSource
	opts   AcquireOptions
	clock  clock.Clock
	logger *zap.Logger

	mu    sync.RWMutex
	state State
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock used for settle and inter-reading delays.
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithLogger sets the controller logger.
func WithLogger(l *zap.Logger) Option {
	return func(ctrl *Controller) { ctrl.logger = l }
}

// NewController returns an untared, uncalibrated controller reading from src.
func NewController(src RawSampleSource, opts AcquireOptions, options ...Option) (*Controller, error) {
	if src == nil {
		return nil, errors.New("scale: nil raw sample source")
	}
	if opts.Readings < 1 {
		return nil, fmt.Errorf("scale: readings per operation must be >= 1, got %d", opts.Readings)
	}
	if opts.MinValid < 1 {
		opts.MinValid = 1
	}
	if opts.MinValid > opts.Readings {
		return nil, fmt.Errorf("scale: minimum valid readings %d exceeds readings %d", opts.MinValid, opts.Readings)
	}
	c := &Controller{
		src:    src,
		opts:   opts,
		clock:  clock.New(),
		logger: zap.NewNop(),
	}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

// Tare measures the zero offset. The platform must be unloaded; software
// cannot check that. A successful tare clears any previous calibration
// because the scale factor is relative to the zero offset. On failure the
// previous state is left untouched.
func (c *Controller) Tare(ctx context.Context) (float64, error) {
	c.logger.Info("taring scale, platform must be empty and stable")
	mean, err := c.acquireMean(ctx)
	if err != nil {
		return 0, fmt.Errorf("tare: %w", err)
	}

	c.mu.Lock()
	c.state.ZeroOffset = mean
	c.state.IsTared = true
	c.state.IsCalibrated = false
	c.state.ScaleFactor = 0
	c.mu.Unlock()

	c.logger.Info("tare complete", zap.Float64("zero_offset", mean))
	return mean, nil
}

// Calibrate derives the scale factor from knownGrams on the platform.
// It requires a prior successful Tare (or Restore).
func (c *Controller) Calibrate(ctx context.Context, knownGrams float64) (float64, error) {
	if !(knownGrams > 0) || math.IsInf(knownGrams, 0) {
		return 0, fmt.Errorf("calibrate: %w (got %v)", ErrInvalidWeight, knownGrams)
	}

	c.mu.RLock()
	tared, zero := c.state.IsTared, c.state.ZeroOffset
	c.mu.RUnlock()
	if !tared {
		return 0, fmt.Errorf("calibrate: %w", faults.ErrNotTared)
	}

	c.logger.Info("calibrating scale", zap.Float64("known_grams", knownGrams))
	rawMean, err := c.acquireMean(ctx)
	if err != nil {
		return 0, fmt.Errorf("calibrate: %w", err)
	}

	factor := (rawMean - zero) / knownGrams
	if !usableFactor(factor) {
		return 0, fmt.Errorf("calibrate: %w: raw mean %v is indistinguishable from zero offset %v",
			faults.ErrDegenerateFactor, rawMean, zero)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent Tare moved the zero point while we were sampling.
	if !c.state.IsTared || c.state.ZeroOffset != zero {
		return 0, fmt.Errorf("calibrate: zero offset changed during calibration: %w", faults.ErrNotTared)
	}
	c.state.ScaleFactor = factor
	c.state.IsCalibrated = true

	c.logger.Info("calibration complete", zap.Float64("scale_factor", factor))
	return factor, nil
}

// Restore installs a previously measured zero offset and scale factor, as
// produced by an earlier Tare and Calibrate.
func (c *Controller) Restore(zeroOffset, scaleFactor float64) error {
	if math.IsNaN(zeroOffset) || math.IsInf(zeroOffset, 0) {
		return fmt.Errorf("restore: invalid zero offset %v", zeroOffset)
	}
	if !usableFactor(scaleFactor) {
		return fmt.Errorf("restore: %w (%v)", faults.ErrDegenerateFactor, scaleFactor)
	}
	c.mu.Lock()
	c.state = State{
		ZeroOffset:   zeroOffset,
		ScaleFactor:  scaleFactor,
		IsTared:      true,
		IsCalibrated: true,
	}
	c.mu.Unlock()
	c.logger.Info("calibration restored",
		zap.Float64("zero_offset", zeroOffset),
		zap.Float64("scale_factor", scaleFactor))
	return nil
}

// WeightFromRaw converts one raw reading to grams. It has no side effects.
func (c *Controller) WeightFromRaw(raw float64) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.state.IsTared || !c.state.IsCalibrated {
		return 0, faults.ErrNotCalibrated
	}
	return (raw - c.state.ZeroOffset) / c.state.ScaleFactor, nil
}

// Calibrated reports whether WeightFromRaw can currently succeed.
func (c *Controller) Calibrated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.IsTared && c.state.IsCalibrated
}

// State returns a copy of the current calibration state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Source returns the raw sample source the controller reads from.
func (c *Controller) Source() RawSampleSource {
	return c.src
}

// acquireMean waits the settle delay, collects the configured number of raw
// reads and averages the valid ones.
func (c *Controller) acquireMean(ctx context.Context) (float64, error) {
	if err := sleep(ctx, c.clock, c.opts.SettleDelay); err != nil {
		return 0, err
	}
	valid := make([]float64, 0, c.opts.Readings)
	for i := 0; i < c.opts.Readings; i++ {
		if i > 0 {
			if err := sleep(ctx, c.clock, c.opts.InterReadingDelay); err != nil {
				return 0, err
			}
		}
		raw, err := c.src.ReadRaw(ctx)
		if err != nil {
			c.logger.Debug("discarding failed raw read", zap.Int("index", i), zap.Error(err))
			continue
		}
		if math.IsNaN(raw) || math.IsInf(raw, 0) {
			continue
		}
		valid = append(valid, raw)
	}
	if len(valid) == 0 || len(valid) < c.opts.MinValid {
		return 0, fmt.Errorf("%w: %d of %d reads valid, need %d",
			faults.ErrInsufficientSamples, len(valid), c.opts.Readings, c.opts.MinValid)
	}
	return stat.Mean(valid, nil), nil
}

func usableFactor(f float64) bool {
	return f != 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}

// sleep waits d on clk unless ctx is done first. Non-positive d returns at once.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
