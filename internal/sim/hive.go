// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sim provides a simulated hive whose devices generate smooth,
// slightly noisy values. It stands in for the hardware on a workstation.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/hive_monitor/internal/env"
)

// Load cell constants of the reference deployment.
const (
	ZeroOffset  = 159054.0
	ScaleFactor = 102.372
)

// Hive simulates the load cell, BME280, ultrasonic and digital inputs of a
// single colony. A full daily cycle of the sinusoids takes Period.
type Hive struct {
	mu    sync.Mutex
	clk   clock.Clock
	start time.Time
	rng   *rand.Rand

	// BaseGrams is the mean hive weight; ±SwingGrams over a period.
	BaseGrams  float64
	SwingGrams float64
	// NoiseRaw is the standard deviation of load cell noise in raw counts.
	NoiseRaw float64
	// SpikeEvery inserts a gross outlier every n-th raw read; 0 disables.
	SpikeEvery int
	Period     time.Duration

	reads int
}

// NewHive returns a hive seeded for reproducible output.
func NewHive(clk clock.Clock, seed int64) *Hive {
	if clk == nil {
		clk = clock.New()
	}
	return &Hive{
		clk:        clk,
		start:      clk.Now(),
		rng:        rand.New(rand.NewSource(seed)),
		BaseGrams:  42000,
		SwingGrams: 800,
		NoiseRaw:   40,
		SpikeEvery: 25,
		Period:     24 * time.Hour,
	}
}

// phase returns the position in the daily cycle in radians.
func (h *Hive) phase() float64 {
	elapsed := h.clk.Now().Sub(h.start)
	return 2 * math.Pi * float64(elapsed) / float64(h.Period)
}

// Grams is the true simulated weight right now.
func (h *Hive) Grams() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.BaseGrams + h.SwingGrams*math.Sin(h.phase())
}

// ReadRaw returns a raw count for the current weight.
func (h *Hive) ReadRaw(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	grams := h.Grams()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads++
	raw := ZeroOffset + ScaleFactor*grams + h.rng.NormFloat64()*h.NoiseRaw
	if h.SpikeEvery > 0 && h.reads%h.SpikeEvery == 0 {
		raw += 1e6
	}
	return math.Round(raw), nil
}

// ReadEnv returns an in-hive climate: warm, humid, following the day.
func (h *Hive) ReadEnv(ctx context.Context) (env.Sample, error) {
	if err := ctx.Err(); err != nil {
		return env.Sample{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.phase()
	return env.Sample{
		Source:      "sim",
		Temperature: 34 + 1.5*math.Sin(p) + h.rng.NormFloat64()*0.1,
		Humidity:    60 - 5*math.Sin(p) + h.rng.NormFloat64()*0.5,
		PressureHPa: 1013.25,
	}, nil
}

// MeasureCm returns the distance from the lid to the top of the comb.
func (h *Hive) MeasureCm(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return math.Round((18+2*math.Cos(h.phase())+h.rng.NormFloat64()*0.2)*10) / 10, nil
}

// Presence reports bee activity during the simulated daytime half-cycle.
func (h *Hive) Presence() Digital {
	return func(ctx context.Context) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		return math.Sin(h.phase()) > 0, nil
	}
}

// Enclosure reports a closed lid.
func (h *Hive) Enclosure() Digital {
	return func(ctx context.Context) (bool, error) {
		return false, ctx.Err()
	}
}

// Digital adapts a function to the fusion loop's digital sensor.
type Digital func(ctx context.Context) (bool, error)

func (d Digital) ReadBool(ctx context.Context) (bool, error) { return d(ctx) }
