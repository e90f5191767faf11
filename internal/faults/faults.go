// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package faults defines the error taxonomy shared by the scale, the sensor
// drivers and the fusion loop.
package faults

import (
	"context"
	"errors"
)

// Kind names one class of failure as it appears in a SensorRecord.
type Kind string

const (
	InsufficientSamples Kind = "insufficient_samples"
	NotTared            Kind = "not_tared"
	NotCalibrated       Kind = "not_calibrated"
	DegenerateFactor    Kind = "degenerate_factor"
	EmptyAfterTrim      Kind = "empty_after_trim"
	SensorReadFailure   Kind = "sensor_read_failure"
	Timeout             Kind = "timeout"
)

// Sentinel errors. Wrap them with fmt.Errorf("...: %w", ...) and match with errors.Is.
var (
	ErrInsufficientSamples = errors.New("insufficient valid samples")
	ErrNotTared            = errors.New("scale not tared")
	ErrNotCalibrated       = errors.New("scale not calibrated")
	ErrDegenerateFactor    = errors.New("degenerate calibration factor")
	ErrEmptyAfterTrim      = errors.New("no readings left after trimming")
	ErrTimeout             = errors.New("sensor timed out")
)

// KindOf classifies err. Anything not recognised is a SensorReadFailure.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInsufficientSamples):
		return InsufficientSamples
	case errors.Is(err, ErrNotTared):
		return NotTared
	case errors.Is(err, ErrNotCalibrated):
		return NotCalibrated
	case errors.Is(err, ErrDegenerateFactor):
		return DegenerateFactor
	case errors.Is(err, ErrEmptyAfterTrim):
		return EmptyAfterTrim
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Timeout
	default:
		return SensorReadFailure
	}
}
