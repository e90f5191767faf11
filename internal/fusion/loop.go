// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fusion runs the periodic multi-sensor polling loop. Every cycle
// queries each sensor independently, folds failures into the record and
// hands one SensorRecord to the sink. No sensor failure stops the loop.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/hive_monitor/internal/env"
	"github.com/relabs-tech/hive_monitor/internal/record"
)

// WeightSampler produces one filtered weight in grams.
type WeightSampler interface {
	SampleFiltered(ctx context.Context, readingCount int, trimFraction float64) (float64, error)
}

// EnvironmentSensor reads temperature and humidity.
type EnvironmentSensor interface {
	ReadEnv(ctx context.Context) (env.Sample, error)
}

// DistanceSensor measures the distance to the nearest object in centimetres.
type DistanceSensor interface {
	MeasureCm(ctx context.Context) (float64, error)
}

// DigitalSensor reads a presence or light-gate input.
type DigitalSensor interface {
	ReadBool(ctx context.Context) (bool, error)
}

// Sink consumes one record per cycle. Emit errors are logged, not fatal.
type Sink interface {
	Emit(rec record.SensorRecord) error
}

// Sensors groups the loop's collaborators. Nil members are not fitted: their
// field stays absent and no fault is recorded.
type Sensors struct {
	Weight      WeightSampler
	Environment EnvironmentSensor
	Distance    DistanceSensor
	Presence    DigitalSensor
	Enclosure   DigitalSensor

	// Closers are released once the loop reaches Stopped.
	Closers []io.Closer
}

// Config controls the loop cadence and weight filtering.
type Config struct {
	Interval     time.Duration // fixed polling period
	ReadingCount int           // raw reads per weight sample
	TrimFraction float64       // per-tail trim for the weight sample
	QueryTimeout time.Duration // deadline for each sensor query; 0 disables
}

// DefaultConfig matches the field deployment: 1 s period, 15 reads, 10 % trim.
var DefaultConfig = Config{
	Interval:     time.Second,
	ReadingCount: 15,
	TrimFraction: 0.1,
	QueryTimeout: 5 * time.Second,
}

func (c Config) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("fusion: interval must be > 0, got %v", c.Interval)
	}
	if c.ReadingCount < 1 {
		return fmt.Errorf("fusion: reading count must be >= 1, got %d", c.ReadingCount)
	}
	if !(c.TrimFraction >= 0 && c.TrimFraction <= 0.5) {
		return fmt.Errorf("fusion: trim fraction must be in [0, 0.5], got %v", c.TrimFraction)
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("fusion: query timeout must be >= 0, got %v", c.QueryTimeout)
	}
	return nil
}

// State is the loop lifecycle.
type State int

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrAlreadyStarted = errors.New("fusion: loop already started")
	ErrNotRunning     = errors.New("fusion: loop not running")
)

// Loop is the sensor fusion loop. Create with New, run with Start, end with Stop.
type Loop struct {
	cfg     Config
	sensors Sensors
	sink    Sink
	clock   clock.Clock
	logger  *zap.Logger

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	cycles   uint64
	closeErr error
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock driving the ticker and timestamps.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithLogger sets the loop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New validates cfg and returns an Idle loop. Configuration errors are
// returned here so the loop never enters Running with a bad setup.
func New(cfg Config, sensors Sensors, sink Sink, opts ...Option) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.New("fusion: nil sink")
	}
	l := &Loop{
		cfg:     cfg,
		sensors: sensors,
		sink:    sink,
		clock:   clock.New(),
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Start moves the loop from Idle to Running and polls in the background
// until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Idle {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.state = Running

	ticker := l.clock.Ticker(l.cfg.Interval)
	go l.run(ctx, ticker)
	l.logger.Info("fusion loop started", zap.Duration("interval", l.cfg.Interval))
	return nil
}

// Stop cancels the loop, waits for the in-flight cycle to finish or be
// abandoned, and releases the sensors' hardware handles.
func (l *Loop) Stop() error {
	l.mu.Lock()
	switch l.state {
	case Idle:
		l.mu.Unlock()
		return ErrNotRunning
	case Running:
		l.state = Stopping
		l.cancel()
	}
	done := l.done
	l.mu.Unlock()

	<-done

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeErr
}

// Done is closed once the loop reaches Stopped. It is never closed for a
// loop that was not started.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Cycles returns how many records have been emitted.
func (l *Loop) Cycles() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cycles
}

func (l *Loop) run(ctx context.Context, ticker *clock.Ticker) {
	defer l.finish()
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		rec := l.Cycle(ctx)
		if ctx.Err() != nil {
			l.logger.Debug("abandoning cycle cancelled mid-flight")
			return
		}
		if err := l.sink.Emit(rec); err != nil {
			l.logger.Warn("sink emit failed", zap.Error(err))
		}
		l.mu.Lock()
		l.cycles++
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *Loop) finish() {
	l.mu.Lock()
	if l.state == Running {
		// parent context cancelled without Stop
		l.state = Stopping
	}
	l.mu.Unlock()

	var err error
	for _, c := range l.sensors.Closers {
		err = multierr.Append(err, c.Close())
	}
	if err != nil {
		l.logger.Warn("releasing sensors", zap.Error(err))
	}

	l.mu.Lock()
	l.state = Stopped
	l.closeErr = err
	close(l.done)
	l.mu.Unlock()
	l.logger.Info("fusion loop stopped")
}

// Cycle queries every fitted sensor concurrently and assembles one record.
// It never returns an error: each failure becomes an absent field plus a
// Fault in the record.
func (l *Loop) Cycle(ctx context.Context) record.SensorRecord {
	var (
		mu sync.Mutex
		b  = record.NewBuilder(l.clock.Now())
		g  errgroup.Group
	)
	// query runs fn with the per-query deadline and applies its result under mu.
	query := func(source string, fn func(ctx context.Context) (func(), error)) {
		g.Go(func() error {
			qctx, cancel := l.queryContext(ctx)
			defer cancel()
			apply, err := fn(qctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				b.Fail(source, err)
				l.logger.Debug("sensor query failed", zap.String("source", source), zap.Error(err))
				return nil
			}
			apply()
			return nil
		})
	}

	s := l.sensors
	if s.Weight != nil {
		query(record.SourceWeight, func(ctx context.Context) (func(), error) {
			grams, err := s.Weight.SampleFiltered(ctx, l.cfg.ReadingCount, l.cfg.TrimFraction)
			return func() { b.WeightGrams(grams) }, err
		})
	}
	if s.Environment != nil {
		query(record.SourceEnvironment, func(ctx context.Context) (func(), error) {
			e, err := s.Environment.ReadEnv(ctx)
			return func() {
				b.Temperature(e.Temperature)
				b.Humidity(e.Humidity)
			}, err
		})
	}
	if s.Distance != nil {
		query(record.SourceDistance, func(ctx context.Context) (func(), error) {
			d, err := s.Distance.MeasureCm(ctx)
			return func() { b.DistanceCm(d) }, err
		})
	}
	if s.Presence != nil {
		query(record.SourcePresence, func(ctx context.Context) (func(), error) {
			v, err := s.Presence.ReadBool(ctx)
			return func() { b.Presence(v) }, err
		})
	}
	if s.Enclosure != nil {
		query(record.SourceEnclosure, func(ctx context.Context) (func(), error) {
			v, err := s.Enclosure.ReadBool(ctx)
			return func() { b.EnclosureOpen(v) }, err
		})
	}

	_ = g.Wait() // queries never return errors
	return b.Build()
}

func (l *Loop) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.cfg.QueryTimeout)
}
