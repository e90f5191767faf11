// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relabs-tech/hive_monitor/internal/config"
	"github.com/relabs-tech/hive_monitor/internal/fusion"
	"github.com/relabs-tech/hive_monitor/internal/logging"
	"github.com/relabs-tech/hive_monitor/internal/scale"
	"github.com/relabs-tech/hive_monitor/internal/sensors"
	"github.com/relabs-tech/hive_monitor/internal/sink"
)

// Sinks is the fan-out the loop emits into, plus what must be released at
// shutdown.
type Sinks struct {
	Multi   sink.Multi
	Display *sink.Display
	closers []io.Closer
}

// Close releases every output.
func (s *Sinks) Close() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i].Close())
	}
	s.closers = nil
	return err
}

// OpenSinks builds the log sink and each configured network or panel
// output. The log sink is always present.
func OpenSinks(cfg *config.Config, logger *zap.Logger) (_ *Sinks, err error) {
	s := &Sinks{Multi: sink.Multi{sink.NewLog(logger)}}
	defer func() {
		if err != nil {
			err = multierr.Append(err, s.Close())
		}
	}()

	if cfg.MQTTBroker != "" {
		m, err := sink.DialMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.TopicRecord, logger)
		if err != nil {
			return nil, err
		}
		s.Multi = append(s.Multi, m)
		s.closers = append(s.closers, m)
	}
	if cfg.WebServerPort != 0 {
		addr := net.JoinHostPort("", strconv.Itoa(cfg.WebServerPort))
		w := sink.NewWeb(addr, logger)
		go func() {
			if err := w.Serve(); err != nil {
				logger.Error("web server stopped", zap.Error(err))
			}
		}()
		s.Multi = append(s.Multi, w)
		s.closers = append(s.closers, w)
	}
	if cfg.DisplayEnabled {
		panel, err := sensors.OpenOLED(cfg.DisplayI2CBus)
		if err != nil {
			return nil, err
		}
		s.Display = sink.NewDisplay(panel)
		s.Multi = append(s.Multi, s.Display)
		s.closers = append(s.closers, panel)
	}
	return s, nil
}

// RunMonitor opens the hive hardware, calibrates the scale and runs the
// fusion loop until ctx is cancelled. Operator prompts for guided
// calibration are read from in and written to out.
func RunMonitor(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) (err error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	hw, err := OpenHardware(cfg, logger)
	if err != nil {
		return fmt.Errorf("open hardware: %w", err)
	}
	handedOver := false
	defer func() {
		if !handedOver {
			err = multierr.Append(err, hw.Close())
		}
	}()

	sinks, err := OpenSinks(cfg, logger)
	if err != nil {
		return fmt.Errorf("open sinks: %w", err)
	}
	defer func() { err = multierr.Append(err, sinks.Close()) }()
	if sinks.Display != nil {
		if err := sinks.Display.Splash("Hive Monitor"); err != nil {
			logger.Warn("display splash", zap.Error(err))
		}
	}

	ctrl, err := scale.NewController(hw.LoadCell, AcquireOptions(cfg), scale.WithLogger(logger.Named("scale")))
	if err != nil {
		return err
	}
	if err := CalibrateScale(ctx, ctrl, cfg, NewOperator(in, out), logger); err != nil {
		return err
	}

	sampler := scale.NewSampler(ctrl, scale.SamplerOptions{
		MinValid:          cfg.MinValidReadings,
		InterReadingDelay: ms(cfg.InterReadingDelay),
		Logger:            logger.Named("sampler"),
	})
	loop, err := fusion.New(FusionConfig(cfg), hw.FusionSensors(sampler), sinks.Multi, fusion.WithLogger(logger.Named("fusion")))
	if err != nil {
		return err
	}
	if err := loop.Start(ctx); err != nil {
		return err
	}
	handedOver = true

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case <-loop.Done():
	}
	return loop.Stop()
}
