package app

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relabs-tech/hive_monitor/internal/config"
	"github.com/relabs-tech/hive_monitor/internal/fusion"
	"github.com/relabs-tech/hive_monitor/internal/scale"
	"github.com/relabs-tech/hive_monitor/internal/sensors"
	"github.com/relabs-tech/hive_monitor/internal/sim"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// AcquireOptions maps the tare/calibration keys onto the scale controller.
func AcquireOptions(cfg *config.Config) scale.AcquireOptions {
	return scale.AcquireOptions{
		Readings:          cfg.RawReadingsPerTare,
		MinValid:          cfg.MinValidReadings,
		SettleDelay:       ms(cfg.SettleDelay),
		InterReadingDelay: ms(cfg.InterReadingDelay),
	}
}

// FusionConfig maps the polling keys onto the fusion loop.
func FusionConfig(cfg *config.Config) fusion.Config {
	return fusion.Config{
		Interval:     time.Duration(cfg.PollIntervalSeconds * float64(time.Second)),
		ReadingCount: cfg.RawReadingsPerSample,
		TrimFraction: cfg.TrimFraction,
		QueryTimeout: ms(cfg.QueryTimeout),
	}
}

// Hardware holds every opened device. Optional devices that are not
// configured stay nil.
type Hardware struct {
	LoadCell  scale.RawSampleSource
	Env       fusion.EnvironmentSensor
	Distance  fusion.DistanceSensor
	Presence  fusion.DigitalSensor
	Enclosure fusion.DigitalSensor

	closers []io.Closer
}

// Simulated returns a hive with every sensor fitted and nothing to release.
func Simulated(h *sim.Hive) *Hardware {
	return &Hardware{
		LoadCell:  h,
		Env:       h,
		Distance:  h,
		Presence:  h.Presence(),
		Enclosure: h.Enclosure(),
	}
}

// OpenHardware opens the load cell and each configured optional sensor. A
// configured device that fails to open is fatal; anything already opened is
// released first.
func OpenHardware(cfg *config.Config, logger *zap.Logger) (_ *Hardware, err error) {
	if cfg.Simulate {
		logger.Warn("SIMULATE is set, using the simulated hive")
		return Simulated(sim.NewHive(nil, time.Now().UnixNano())), nil
	}

	h := &Hardware{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, h.Close())
		}
	}()

	cell, err := sensors.OpenLoadCell(cfg.HX711DataPin, cfg.HX711ClockPin, ms(cfg.HX711ReadTimeout))
	if err != nil {
		return nil, err
	}
	h.LoadCell = cell
	h.closers = append(h.closers, cell)
	logger.Info("load cell ready", zap.String("dout", cfg.HX711DataPin), zap.String("sck", cfg.HX711ClockPin))

	if cfg.EnvI2CAddr != 0 {
		e, err := sensors.OpenEnvironment(cfg.EnvI2CBus, cfg.EnvI2CAddr)
		if err != nil {
			return nil, err
		}
		h.Env = e
		h.closers = append(h.closers, e)
		logger.Info("environment sensor ready", zap.String("addr", fmt.Sprintf("%#x", cfg.EnvI2CAddr)))
	}
	if cfg.UltrasonicTrigPin != "" {
		u, err := sensors.OpenUltrasonic(cfg.UltrasonicTrigPin, cfg.UltrasonicEchoPin, ms(cfg.UltrasonicTimeout))
		if err != nil {
			return nil, err
		}
		h.Distance = u
		h.closers = append(h.closers, u)
		logger.Info("distance sensor ready")
	}
	if cfg.PresencePin != "" {
		d, err := sensors.OpenDigital("presence", cfg.PresencePin, cfg.PresenceActiveLow)
		if err != nil {
			return nil, err
		}
		h.Presence = d
		h.closers = append(h.closers, d)
		logger.Info("presence sensor ready", zap.Bool("active_low", cfg.PresenceActiveLow))
	}
	if cfg.EnclosurePin != "" {
		d, err := sensors.OpenDigital("enclosure", cfg.EnclosurePin, cfg.EnclosureActiveLow)
		if err != nil {
			return nil, err
		}
		h.Enclosure = d
		h.closers = append(h.closers, d)
		logger.Info("enclosure sensor ready", zap.Bool("active_low", cfg.EnclosureActiveLow))
	}
	return h, nil
}

// OpenLoadCell opens only the scale, for the calibration and debug tools.
func OpenLoadCell(cfg *config.Config) (scale.RawSampleSource, func() error, error) {
	if cfg.Simulate {
		return sim.NewHive(nil, time.Now().UnixNano()), func() error { return nil }, nil
	}
	cell, err := sensors.OpenLoadCell(cfg.HX711DataPin, cfg.HX711ClockPin, ms(cfg.HX711ReadTimeout))
	if err != nil {
		return nil, nil, err
	}
	return cell, cell.Close, nil
}

// FusionSensors hands the opened devices to the loop, which then owns
// their release.
func (h *Hardware) FusionSensors(weight fusion.WeightSampler) fusion.Sensors {
	return fusion.Sensors{
		Weight:      weight,
		Environment: h.Env,
		Distance:    h.Distance,
		Presence:    h.Presence,
		Enclosure:   h.Enclosure,
		Closers:     h.closers,
	}
}

// Close releases every opened device.
func (h *Hardware) Close() error {
	var err error
	for _, c := range h.closers {
		err = multierr.Append(err, c.Close())
	}
	h.closers = nil
	return err
}
