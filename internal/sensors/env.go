package sensors

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"

	"github.com/relabs-tech/hive_monitor/internal/env"
)

type envSenser interface {
	Sense(e *physic.Env) error
	Halt() error
}

type closerFunc func() error

// Environment reads temperature, humidity and pressure from a BME280.
type Environment struct {
	dev      envSenser
	closeBus closerFunc
}

// OpenEnvironment opens the I²C bus and binds a BME280 at addr.
func OpenEnvironment(busName string, addr uint16) (*Environment, error) {
	if err := InitHost(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("BME280 I2C open %q: %w", busName, err)
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("BME280 init at %#x: %w", addr, err)
	}
	return &Environment{dev: dev, closeBus: bus.Close}, nil
}

// ReadEnv takes one forced measurement.
func (e *Environment) ReadEnv(ctx context.Context) (env.Sample, error) {
	if err := ctx.Err(); err != nil {
		return env.Sample{}, err
	}
	var m physic.Env
	if err := e.dev.Sense(&m); err != nil {
		return env.Sample{}, fmt.Errorf("BME280 sense: %w", err)
	}
	return sampleFromEnv(m), nil
}

func sampleFromEnv(m physic.Env) env.Sample {
	pressurePa := float64(m.Pressure) / float64(physic.Pascal)
	return env.Sample{
		Source:      "bme280",
		Temperature: m.Temperature.Celsius(),
		Humidity:    float64(m.Humidity) / float64(physic.PercentRH),
		PressureHPa: pressurePa / 100.0, // 1 hPa = 100 Pa
	}
}

// Close halts the sensor and releases the bus.
func (e *Environment) Close() error {
	err := e.dev.Halt()
	if e.closeBus != nil {
		err = multierr.Append(err, e.closeBus())
	}
	return err
}
