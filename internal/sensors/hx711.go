package sensors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/devices/v3/hx711"

	"github.com/relabs-tech/hive_monitor/internal/faults"
)

// hx711Reader is the part of *hx711.Dev the load cell uses.
type hx711Reader interface {
	ReadTimeout(timeout time.Duration) (int32, error)
	Halt() error
}

// LoadCell reads raw 24-bit counts from an HX711 amplifier. It satisfies
// scale.RawSampleSource.
type LoadCell struct {
	dev     hx711Reader
	timeout time.Duration
}

// OpenLoadCell claims the DOUT and SCK pins and binds the amplifier.
func OpenLoadCell(doutPin, sckPin string, timeout time.Duration) (*LoadCell, error) {
	if err := InitHost(); err != nil {
		return nil, err
	}
	data, err := pinByName("HX711 DOUT", doutPin)
	if err != nil {
		return nil, err
	}
	clk, err := pinByName("HX711 SCK", sckPin)
	if err != nil {
		return nil, err
	}
	dev, err := hx711.New(clk, data)
	if err != nil {
		return nil, fmt.Errorf("hx711 init: %w", err)
	}
	return newLoadCell(dev, timeout), nil
}

func newLoadCell(dev hx711Reader, timeout time.Duration) *LoadCell {
	return &LoadCell{dev: dev, timeout: timeout}
}

// ReadRaw returns one raw count. A conversion that is not ready within the
// read timeout reports faults.ErrTimeout.
func (l *LoadCell) ReadRaw(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, err := l.dev.ReadTimeout(l.timeout)
	if errors.Is(err, hx711.ErrTimeout) {
		return 0, fmt.Errorf("hx711: %w", faults.ErrTimeout)
	}
	if err != nil {
		return 0, fmt.Errorf("hx711 read: %w", err)
	}
	return float64(v), nil
}

// Close powers the amplifier down.
func (l *LoadCell) Close() error {
	return l.dev.Halt()
}
