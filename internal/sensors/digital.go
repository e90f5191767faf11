package sensors

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// Digital reads a two-state input such as the sound/presence module or the
// lid light gate. ActiveLow inverts the line: a low level reads true.
type Digital struct {
	pin       gpio.PinIn
	activeLow bool
}

// OpenDigital claims pin by name as an input.
func OpenDigital(role, name string, activeLow bool) (*Digital, error) {
	if err := InitHost(); err != nil {
		return nil, err
	}
	p, err := pinByName(role, name)
	if err != nil {
		return nil, err
	}
	return NewDigital(p, activeLow)
}

// NewDigital configures pin as a plain input. Active-low lines get a pull-up
// so a floating open-collector output reads inactive.
func NewDigital(pin gpio.PinIn, activeLow bool) (*Digital, error) {
	pull := gpio.PullDown
	if activeLow {
		pull = gpio.PullUp
	}
	if err := pin.In(pull, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("digital input %s: %w", pin, err)
	}
	return &Digital{pin: pin, activeLow: activeLow}, nil
}

// ReadBool samples the line once.
func (d *Digital) ReadBool(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return (d.pin.Read() == gpio.High) != d.activeLow, nil
}

// Close releases the pull resistor.
func (d *Digital) Close() error {
	return d.pin.In(gpio.Float, gpio.NoEdge)
}
