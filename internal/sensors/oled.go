package sensors

import (
	"fmt"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
)

// OLED is a 128x64 SSD1306 panel at the driver's fixed I²C address 0x3C.
type OLED struct {
	*ssd1306.Dev
	bus i2c.BusCloser
}

// OpenOLED opens busName and initialises the panel.
func OpenOLED(busName string) (*OLED, error) {
	if err := InitHost(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("display I2C open %q: %w", busName, err)
	}
	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("display init: %w", err)
	}
	return &OLED{Dev: dev, bus: bus}, nil
}

// Close blanks the panel and releases the bus.
func (o *OLED) Close() error {
	return multierr.Append(o.Dev.Halt(), o.bus.Close())
}
