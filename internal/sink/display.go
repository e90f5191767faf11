package sink

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/hive_monitor/internal/record"
)

// Drawer is the part of an OLED device the display sink needs;
// *ssd1306.Dev satisfies it.
type Drawer interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Halt() error
}

// Display renders the latest record as four text lines on a 128x64 OLED.
type Display struct {
	dev Drawer
}

// NewDisplay wraps an opened panel.
func NewDisplay(dev Drawer) *Display {
	return &Display{dev: dev}
}

// Emit redraws the panel with rec.
func (d *Display) Emit(rec record.SensorRecord) error {
	img := image1bit.NewVerticalLSB(d.dev.Bounds())
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range displayLines(rec) {
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawString(line)
	}
	if err := d.dev.Draw(d.dev.Bounds(), img, image.Point{}); err != nil {
		return fmt.Errorf("display: draw: %w", err)
	}
	return nil
}

// Splash shows a static banner until the first record arrives.
func (d *Display) Splash(title string) error {
	img := image1bit.NewVerticalLSB(d.dev.Bounds())
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	drawer.Dot = fixed.P(10, 26)
	drawer.DrawString(title)
	drawer.Dot = fixed.P(10, 43)
	drawer.DrawString("Calibrating...")
	return d.dev.Draw(d.dev.Bounds(), img, image.Point{})
}

// Close blanks the panel.
func (d *Display) Close() error {
	return d.dev.Halt()
}

// displayLines formats rec into at most four lines of 18 characters.
func displayLines(rec record.SensorRecord) []string {
	lines := []string{
		"W: " + optFloat(rec.WeightKg, "%.2f kg"),
		"T: " + optFloat(rec.Temperature, "%.1fC") + " H: " + optFloat(rec.Humidity, "%.0f%%"),
		"D: " + optFloat(rec.DistanceCm, "%.1f cm"),
		"Bee:" + optBool(rec.Presence) + " Open:" + optBool(rec.EnclosureOpen),
	}
	if n := len(rec.Errors); n > 0 {
		lines[3] += fmt.Sprintf(" !%d", n)
	}
	return lines
}

func optFloat(v *float64, format string) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf(format, *v)
}

func optBool(v *bool) string {
	switch {
	case v == nil:
		return "-"
	case *v:
		return "y"
	default:
		return "n"
	}
}
