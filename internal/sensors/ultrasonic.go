package sensors

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/relabs-tech/hive_monitor/internal/faults"
)

// Speed of sound at ~20 °C in cm/s.
const speedOfSoundCmPerSec = 34300.0

// triggerPulse is the HC-SR04 minimum trigger width.
const triggerPulse = 10 * time.Microsecond

// Ultrasonic measures distance with an HC-SR04: a short trigger pulse, then
// the echo line stays high for the round-trip time of the sound burst.
type Ultrasonic struct {
	mu      sync.Mutex
	trig    gpio.PinOut
	echo    gpio.PinIn
	timeout time.Duration
	now     func() time.Time
	sleep   func(time.Duration)
}

// OpenUltrasonic claims the trigger and echo pins by name.
func OpenUltrasonic(trigPin, echoPin string, timeout time.Duration) (*Ultrasonic, error) {
	if err := InitHost(); err != nil {
		return nil, err
	}
	trig, err := pinByName("ultrasonic trigger", trigPin)
	if err != nil {
		return nil, err
	}
	echo, err := pinByName("ultrasonic echo", echoPin)
	if err != nil {
		return nil, err
	}
	return NewUltrasonic(trig, echo, timeout)
}

// NewUltrasonic drives trig low and arms edge detection on echo.
func NewUltrasonic(trig gpio.PinOut, echo gpio.PinIn, timeout time.Duration) (*Ultrasonic, error) {
	if err := trig.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("ultrasonic: cannot set trigger pin low: %w", err)
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("ultrasonic: cannot arm echo pin: %w", err)
	}
	return &Ultrasonic{
		trig:    trig,
		echo:    echo,
		timeout: timeout,
		now:     time.Now,
		sleep:   time.Sleep,
	}, nil
}

// MeasureCm fires one burst and returns the distance, rounded to 0.1 cm.
// A missing edge within the timeout reports faults.ErrTimeout.
func (u *Ultrasonic) MeasureCm(ctx context.Context) (float64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := u.trig.Out(gpio.High); err != nil {
		return 0, fmt.Errorf("ultrasonic: cannot set trigger pin high: %w", err)
	}
	u.sleep(triggerPulse)
	if err := u.trig.Out(gpio.Low); err != nil {
		return 0, fmt.Errorf("ultrasonic: cannot set trigger pin low: %w", err)
	}

	// rising edge: burst emitted
	if !u.waitFor(gpio.High) {
		return 0, fmt.Errorf("ultrasonic: waiting for pulse start: %w", faults.ErrTimeout)
	}
	start := u.now()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// falling edge: echo received
	if !u.waitFor(gpio.Low) {
		return 0, fmt.Errorf("ultrasonic: waiting for echo: %w", faults.ErrTimeout)
	}
	return DistanceFromEcho(u.now().Sub(start)), nil
}

// waitFor blocks until echo reads level or the timeout expires. Edges in the
// wrong direction are skipped.
func (u *Ultrasonic) waitFor(level gpio.Level) bool {
	deadline := u.now().Add(u.timeout)
	for {
		if u.echo.Read() == level {
			return true
		}
		remaining := deadline.Sub(u.now())
		if remaining <= 0 || !u.echo.WaitForEdge(remaining) {
			return u.echo.Read() == level
		}
	}
}

// DistanceFromEcho converts an echo-high duration to centimetres, rounded
// to one decimal.
func DistanceFromEcho(d time.Duration) float64 {
	cm := d.Seconds() * speedOfSoundCmPerSec / 2
	return math.Round(cm*10) / 10
}

// Close returns both pins to inputs with no edge detection.
func (u *Ultrasonic) Close() error {
	_ = u.trig.Out(gpio.Low)
	return u.echo.In(gpio.PullNoChange, gpio.NoEdge)
}
