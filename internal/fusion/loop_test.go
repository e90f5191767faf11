package fusion

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/relabs-tech/hive_monitor/internal/env"
	"github.com/relabs-tech/hive_monitor/internal/faults"
	"github.com/relabs-tech/hive_monitor/internal/record"
	"github.com/relabs-tech/hive_monitor/internal/sink"
)

type fakeWeight struct {
	grams float64
	err   error
	calls int
	mu    sync.Mutex
	n     int
	trim  float64
}

func (f *fakeWeight) SampleFiltered(_ context.Context, n int, trim float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.n, f.trim = n, trim
	return f.grams, f.err
}

type fakeEnv struct {
	sample env.Sample
	err    error
}

func (f fakeEnv) ReadEnv(context.Context) (env.Sample, error) { return f.sample, f.err }

type fakeDistance struct {
	cm  float64
	err error
}

func (f fakeDistance) MeasureCm(context.Context) (float64, error) { return f.cm, f.err }

// blockingDistance waits for its context, like an echo that never returns.
type blockingDistance struct{}

func (blockingDistance) MeasureCm(ctx context.Context) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

type fakeDigital struct {
	v   bool
	err error
}

func (f fakeDigital) ReadBool(context.Context) (bool, error) { return f.v, f.err }

type fakeCloser struct{ closed int }

func (f *fakeCloser) Close() error {
	f.closed++
	return nil
}

func healthySensors() Sensors {
	return Sensors{
		Weight:      &fakeWeight{grams: 23456},
		Environment: fakeEnv{sample: env.Sample{Temperature: 34.5, Humidity: 62}},
		Distance:    fakeDistance{cm: 41.2},
		Presence:    fakeDigital{v: true},
		Enclosure:   fakeDigital{v: false},
	}
}

func testConfig() Config {
	cfg := DefaultConfig
	cfg.QueryTimeout = 0
	return cfg
}

func newTestLoop(t *testing.T, sensors Sensors) (*Loop, *clock.Mock, *sink.Memory) {
	t.Helper()
	mem := sink.NewMemory(16)
	mock := clock.NewMock()
	l, err := New(testConfig(), sensors, mem, WithClock(mock))
	test.That(t, err, test.ShouldBeNil)
	return l, mock, mem
}

func receive(t *testing.T, ch <-chan record.SensorRecord) record.SensorRecord {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a record")
		return record.SensorRecord{}
	}
}

func TestCycleAllHealthy(t *testing.T) {
	l, mock, _ := newTestLoop(t, healthySensors())
	rec := l.Cycle(context.Background())

	test.That(t, rec.Timestamp.Equal(mock.Now()), test.ShouldBeTrue)
	test.That(t, *rec.WeightKg, test.ShouldAlmostEqual, 23.456, 1e-12)
	test.That(t, *rec.Temperature, test.ShouldEqual, 34.5)
	test.That(t, *rec.Humidity, test.ShouldEqual, 62.0)
	test.That(t, *rec.DistanceCm, test.ShouldEqual, 41.2)
	test.That(t, *rec.Presence, test.ShouldBeTrue)
	test.That(t, *rec.EnclosureOpen, test.ShouldBeFalse)
	test.That(t, rec.Errors, test.ShouldBeEmpty)

	w := l.sensors.Weight.(*fakeWeight)
	test.That(t, w.n, test.ShouldEqual, 15)
	test.That(t, w.trim, test.ShouldEqual, 0.1)
}

func TestDistanceFailureIsContained(t *testing.T) {
	sensors := healthySensors()
	sensors.Distance = fakeDistance{err: errors.New("echo pin stuck low")}
	l, mock, mem := newTestLoop(t, sensors)
	ch, cancel := mem.Subscribe(4)
	defer cancel()

	test.That(t, l.Start(context.Background()), test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		if i > 0 {
			mock.Add(time.Second)
		}
		rec := receive(t, ch)
		test.That(t, rec.DistanceCm, test.ShouldBeNil)
		test.That(t, len(rec.Errors), test.ShouldEqual, 1)
		test.That(t, rec.Errors[0].Kind, test.ShouldEqual, faults.SensorReadFailure)
		test.That(t, rec.Errors[0].Source, test.ShouldEqual, record.SourceDistance)
		test.That(t, rec.WeightKg, test.ShouldNotBeNil)
		test.That(t, rec.Temperature, test.ShouldNotBeNil)
		test.That(t, rec.Humidity, test.ShouldNotBeNil)
		test.That(t, rec.Presence, test.ShouldNotBeNil)
		test.That(t, rec.EnclosureOpen, test.ShouldNotBeNil)
	}
	test.That(t, l.State(), test.ShouldEqual, Running)
	test.That(t, l.Stop(), test.ShouldBeNil)
}

func TestEveryFailureIsRecorded(t *testing.T) {
	l, _, _ := newTestLoop(t, Sensors{
		Weight:      &fakeWeight{err: faults.ErrEmptyAfterTrim},
		Environment: fakeEnv{err: errors.New("bme280: i2c nack")},
		Distance:    fakeDistance{err: faults.ErrTimeout},
		Presence:    fakeDigital{err: errors.New("gpio")},
		Enclosure:   fakeDigital{err: errors.New("gpio")},
	})
	rec := l.Cycle(context.Background())
	test.That(t, rec.WeightKg, test.ShouldBeNil)
	test.That(t, rec.Temperature, test.ShouldBeNil)
	test.That(t, rec.Humidity, test.ShouldBeNil)
	test.That(t, rec.DistanceCm, test.ShouldBeNil)
	test.That(t, rec.Presence, test.ShouldBeNil)
	test.That(t, rec.EnclosureOpen, test.ShouldBeNil)

	var got []string
	for _, f := range rec.Errors {
		got = append(got, f.String())
	}
	test.That(t, got, test.ShouldResemble, []string{
		"empty_after_trim(weight)",
		"sensor_read_failure(environment)",
		"timeout(distance)",
		"sensor_read_failure(presence)",
		"sensor_read_failure(enclosure)",
	})
}

func TestUnfittedSensorsAreAbsentWithoutFaults(t *testing.T) {
	l, _, _ := newTestLoop(t, Sensors{Weight: &fakeWeight{grams: 1000}})
	rec := l.Cycle(context.Background())
	test.That(t, *rec.WeightKg, test.ShouldEqual, 1.0)
	test.That(t, rec.Temperature, test.ShouldBeNil)
	test.That(t, rec.DistanceCm, test.ShouldBeNil)
	test.That(t, rec.Errors, test.ShouldBeEmpty)
}

func TestQueryTimeout(t *testing.T) {
	sensors := healthySensors()
	sensors.Distance = blockingDistance{}
	cfg := testConfig()
	cfg.QueryTimeout = 20 * time.Millisecond
	l, err := New(cfg, sensors, sink.NewMemory(1))
	test.That(t, err, test.ShouldBeNil)

	rec := l.Cycle(context.Background())
	test.That(t, rec.HasFault(faults.Timeout, record.SourceDistance), test.ShouldBeTrue)
	test.That(t, rec.WeightKg, test.ShouldNotBeNil)
}

func TestLifecycle(t *testing.T) {
	closer := &fakeCloser{}
	sensors := healthySensors()
	sensors.Closers = append(sensors.Closers, closer)
	l, mock, mem := newTestLoop(t, sensors)
	ch, cancel := mem.Subscribe(4)
	defer cancel()

	test.That(t, l.State(), test.ShouldEqual, Idle)
	test.That(t, errors.Is(l.Stop(), ErrNotRunning), test.ShouldBeTrue)
	idleDone := l.Done()
	test.That(t, idleDone, test.ShouldNotBeNil)
	select {
	case <-idleDone:
		t.Fatal("done closed before the loop started")
	default:
	}

	test.That(t, l.Start(context.Background()), test.ShouldBeNil)
	test.That(t, l.State(), test.ShouldEqual, Running)
	test.That(t, errors.Is(l.Start(context.Background()), ErrAlreadyStarted), test.ShouldBeTrue)

	receive(t, ch)
	mock.Add(time.Second)
	receive(t, ch)

	test.That(t, l.Stop(), test.ShouldBeNil)
	test.That(t, l.State(), test.ShouldEqual, Stopped)
	test.That(t, closer.closed, test.ShouldEqual, 1)
	test.That(t, l.Cycles(), test.ShouldEqual, uint64(2))
	<-idleDone

	// stopping twice is harmless and does not release twice
	test.That(t, l.Stop(), test.ShouldBeNil)
	test.That(t, closer.closed, test.ShouldEqual, 1)
	test.That(t, errors.Is(l.Start(context.Background()), ErrAlreadyStarted), test.ShouldBeTrue)
}

func TestParentCancelStopsLoop(t *testing.T) {
	l, _, mem := newTestLoop(t, healthySensors())
	ch, unsubscribe := mem.Subscribe(4)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	test.That(t, l.Start(ctx), test.ShouldBeNil)
	receive(t, ch)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	test.That(t, l.State(), test.ShouldEqual, Stopped)
}

func TestNewRejectsBadConfig(t *testing.T) {
	for _, mutate := range []func(*Config){
		func(c *Config) { c.Interval = 0 },
		func(c *Config) { c.ReadingCount = 0 },
		func(c *Config) { c.TrimFraction = 0.6 },
		func(c *Config) { c.TrimFraction = -0.1 },
		func(c *Config) { c.TrimFraction = math.NaN() },
		func(c *Config) { c.TrimFraction = math.Inf(1) },
		func(c *Config) { c.QueryTimeout = -time.Second },
	} {
		cfg := DefaultConfig
		mutate(&cfg)
		_, err := New(cfg, healthySensors(), sink.NewMemory(1))
		test.That(t, err, test.ShouldNotBeNil)
	}
	_, err := New(DefaultConfig, healthySensors(), nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStateString(t *testing.T) {
	test.That(t, Idle.String(), test.ShouldEqual, "idle")
	test.That(t, Stopping.String(), test.ShouldEqual, "stopping")
	test.That(t, State(9).String(), test.ShouldEqual, "state(9)")
}
