package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/relabs-tech/hive_monitor/internal/faults"
)

func TestBuilderFaultOrderAndDedup(t *testing.T) {
	b := NewBuilder(time.Unix(1700000000, 0).UTC())
	b.Fail(SourceEnclosure, errors.New("pin read"))
	b.Fail(SourceDistance, fmt.Errorf("echo: %w", faults.ErrTimeout))
	b.Fail(SourceWeight, fmt.Errorf("sample: %w", faults.ErrEmptyAfterTrim))
	b.Fail(SourceDistance, fmt.Errorf("echo again: %w", faults.ErrTimeout))
	b.Temperature(21.5)

	rec := b.Build()
	test.That(t, len(rec.Errors), test.ShouldEqual, 3)
	test.That(t, rec.Errors[0].String(), test.ShouldEqual, "empty_after_trim(weight)")
	test.That(t, rec.Errors[1].String(), test.ShouldEqual, "timeout(distance)")
	test.That(t, rec.Errors[1].Message, test.ShouldEqual, "echo: sensor timed out")
	test.That(t, rec.Errors[2].String(), test.ShouldEqual, "sensor_read_failure(enclosure)")
	test.That(t, rec.HasFault(faults.Timeout, SourceDistance), test.ShouldBeTrue)
	test.That(t, rec.HasFault(faults.Timeout, SourceWeight), test.ShouldBeFalse)
	test.That(t, *rec.Temperature, test.ShouldEqual, 21.5)
}

func TestBuiltRecordIsDetached(t *testing.T) {
	b := NewBuilder(time.Now())
	b.Fail(SourcePresence, errors.New("x"))
	first := b.Build()
	b.Fail(SourceWeight, errors.New("y"))
	test.That(t, len(first.Errors), test.ShouldEqual, 1)
}

func TestWeightReportedInKilograms(t *testing.T) {
	b := NewBuilder(time.Now())
	b.WeightGrams(2500)
	rec := b.Build()
	test.That(t, *rec.WeightKg, test.ShouldEqual, 2.5)
}

func TestJSONAbsentFieldsAreNull(t *testing.T) {
	b := NewBuilder(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	b.Presence(false)
	b.Humidity(55)
	payload, err := json.Marshal(b.Build())
	test.That(t, err, test.ShouldBeNil)

	var m map[string]any
	test.That(t, json.Unmarshal(payload, &m), test.ShouldBeNil)
	for _, k := range []string{"weight_kg", "temperature_c", "distance_cm", "enclosure_open"} {
		v, ok := m[k]
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, v, test.ShouldBeNil)
	}
	test.That(t, m["presence"], test.ShouldEqual, false)
	test.That(t, m["humidity_pct"], test.ShouldEqual, 55.0)
	test.That(t, m["errors"], test.ShouldResemble, []any{})
}
