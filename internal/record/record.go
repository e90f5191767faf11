// Package record holds the aggregated per-cycle output of the fusion loop.
package record

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/relabs-tech/hive_monitor/internal/faults"
)

// Sources of a SensorRecord, in the order faults are reported.
const (
	SourceWeight      = "weight"
	SourceEnvironment = "environment"
	SourceDistance    = "distance"
	SourcePresence    = "presence"
	SourceEnclosure   = "enclosure"
)

var sourceOrder = map[string]int{
	SourceWeight:      0,
	SourceEnvironment: 1,
	SourceDistance:    2,
	SourcePresence:    3,
	SourceEnclosure:   4,
}

// Fault is one failed query in a cycle.
type Fault struct {
	Kind    faults.Kind `json:"kind"`
	Source  string      `json:"source"`
	Message string      `json:"message,omitempty"`
}

func (f Fault) String() string {
	return fmt.Sprintf("%s(%s)", f.Kind, f.Source)
}

// SensorRecord is one timestamped reading of every sensor.
// A nil field means the value is absent: either the query failed (and a
// matching Fault is listed) or the sensor is not fitted.
// Records are values; do not mutate a record after it has been emitted.
type SensorRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	WeightKg      *float64  `json:"weight_kg"`
	Temperature   *float64  `json:"temperature_c"`
	Humidity      *float64  `json:"humidity_pct"`
	DistanceCm    *float64  `json:"distance_cm"`
	Presence      *bool     `json:"presence"`
	EnclosureOpen *bool     `json:"enclosure_open"`
	Errors        []Fault   `json:"errors"`
}

// GramsToKg converts the scale's internal unit at the reporting boundary.
func GramsToKg(g float64) float64 {
	return g / 1000
}

// HasFault reports whether the record lists a fault of kind k for source.
func (r SensorRecord) HasFault(k faults.Kind, source string) bool {
	for _, f := range r.Errors {
		if f.Kind == k && f.Source == source {
			return true
		}
	}
	return false
}

// Builder accumulates one cycle's results. It is not safe for concurrent
// use; the fusion loop serialises writes.
type Builder struct {
	rec  SensorRecord
	seen map[Fault]bool
}

// NewBuilder starts a record stamped with ts.
func NewBuilder(ts time.Time) *Builder {
	return &Builder{rec: SensorRecord{Timestamp: ts}, seen: map[Fault]bool{}}
}

// WeightGrams sets the weight, converting to kilograms.
func (b *Builder) WeightGrams(g float64) { b.rec.WeightKg = ptr(GramsToKg(g)) }

func (b *Builder) Temperature(c float64) { b.rec.Temperature = ptr(c) }
func (b *Builder) Humidity(h float64) { b.rec.Humidity = ptr(h) }
func (b *Builder) DistanceCm(d float64) { b.rec.DistanceCm = ptr(d) }
func (b *Builder) Presence(v bool) { b.rec.Presence = ptr(v) }
func (b *Builder) EnclosureOpen(v bool) { b.rec.EnclosureOpen = ptr(v) }

// Fail records that source failed with err. Duplicate kind/source pairs are
// kept once.
func (b *Builder) Fail(source string, err error) {
	f := Fault{Kind: faults.KindOf(err), Source: source}
	if b.seen[f] {
		return
	}
	b.seen[f] = true
	f.Message = err.Error()
	b.rec.Errors = append(b.rec.Errors, f)
}

// Build returns the finished record with faults in source order.
func (b *Builder) Build() SensorRecord {
	rec := b.rec
	rec.Errors = append([]Fault{}, b.rec.Errors...)
	slices.SortStableFunc(rec.Errors, func(x, y Fault) int {
		return cmp.Compare(sourceOrder[x.Source], sourceOrder[y.Source])
	})
	return rec
}

func ptr[T any](v T) *T { return &v }
