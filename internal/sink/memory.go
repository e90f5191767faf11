// Package sink provides consumers for the fusion loop's records.
package sink

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/relabs-tech/hive_monitor/internal/record"
)

// Memory keeps the most recent records and fans them out to subscribers.
// Slow subscribers miss records rather than stall the loop.
type Memory struct {
	mu       sync.RWMutex
	capacity int
	records  []record.SensorRecord
	subs     map[chan record.SensorRecord]struct{}
}

// NewMemory retains up to capacity records (at least one).
func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{
		capacity: capacity,
		subs:     map[chan record.SensorRecord]struct{}{},
	}
}

// Emit stores rec and offers it to every subscriber.
func (m *Memory) Emit(rec record.SensorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == m.capacity {
		copy(m.records, m.records[1:])
		m.records = m.records[:len(m.records)-1]
	}
	m.records = append(m.records, rec)
	for ch := range m.subs {
		select {
		case ch <- rec:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel receiving future records and a cancel func
// that unsubscribes and closes the channel.
func (m *Memory) Subscribe(buffer int) (<-chan record.SensorRecord, func()) {
	ch := make(chan record.SensorRecord, buffer)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			close(ch)
			m.mu.Unlock()
		})
	}
}

// Latest returns the newest record, if any.
func (m *Memory) Latest() (record.SensorRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.records) == 0 {
		return record.SensorRecord{}, false
	}
	return m.records[len(m.records)-1], true
}

// Records returns the retained records, oldest first.
func (m *Memory) Records() []record.SensorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]record.SensorRecord(nil), m.records...)
}

// Emitter is anything accepting records; it matches fusion.Sink.
type Emitter interface {
	Emit(rec record.SensorRecord) error
}

// Multi delivers each record to every sink, even when some fail.
type Multi []Emitter

func (m Multi) Emit(rec record.SensorRecord) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Emit(rec))
	}
	return err
}
