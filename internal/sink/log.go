package sink

import (
	"go.uber.org/zap"

	"github.com/relabs-tech/hive_monitor/internal/record"
)

// Log writes one structured log entry per record. Absent fields log as null.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a sink writing to logger.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

// Emit logs rec at Warn when it carries faults, otherwise at Info.
func (l *Log) Emit(rec record.SensorRecord) error {
	faults := make([]string, 0, len(rec.Errors))
	for _, f := range rec.Errors {
		faults = append(faults, f.String())
	}
	fields := []zap.Field{
		zap.Time("timestamp", rec.Timestamp),
		zap.Float64p("weight_kg", rec.WeightKg),
		zap.Float64p("temperature_c", rec.Temperature),
		zap.Float64p("humidity_pct", rec.Humidity),
		zap.Float64p("distance_cm", rec.DistanceCm),
		zap.Boolp("presence", rec.Presence),
		zap.Boolp("enclosure_open", rec.EnclosureOpen),
		zap.Strings("errors", faults),
	}
	if len(rec.Errors) > 0 {
		l.logger.Warn("sensor record", fields...)
		return nil
	}
	l.logger.Info("sensor record", fields...)
	return nil
}
