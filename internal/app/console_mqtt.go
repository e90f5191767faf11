package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/hive_monitor/internal/config"
	"github.com/relabs-tech/hive_monitor/internal/logging"
	"github.com/relabs-tech/hive_monitor/internal/record"
)

// RunConsoleMQTT subscribes to the record topic and prints every record
// until ctx is cancelled.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required for the console")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-console").
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	logger.Info("console: connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	token := client.Subscribe(cfg.TopicRecord, 0, func(_ mqtt.Client, msg mqtt.Message) {
		printRecord(out, msg.Payload(), logger)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	logger.Info("console: subscribed", zap.String("topic", cfg.TopicRecord))

	<-ctx.Done()
	return nil
}

func printRecord(out io.Writer, payload []byte, logger *zap.Logger) {
	var rec record.SensorRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		logger.Warn("console: record unmarshal error", zap.Error(err))
		return
	}
	fmt.Fprintln(out, FormatRecord(rec))
}

// FormatRecord renders rec on one console line. Absent values print as "--".
func FormatRecord(rec record.SensorRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] weight=%s kg temp=%s C hum=%s %% dist=%s cm bees=%s open=%s",
		rec.Timestamp.Format(time.TimeOnly),
		floatOr(rec.WeightKg, "%.3f"),
		floatOr(rec.Temperature, "%.1f"),
		floatOr(rec.Humidity, "%.0f"),
		floatOr(rec.DistanceCm, "%.1f"),
		boolOr(rec.Presence),
		boolOr(rec.EnclosureOpen),
	)
	if len(rec.Errors) > 0 {
		names := make([]string, len(rec.Errors))
		for i, f := range rec.Errors {
			names[i] = f.String()
		}
		fmt.Fprintf(&b, " errors=%s", strings.Join(names, ","))
	}
	return b.String()
}

func floatOr(v *float64, format string) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf(format, *v)
}

func boolOr(v *bool) string {
	switch {
	case v == nil:
		return "--"
	case *v:
		return "yes"
	default:
		return "no"
	}
}
