package sink

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/hive_monitor/internal/record"
)

// MQTT publishes each record as retained JSON on one topic.
type MQTT struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// publishTimeout bounds how long Emit waits for the broker.
const publishTimeout = 2 * time.Second

// DialMQTT connects to broker and returns a sink publishing on topic.
func DialMQTT(broker, clientID, topic string, logger *zap.Logger) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	logger.Info("connected to mqtt broker", zap.String("broker", broker), zap.String("topic", topic))
	return NewMQTT(client, topic, logger), nil
}

// NewMQTT wraps an already connected client.
func NewMQTT(client mqtt.Client, topic string, logger *zap.Logger) *MQTT {
	return &MQTT{client: client, topic: topic, timeout: publishTimeout, logger: logger}
}

func (m *MQTT) Emit(rec record.SensorRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("mqtt: marshal record: %w", err)
	}
	token := m.client.Publish(m.topic, 0, true, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", m.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
