package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/adverant/nexus/screenocr-worker/internal/logging"
	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

const mqttQoS byte = 1

// MQTTSink publishes each result as JSON to a broker topic
type MQTTSink struct {
	client mqtt.Client
	topic  string
	logger *logging.Logger
}

// ConnectMQTT connects to the broker with auto-reconnect enabled
func ConnectMQTT(broker, clientID string, logger *logging.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = logging.NewLogger("MQTT")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("MQTT connection established", "broker", broker, "clientId", clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("MQTT connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

// NewMQTTSink creates a sink publishing to topic through client
func NewMQTTSink(client mqtt.Client, topic string, logger *logging.Logger) *MQTTSink {
	if logger == nil {
		logger = logging.NewLogger("MQTTSink")
	}
	return &MQTTSink{client: client, topic: topic, logger: logger}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Deliver(ctx context.Context, r ocr.Result) error {
	if !s.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(ocr.NewEvent(r))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := s.client.Publish(s.topic, mqttQoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish timeout: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	s.logger.Debug("Result published", "topic", s.topic, "size", len(payload))
	return nil
}

// Close disconnects from the broker with a short grace period
func (s *MQTTSink) Close() {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
