package stream

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures publishing control lines to a broker topic.
type MQTTOptions struct {
	ClientID string `json:"client_id"`
	Topic    string `json:"topic"`
	QoS      byte   `json:"qos"`
	Retained bool   `json:"retained"`
}

// Default MQTT settings.
const (
	DefaultMQTTClientID = "tipstream-emitter"
	DefaultMQTTTopic    = "tipstream/control"
	mqttPublishTimeout  = 2 * time.Second
)

// ErrPublishTimeout is returned when the broker does not acknowledge a publish in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTTWriter publishes each written line as one MQTT message.
type MQTTWriter struct {
	client mqtt.Client
	opts   MQTTOptions
}

// NewMQTTWriter wraps a client. The client may be connected later; writes
// fail with ErrNotConnected until it is.
func NewMQTTWriter(client mqtt.Client, opts MQTTOptions) *MQTTWriter {
	if opts.Topic == "" {
		opts.Topic = DefaultMQTTTopic
	}
	return &MQTTWriter{client: client, opts: opts}
}

// DialMQTT connects to broker and returns a writer publishing to the
// configured topic.
func DialMQTT(broker string, opts MQTTOptions) (*MQTTWriter, error) {
	if opts.ClientID == "" {
		opts.ClientID = DefaultMQTTClientID
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(false)

	client := mqtt.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", broker, token.Error())
	}

	return NewMQTTWriter(client, opts), nil
}

// Write publishes p without its trailing newline.
func (w *MQTTWriter) Write(p []byte) (int, error) {
	if !w.client.IsConnected() {
		return 0, ErrNotConnected
	}

	payload := bytes.TrimRight(p, "\n")
	token := w.client.Publish(w.opts.Topic, w.opts.QoS, w.opts.Retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return 0, ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close disconnects from the broker.
func (w *MQTTWriter) Close() error {
	w.client.Disconnect(250)
	return nil
}
