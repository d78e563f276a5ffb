package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hydropi/hydropi/controller"
	"go.uber.org/zap"
)

// Publisher is the part of an MQTT client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// ConnectMQTT connects to the broker and waits for the first session.
// The returned client reconnects on its own.
func ConnectMQTT(ctx context.Context, cfg controller.MQTTConfig, log *zap.Logger) (mqtt.Client, error) {
	log = log.Named("mqtt")
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.Timeout).
		SetWill(cfg.TopicPrefix+"/status", "offline", cfg.QoS, true).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Info("Connected to broker", zap.String("broker", cfg.Broker))
			c.Publish(cfg.TopicPrefix+"/status", cfg.QoS, true, "online")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("Broker connection lost", zap.Error(err))
		})
	client := mqtt.NewClient(opts)
	tok := client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	return client, nil
}

// MQTT publishes the decision record, each sensor value and, when a human
// is needed, an alert under the topic prefix.
type MQTT struct {
	client  Publisher
	prefix  string
	qos     byte
	timeout time.Duration
}

func NewMQTT(client Publisher, cfg controller.MQTTConfig) *MQTT {
	return &MQTT{client: client, prefix: cfg.TopicPrefix, qos: cfg.QoS, timeout: cfg.Timeout}
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Publish(ctx context.Context, rec controller.DecisionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := m.send(ctx, m.prefix+"/decision", true, body); err != nil {
		return err
	}
	for _, r := range rec.Snapshot.Readings {
		payload := "null"
		if r.Valid {
			payload = strconv.FormatFloat(r.Value, 'f', -1, 64)
		}
		if err := m.send(ctx, m.prefix+"/sensors/"+string(r.Metric), true, payload); err != nil {
			return err
		}
	}
	if rec.Intervention.Needed {
		return m.send(ctx, m.prefix+"/alert", false, rec.Intervention.Message)
	}
	return nil
}

func (m *MQTT) send(ctx context.Context, topic string, retained bool, payload interface{}) error {
	tok := m.client.Publish(topic, m.qos, retained, payload)
	var timeout <-chan time.Time
	if m.timeout > 0 {
		t := time.NewTimer(m.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("mqtt publish to %s timed out after %s", topic, m.timeout)
	}
}
