package actuators

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the part of an MQTT client an outlet needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTOutlet switches a Tasmota style smart plug by publishing ON/OFF to
// its command topic, e.g. cmnd/hydropi/POWER1.
type MQTTOutlet struct {
	client  Publisher
	topic   string
	qos     byte
	timeout time.Duration
}

func NewMQTTOutlet(client Publisher, topic string, qos byte, timeout time.Duration) *MQTTOutlet {
	return &MQTTOutlet{client: client, topic: topic, qos: qos, timeout: timeout}
}

func (o *MQTTOutlet) Set(ctx context.Context, on bool) error {
	payload := "OFF"
	if on {
		payload = "ON"
	}
	tok := o.client.Publish(o.topic, o.qos, false, payload)
	var timeout <-chan time.Time
	if o.timeout > 0 {
		t := time.NewTimer(o.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("mqtt publish to %s timed out after %s", o.topic, o.timeout)
	}
}
