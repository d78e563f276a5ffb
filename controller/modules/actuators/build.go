package actuators

import (
	"fmt"
	"time"

	"github.com/hydropi/hydropi/controller"
	"go.uber.org/zap"
)

// Deps are the shared handles the hardware backends need.
type Deps struct {
	MQTT        Publisher
	QoS         byte
	MQTTTimeout time.Duration
	Bus         Bus
}

// Build creates the outlets and pumps selected by cfg. Handles opened before
// a failure are released.
func Build(cfg controller.ActuatorsConfig, deps Deps) (map[controller.Device]Outlet, map[controller.Device]Pump, error) {
	outlets := make(map[controller.Device]Outlet)
	pumps := make(map[controller.Device]Pump)
	if err := build(cfg, deps, outlets, pumps); err != nil {
		_ = NewExecutor(outlets, pumps, 0, zap.NewNop()).Close()
		return nil, nil, err
	}
	return outlets, pumps, nil
}

func build(cfg controller.ActuatorsConfig, deps Deps, outlets map[controller.Device]Outlet, pumps map[controller.Device]Pump) error {
	for _, d := range controller.Outlets {
		oc := cfg.Outlets[d]
		switch cfg.OutletBackend {
		case "memory":
			outlets[d] = &Memory{}
		case "mqtt":
			if deps.MQTT == nil {
				return fmt.Errorf("outlet %s: mqtt backend needs an mqtt connection", d)
			}
			if oc.Topic == "" {
				return fmt.Errorf("outlet %s: no topic configured", d)
			}
			outlets[d] = NewMQTTOutlet(deps.MQTT, oc.Topic, deps.QoS, deps.MQTTTimeout)
		case "gpio":
			r, err := NewRelay(cfg.GPIOChip, oc.Pin, oc.ActiveLow)
			if err != nil {
				return fmt.Errorf("outlet %s: %w", d, err)
			}
			outlets[d] = r
		default:
			return fmt.Errorf("unknown outlet backend %q", cfg.OutletBackend)
		}
	}

	switch cfg.PumpBackend {
	case "memory":
		pumps[controller.DevicePHUp] = &Memory{}
		pumps[controller.DevicePHDown] = &Memory{}
	case "motorhat":
		if deps.Bus == nil {
			return fmt.Errorf("motorhat pumps need an i2c bus")
		}
		hat, err := NewMotorHat(deps.Bus, byte(cfg.MotorHatAddress))
		if err != nil {
			return err
		}
		for d, n := range map[controller.Device]int{controller.DevicePHUp: cfg.PHUpMotor, controller.DevicePHDown: cfg.PHDownMotor} {
			m, err := hat.Motor(n)
			if err != nil {
				return fmt.Errorf("pump %s: %w", d, err)
			}
			pumps[d] = m
		}
	case "gpio":
		for d, pin := range map[controller.Device]int{controller.DevicePHUp: cfg.PHUpPin, controller.DevicePHDown: cfg.PHDownPin} {
			r, err := NewRelay(cfg.GPIOChip, pin, false)
			if err != nil {
				return fmt.Errorf("pump %s: %w", d, err)
			}
			pumps[d] = NewRelayPump(r)
		}
	default:
		return fmt.Errorf("unknown pump backend %q", cfg.PumpBackend)
	}
	return nil
}
