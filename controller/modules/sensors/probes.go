package sensors

import (
	"fmt"

	"github.com/hydropi/hydropi/controller"
)

// NewProbes builds the probe set for the configured backend. The hardware
// backend needs bus; the static backend ignores it.
func NewProbes(cfg controller.SensorsConfig, bus Bus) (map[controller.Metric]Probe, error) {
	probes := make(map[controller.Metric]Probe)
	switch cfg.Backend {
	case "static":
		static := Static(cfg.Static)
		for m := range cfg.Static {
			probes[m] = static
		}
		return probes, nil
	case "hardware":
	default:
		return nil, fmt.Errorf("unknown sensors backend %q", cfg.Backend)
	}
	if bus == nil {
		return nil, fmt.Errorf("hardware sensors need an i2c bus")
	}

	ads := NewADS1115(bus, byte(cfg.ADCAddress))
	ph, err := PHConverter(cfg.PHCalibration)
	if err != nil {
		return nil, err
	}
	tds, err := ExpressionConverter(cfg.TDSExpression)
	if err != nil {
		return nil, err
	}
	if err := ads.Attach(controller.MetricPH, cfg.PHChannel, ph); err != nil {
		return nil, err
	}
	if err := ads.Attach(controller.MetricTDS, cfg.TDSChannel, tds); err != nil {
		return nil, err
	}
	dht := IIO{Device: cfg.IIODevice}

	probes[controller.MetricPH] = ads
	probes[controller.MetricTDS] = ads
	probes[controller.MetricWaterTemp] = DS18B20{Dir: cfg.OneWireDir}
	probes[controller.MetricAirTemp] = dht
	probes[controller.MetricHumidity] = dht
	return probes, nil
}
