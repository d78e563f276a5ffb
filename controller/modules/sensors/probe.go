package sensors

import (
	"context"
	"fmt"

	"github.com/hydropi/hydropi/controller"
)

// Probe performs a single raw read of a metric.
type Probe interface {
	Read(ctx context.Context, m controller.Metric) (float64, error)
}

// Limits are the physical ranges a probe can report at all. A raw value
// outside them is a hardware fault, not a reading.
var Limits = map[controller.Metric]controller.Range{
	controller.MetricAirTemp:   {Min: -40, Max: 80},
	controller.MetricHumidity:  {Min: 0, Max: 100},
	controller.MetricWaterTemp: {Min: -55, Max: 125},
	controller.MetricPH:        {Min: 0, Max: 14},
	controller.MetricTDS:       {Min: 0, Max: 5000},
}

// Static serves fixed values, for development without hardware.
type Static map[controller.Metric]float64

func (s Static) Read(_ context.Context, m controller.Metric) (float64, error) {
	v, ok := s[m]
	if !ok {
		return 0, fmt.Errorf("no static value for %s", m)
	}
	return v, nil
}
