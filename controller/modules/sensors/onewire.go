package sensors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hydropi/hydropi/controller"
)

// DS18B20 reads a one-wire water temperature probe through the kernel w1 driver.
type DS18B20 struct {
	Dir string
}

func (d DS18B20) Read(_ context.Context, _ controller.Metric) (float64, error) {
	devices, err := filepath.Glob(filepath.Join(d.Dir, "28*"))
	if err != nil {
		return 0, err
	}
	if len(devices) == 0 {
		return 0, fmt.Errorf("ds18b20: no device under %s", d.Dir)
	}
	data, err := os.ReadFile(filepath.Join(devices[0], "w1_slave"))
	if err != nil {
		return 0, fmt.Errorf("ds18b20: %w", err)
	}
	return parseW1Slave(string(data))
}

// parseW1Slave parses the two-line w1_slave format: a CRC line ending in
// YES and a data line ending in t=<millidegrees>.
func parseW1Slave(data string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("ds18b20: unexpected output %q", data)
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("ds18b20: crc check failed")
	}
	i := strings.Index(lines[1], "t=")
	if i < 0 {
		return 0, fmt.Errorf("ds18b20: no temperature in %q", lines[1])
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][i+2:]))
	if err != nil {
		return 0, fmt.Errorf("ds18b20: %w", err)
	}
	return float64(milli) / 1000, nil
}

// IIO reads a DHT22 through the kernel industrial I/O driver, which exposes
// temperature and humidity in thousandths.
type IIO struct {
	Device string
}

func (d IIO) Read(_ context.Context, m controller.Metric) (float64, error) {
	var file string
	switch m {
	case controller.MetricAirTemp:
		file = "in_temp_input"
	case controller.MetricHumidity:
		file = "in_humidityrelative_input"
	default:
		return 0, fmt.Errorf("iio: unsupported metric %s", m)
	}
	data, err := os.ReadFile(filepath.Join(d.Device, file))
	if err != nil {
		return 0, fmt.Errorf("iio: %w", err)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("iio: %w", err)
	}
	return float64(milli) / 1000, nil
}
