package controller

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Range is an inclusive interval.
type Range struct {
	Min float64 `mapstructure:"min" yaml:"min" json:"min"`
	Max float64 `mapstructure:"max" yaml:"max" json:"max"`
}

func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

func (r Range) String() string { return fmt.Sprintf("[%g, %g]", r.Min, r.Max) }

// SafetyBounds are the numeric guardrails consulted before and after every oracle decision.
type SafetyBounds struct {
	Plausible       map[Metric]Range `mapstructure:"plausible" yaml:"plausible"`
	Ideal           map[Metric]Range `mapstructure:"ideal" yaml:"ideal"`
	GuardrailMargin float64          `mapstructure:"guardrail_margin" yaml:"guardrail_margin"`
	DosePulse       time.Duration    `mapstructure:"dose_pulse" yaml:"dose_pulse"`
	MaxDosePulse    time.Duration    `mapstructure:"max_dose_pulse" yaml:"max_dose_pulse"`
	HumidifierMaxOn time.Duration    `mapstructure:"humidifier_max_on" yaml:"humidifier_max_on"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

type CycleConfig struct {
	// Interval is the nominal spacing of scheduled cycles.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Schedule is a cron expression or an RRULE (FREQ=...).
	Schedule      string        `mapstructure:"schedule" yaml:"schedule"`
	Timezone      string        `mapstructure:"timezone" yaml:"timezone"`
	HistoryWindow int           `mapstructure:"history_window" yaml:"history_window"`
	OracleTimeout time.Duration `mapstructure:"oracle_timeout" yaml:"oracle_timeout"`
	LightsOnHour  int           `mapstructure:"lights_on_hour" yaml:"lights_on_hour"`
	LightsOffHour int           `mapstructure:"lights_off_hour" yaml:"lights_off_hour"`
}

// Location resolves Timezone. Empty and "Local" mean the host zone.
func (c CycleConfig) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("cycle.timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

type CalibrationPoint struct {
	Observed float64 `mapstructure:"observed" yaml:"observed"`
	Expected float64 `mapstructure:"expected" yaml:"expected"`
}

type SensorsConfig struct {
	Backend           string        `mapstructure:"backend" yaml:"backend"`
	ReadingsPerSensor int           `mapstructure:"readings_per_sensor" yaml:"readings_per_sensor"`
	Discard           int           `mapstructure:"discard" yaml:"discard"`
	MinValid          int           `mapstructure:"min_valid" yaml:"min_valid"`
	ReadDelay         time.Duration `mapstructure:"read_delay" yaml:"read_delay"`
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"`

	ADCAddress    int                `mapstructure:"adc_address" yaml:"adc_address"`
	PHChannel     int                `mapstructure:"ph_channel" yaml:"ph_channel"`
	TDSChannel    int                `mapstructure:"tds_channel" yaml:"tds_channel"`
	PHCalibration []CalibrationPoint `mapstructure:"ph_calibration" yaml:"ph_calibration"`
	// TDSExpression converts probe volts (v) to ppm.
	TDSExpression string `mapstructure:"tds_expression" yaml:"tds_expression"`
	OneWireDir    string `mapstructure:"one_wire_dir" yaml:"one_wire_dir"`
	IIODevice     string `mapstructure:"iio_device" yaml:"iio_device"`

	// Static values are served by the "static" backend.
	Static map[Metric]float64 `mapstructure:"static" yaml:"static"`
}

type OracleConfig struct {
	Backend     string  `mapstructure:"backend" yaml:"backend"`
	Model       string  `mapstructure:"model" yaml:"model"`
	APIKey      string  `mapstructure:"api_key" yaml:"-"`
	Project     string  `mapstructure:"project" yaml:"project"`
	Location    string  `mapstructure:"location" yaml:"location"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature"`
	Plant       string  `mapstructure:"plant" yaml:"plant"`
}

type CameraConfig struct {
	Enable    bool          `mapstructure:"enable" yaml:"enable"`
	Command   []string      `mapstructure:"command" yaml:"command"`
	PhotoDir  string        `mapstructure:"photo_dir" yaml:"photo_dir"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxWidth  uint          `mapstructure:"max_width" yaml:"max_width"`
	MaxHeight uint          `mapstructure:"max_height" yaml:"max_height"`
	Quality   int           `mapstructure:"quality" yaml:"quality"`
}

type OutletConfig struct {
	Topic     string `mapstructure:"topic" yaml:"topic"`
	Pin       int    `mapstructure:"pin" yaml:"pin"`
	ActiveLow bool   `mapstructure:"active_low" yaml:"active_low"`
}

type ActuatorsConfig struct {
	// OutletBackend drives light, air pump and humidifier: mqtt, gpio or memory.
	OutletBackend string                  `mapstructure:"outlet_backend" yaml:"outlet_backend"`
	Outlets       map[Device]OutletConfig `mapstructure:"outlets" yaml:"outlets"`
	GPIOChip      string                  `mapstructure:"gpio_chip" yaml:"gpio_chip"`
	CommandDelay  time.Duration           `mapstructure:"command_delay" yaml:"command_delay"`
	// PumpBackend drives the dosing pumps: motorhat, gpio or memory.
	PumpBackend     string `mapstructure:"pump_backend" yaml:"pump_backend"`
	MotorHatAddress int    `mapstructure:"motorhat_address" yaml:"motorhat_address"`
	PHUpMotor       int    `mapstructure:"ph_up_motor" yaml:"ph_up_motor"`
	PHDownMotor     int    `mapstructure:"ph_down_motor" yaml:"ph_down_motor"`
	PHUpPin         int    `mapstructure:"ph_up_pin" yaml:"ph_up_pin"`
	PHDownPin       int    `mapstructure:"ph_down_pin" yaml:"ph_down_pin"`
}

type MQTTConfig struct {
	Enable      bool          `mapstructure:"enable" yaml:"enable"`
	Broker      string        `mapstructure:"broker" yaml:"broker"`
	ClientID    string        `mapstructure:"client_id" yaml:"client_id"`
	Username    string        `mapstructure:"username" yaml:"username"`
	Password    string        `mapstructure:"password" yaml:"-"`
	TopicPrefix string        `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte          `mapstructure:"qos" yaml:"qos"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type AdafruitIOConfig struct {
	Enable bool   `mapstructure:"enable" yaml:"enable"`
	User   string `mapstructure:"user" yaml:"user"`
	Token  string `mapstructure:"token" yaml:"-"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

type KafkaConfig struct {
	Enable  bool     `mapstructure:"enable" yaml:"enable"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

type TelemetryConfig struct {
	Prometheus bool             `mapstructure:"prometheus" yaml:"prometheus"`
	AlertFile  string           `mapstructure:"alert_file" yaml:"alert_file"`
	AdafruitIO AdafruitIOConfig `mapstructure:"adafruitio" yaml:"adafruitio"`
	Kafka      KafkaConfig      `mapstructure:"kafka" yaml:"kafka"`
}

type UploadConfig struct {
	Enable         bool          `mapstructure:"enable" yaml:"enable"`
	DatabaseURL    string        `mapstructure:"database_url" yaml:"-"`
	Table          string        `mapstructure:"table" yaml:"table"`
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
}

type APIConfig struct {
	Enable  bool   `mapstructure:"enable" yaml:"enable"`
	Address string `mapstructure:"address" yaml:"address"`
}

// Config is the complete controller configuration.
type Config struct {
	DevMode   bool            `mapstructure:"dev_mode" yaml:"dev_mode"`
	Database  string          `mapstructure:"database" yaml:"database"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Cycle     CycleConfig     `mapstructure:"cycle" yaml:"cycle"`
	Sensors   SensorsConfig   `mapstructure:"sensors" yaml:"sensors"`
	Safety    SafetyBounds    `mapstructure:"safety" yaml:"safety"`
	Oracle    OracleConfig    `mapstructure:"oracle" yaml:"oracle"`
	Camera    CameraConfig    `mapstructure:"camera" yaml:"camera"`
	Actuators ActuatorsConfig `mapstructure:"actuators" yaml:"actuators"`
	MQTT      MQTTConfig      `mapstructure:"mqtt" yaml:"mqtt"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Upload    UploadConfig    `mapstructure:"upload" yaml:"upload"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
}

func rangeDefault(min, max float64) map[string]interface{} {
	return map[string]interface{}{"min": min, "max": max}
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("dev_mode", false)
	v.SetDefault("database", "hydropi.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.log_file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.service_name", "hydropi")

	v.SetDefault("cycle.interval", time.Hour)
	v.SetDefault("cycle.schedule", "@hourly")
	v.SetDefault("cycle.timezone", "Local")
	v.SetDefault("cycle.history_window", 3)
	v.SetDefault("cycle.oracle_timeout", 60*time.Second)
	v.SetDefault("cycle.lights_on_hour", 6)
	v.SetDefault("cycle.lights_off_hour", 22)

	v.SetDefault("sensors.backend", "hardware")
	v.SetDefault("sensors.readings_per_sensor", 5)
	v.SetDefault("sensors.discard", 2)
	v.SetDefault("sensors.min_valid", 2)
	v.SetDefault("sensors.read_delay", 2*time.Second)
	v.SetDefault("sensors.concurrency", 2)
	v.SetDefault("sensors.adc_address", 0x48)
	v.SetDefault("sensors.ph_channel", 1)
	v.SetDefault("sensors.tds_channel", 0)
	v.SetDefault("sensors.ph_calibration", []map[string]interface{}{
		{"observed": 2.5, "expected": 7.0},
		{"observed": 1.5, "expected": 10.5},
	})
	v.SetDefault("sensors.tds_expression", "(133.42 * v ** 3 - 255.86 * v ** 2 + 857.39 * v) * 0.5")
	v.SetDefault("sensors.one_wire_dir", "/sys/bus/w1/devices")
	v.SetDefault("sensors.iio_device", "/sys/bus/iio/devices/iio:device0")

	v.SetDefault("safety.plausible", map[string]interface{}{
		string(MetricAirTemp):   rangeDefault(5, 50),
		string(MetricHumidity):  rangeDefault(5, 100),
		string(MetricWaterTemp): rangeDefault(5, 50),
		string(MetricPH):        rangeDefault(3, 9),
		string(MetricTDS):       rangeDefault(0, 3000),
	})
	v.SetDefault("safety.ideal", map[string]interface{}{
		string(MetricAirTemp):   rangeDefault(20, 28),
		string(MetricHumidity):  rangeDefault(40, 70),
		string(MetricWaterTemp): rangeDefault(18, 24),
		string(MetricPH):        rangeDefault(5.5, 6.5),
		string(MetricTDS):       rangeDefault(560, 840),
	})
	v.SetDefault("safety.guardrail_margin", 0.5)
	v.SetDefault("safety.dose_pulse", 5*time.Second)
	v.SetDefault("safety.max_dose_pulse", 10*time.Second)
	v.SetDefault("safety.humidifier_max_on", 5*time.Minute)

	v.SetDefault("oracle.backend", "gemini")
	v.SetDefault("oracle.model", "gemini-3-flash-preview")
	v.SetDefault("oracle.temperature", 0.2)
	v.SetDefault("oracle.plant", "basil")

	v.SetDefault("camera.enable", true)
	v.SetDefault("camera.command", []string{"fswebcam", "-r", "1920x1080", "-S", "10", "--no-banner", "{output}"})
	v.SetDefault("camera.photo_dir", "photos")
	v.SetDefault("camera.timeout", 30*time.Second)
	v.SetDefault("camera.max_width", 1024)
	v.SetDefault("camera.max_height", 1024)
	v.SetDefault("camera.quality", 85)

	v.SetDefault("actuators.outlet_backend", "mqtt")
	v.SetDefault("actuators.outlets", map[string]interface{}{
		string(DeviceLight):      map[string]interface{}{"topic": "cmnd/hydropi/POWER1", "pin": 17},
		string(DeviceAirPump):    map[string]interface{}{"topic": "cmnd/hydropi/POWER2", "pin": 27},
		string(DeviceHumidifier): map[string]interface{}{"topic": "cmnd/hydropi/POWER3", "pin": 22},
	})
	v.SetDefault("actuators.gpio_chip", "gpiochip0")
	v.SetDefault("actuators.command_delay", 500*time.Millisecond)
	v.SetDefault("actuators.pump_backend", "motorhat")
	v.SetDefault("actuators.motorhat_address", 0x60)
	v.SetDefault("actuators.ph_up_motor", 2)
	v.SetDefault("actuators.ph_down_motor", 1)
	v.SetDefault("actuators.ph_up_pin", 23)
	v.SetDefault("actuators.ph_down_pin", 24)

	v.SetDefault("mqtt.enable", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "hydropi")
	v.SetDefault("mqtt.topic_prefix", "hydropi")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.timeout", 10*time.Second)

	v.SetDefault("telemetry.prometheus", true)
	v.SetDefault("telemetry.alert_file", "ALERT.txt")
	v.SetDefault("telemetry.adafruitio.enable", false)
	v.SetDefault("telemetry.adafruitio.prefix", "hydropi")
	v.SetDefault("telemetry.kafka.enable", false)
	v.SetDefault("telemetry.kafka.topic", "hydropi.decisions")

	v.SetDefault("upload.enable", false)
	v.SetDefault("upload.table", "decisions")
	v.SetDefault("upload.max_elapsed_time", 30*time.Second)

	v.SetDefault("api.enable", true)
	v.SetDefault("api.address", "0.0.0.0:8080")

	// Secrets come from the environment only.
	_ = v.BindEnv("oracle.api_key", "GEMINI_API_KEY", "HYDROPI_ORACLE_API_KEY")
	_ = v.BindEnv("upload.database_url", "HYDROPI_UPLOAD_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("telemetry.adafruitio.token", "HYDROPI_TELEMETRY_ADAFRUITIO_TOKEN")
	_ = v.BindEnv("mqtt.password", "HYDROPI_MQTT_PASSWORD")
}

// NewConfigFromViper decodes and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig returns the validated defaults with no file or environment applied.
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// NewViper prepares a viper instance reading HYDROPI_* environment overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("HYDROPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func (c *Config) Validate() error {
	var errs []error
	if c.Cycle.Interval <= 0 {
		errs = append(errs, errors.New("cycle.interval must be positive"))
	}
	if c.Cycle.HistoryWindow < 0 {
		errs = append(errs, errors.New("cycle.history_window cannot be negative"))
	}
	if c.Cycle.OracleTimeout <= 0 {
		errs = append(errs, errors.New("cycle.oracle_timeout must be positive"))
	}
	if _, err := c.Cycle.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Cycle.LightsOnHour < 0 || c.Cycle.LightsOnHour > 23 || c.Cycle.LightsOffHour < 0 || c.Cycle.LightsOffHour > 24 {
		errs = append(errs, errors.New("cycle light hours must be within 0-24"))
	}
	s := c.Sensors
	if s.ReadingsPerSensor < 1 {
		errs = append(errs, errors.New("sensors.readings_per_sensor must be at least 1"))
	}
	if s.Discard < 0 || s.Discard >= s.ReadingsPerSensor {
		errs = append(errs, fmt.Errorf("sensors.discard must be within [0, %d)", s.ReadingsPerSensor))
	}
	if s.MinValid < 1 || s.MinValid > s.ReadingsPerSensor-s.Discard {
		errs = append(errs, fmt.Errorf("sensors.min_valid must be within [1, %d]", s.ReadingsPerSensor-s.Discard))
	}
	if s.Concurrency < 1 {
		errs = append(errs, errors.New("sensors.concurrency must be at least 1"))
	}
	if err := c.Safety.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Oracle.Model == "" {
		errs = append(errs, errors.New("oracle.model is required"))
	}
	if c.Upload.Enable && c.Upload.DatabaseURL == "" {
		errs = append(errs, errors.New("upload.database_url is required when upload is enabled"))
	}
	if c.Telemetry.Kafka.Enable && len(c.Telemetry.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("telemetry.kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}

func (b SafetyBounds) Validate() error {
	var errs []error
	for _, m := range Metrics {
		p, ok := b.Plausible[m]
		if !ok {
			errs = append(errs, fmt.Errorf("safety.plausible.%s is missing", m))
		} else if p.Min >= p.Max {
			errs = append(errs, fmt.Errorf("safety.plausible.%s: min must be below max", m))
		}
		i, ok := b.Ideal[m]
		if !ok {
			errs = append(errs, fmt.Errorf("safety.ideal.%s is missing", m))
		} else if i.Min >= i.Max {
			errs = append(errs, fmt.Errorf("safety.ideal.%s: min must be below max", m))
		}
	}
	if b.GuardrailMargin <= 0 {
		errs = append(errs, errors.New("safety.guardrail_margin must be positive"))
	}
	if b.DosePulse <= 0 || b.MaxDosePulse < b.DosePulse {
		errs = append(errs, errors.New("safety dose pulse must be positive and not exceed max_dose_pulse"))
	}
	if b.HumidifierMaxOn <= 0 {
		errs = append(errs, errors.New("safety.humidifier_max_on must be positive"))
	}
	return errors.Join(errs...)
}
