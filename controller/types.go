package controller

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metric identifies one physical quantity sampled each cycle.
type Metric string

const (
	MetricAirTemp   Metric = "air_temp_c"
	MetricHumidity  Metric = "humidity_pct"
	MetricWaterTemp Metric = "water_temp_c"
	MetricPH        Metric = "ph"
	MetricTDS       Metric = "tds_ppm"
)

// Metrics lists every sampled metric in snapshot order.
var Metrics = []Metric{MetricAirTemp, MetricHumidity, MetricWaterTemp, MetricPH, MetricTDS}

func (m Metric) Unit() string {
	switch m {
	case MetricAirTemp, MetricWaterTemp:
		return "C"
	case MetricHumidity:
		return "%"
	case MetricTDS:
		return "ppm"
	default:
		return ""
	}
}

// Critical metrics cannot be missing: a decision without them is not trusted.
func (m Metric) Critical() bool {
	return m == MetricPH || m == MetricTDS
}

// SensorReading is the denoised value of one metric. An invalid reading
// carries no value; it is encoded as null, never as zero.
type SensorReading struct {
	Metric Metric
	Value  float64
	Unit   string
	Time   time.Time
	Valid  bool
	Reason string
}

type sensorReadingJSON struct {
	Metric Metric    `json:"metric"`
	Value  *float64  `json:"value"`
	Unit   string    `json:"unit"`
	Time   time.Time `json:"ts"`
	Valid  bool      `json:"valid"`
	Reason string    `json:"reason,omitempty"`
}

func (r SensorReading) MarshalJSON() ([]byte, error) {
	out := sensorReadingJSON{Metric: r.Metric, Unit: r.Unit, Time: r.Time, Valid: r.Valid, Reason: r.Reason}
	if r.Valid {
		v := r.Value
		out.Value = &v
	}
	return json.Marshal(out)
}

func (r *SensorReading) UnmarshalJSON(b []byte) error {
	var in sensorReadingJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = SensorReading{Metric: in.Metric, Unit: in.Unit, Time: in.Time, Valid: in.Valid && in.Value != nil, Reason: in.Reason}
	if r.Valid {
		r.Value = *in.Value
	}
	return nil
}

// Invalidate returns a copy of the reading marked invalid.
func (r SensorReading) Invalidate(reason string) SensorReading {
	r.Valid = false
	r.Value = 0
	r.Reason = reason
	return r
}

// Snapshot holds one reading per metric for a single cycle. It is treated
// as immutable: With returns a modified copy.
type Snapshot struct {
	Time     time.Time       `json:"ts"`
	Readings []SensorReading `json:"readings"`
}

// NewSnapshot orders the readings by Metrics. Unknown metrics keep their
// relative order after the known ones.
func NewSnapshot(t time.Time, readings ...SensorReading) Snapshot {
	ordered := make([]SensorReading, 0, len(readings))
	seen := make(map[Metric]bool, len(readings))
	for _, m := range Metrics {
		for _, r := range readings {
			if r.Metric == m && !seen[m] {
				ordered = append(ordered, r)
				seen[m] = true
			}
		}
	}
	for _, r := range readings {
		if !seen[r.Metric] {
			ordered = append(ordered, r)
			seen[r.Metric] = true
		}
	}
	return Snapshot{Time: t, Readings: ordered}
}

func (s Snapshot) Get(m Metric) (SensorReading, bool) {
	for _, r := range s.Readings {
		if r.Metric == m {
			return r, true
		}
	}
	return SensorReading{}, false
}

// Value returns the metric value only when a valid reading exists.
func (s Snapshot) Value(m Metric) (float64, bool) {
	r, ok := s.Get(m)
	if !ok || !r.Valid {
		return 0, false
	}
	return r.Value, true
}

// With returns a copy of the snapshot with r replacing the reading of the same metric.
func (s Snapshot) With(r SensorReading) Snapshot {
	readings := make([]SensorReading, 0, len(s.Readings)+1)
	replaced := false
	for _, old := range s.Readings {
		if old.Metric == r.Metric {
			readings = append(readings, r)
			replaced = true
			continue
		}
		readings = append(readings, old)
	}
	if !replaced {
		readings = append(readings, r)
	}
	return NewSnapshot(s.Time, readings...)
}

// Values maps every metric to its value, nil when invalid or missing.
func (s Snapshot) Values() map[Metric]*float64 {
	out := make(map[Metric]*float64, len(Metrics))
	for _, m := range Metrics {
		if v, ok := s.Value(m); ok {
			out[m] = &v
		} else {
			out[m] = nil
		}
	}
	return out
}

// Switch is the target state of a binary device.
type Switch string

const (
	On  Switch = "on"
	Off Switch = "off"
)

func (s Switch) Valid() bool { return s == On || s == Off }

// PHAdjustment selects at most one dosing direction.
type PHAdjustment string

const (
	PHNone PHAdjustment = "none"
	PHUp   PHAdjustment = "up"
	PHDown PHAdjustment = "down"
)

func (p PHAdjustment) Valid() bool { return p == PHNone || p == PHUp || p == PHDown }

// Device names a physical actuator.
type Device string

const (
	DeviceLight      Device = "light"
	DeviceAirPump    Device = "air_pump"
	DeviceHumidifier Device = "humidifier"
	DevicePHUp       Device = "ph_up"
	DevicePHDown     Device = "ph_down"
)

// Outlets are the binary devices, in the order they are applied.
var Outlets = []Device{DeviceLight, DeviceAirPump, DeviceHumidifier}

// Command is the per-device target state for one cycle. Dosing direction is a
// single field, so both pumps can never be requested together.
type Command struct {
	Light           Switch        `json:"light"`
	AirPump         Switch        `json:"air_pump"`
	Humidifier      Switch        `json:"humidifier"`
	PHAdjustment    PHAdjustment  `json:"ph_adjustment"`
	DosePulse       time.Duration `json:"dose_pulse,omitempty"`
	HumidifierBurst time.Duration `json:"humidifier_burst,omitempty"`
}

// SafeDefaults is the command applied whenever the cycle falls back.
func SafeDefaults() Command {
	return Command{Light: On, AirPump: On, Humidifier: Off, PHAdjustment: PHNone}
}

// Switch returns the target of a binary device.
func (c Command) Switch(d Device) Switch {
	switch d {
	case DeviceLight:
		return c.Light
	case DeviceAirPump:
		return c.AirPump
	case DeviceHumidifier:
		return c.Humidifier
	default:
		return Off
	}
}

// Dose returns the active pump and its pulse, or ok=false when no dosing is requested.
func (c Command) Dose() (Device, time.Duration, bool) {
	switch c.PHAdjustment {
	case PHUp:
		return DevicePHUp, c.DosePulse, true
	case PHDown:
		return DevicePHDown, c.DosePulse, true
	default:
		return "", 0, false
	}
}

func (c Command) Validate() error {
	for _, d := range Outlets {
		if !c.Switch(d).Valid() {
			return fmt.Errorf("%s: invalid state %q", d, c.Switch(d))
		}
	}
	if !c.PHAdjustment.Valid() {
		return fmt.Errorf("ph_adjustment: invalid value %q", c.PHAdjustment)
	}
	if c.PHAdjustment == PHNone && c.DosePulse != 0 {
		return fmt.Errorf("dose pulse %s without a dosing direction", c.DosePulse)
	}
	if c.PHAdjustment != PHNone && c.DosePulse <= 0 {
		return fmt.Errorf("dosing %s requires a positive pulse", c.PHAdjustment)
	}
	if c.Humidifier == Off && c.HumidifierBurst != 0 {
		return fmt.Errorf("humidifier burst %s while humidifier is off", c.HumidifierBurst)
	}
	return nil
}

// Reasoning is the per-actuator justification of a decision.
type Reasoning struct {
	Overall    string `json:"overall"`
	Light      string `json:"light_reason"`
	AirPump    string `json:"air_pump_reason"`
	Humidifier string `json:"humidifier_reason"`
	PH         string `json:"ph_reason"`
}

// Annotate appends note to the reasoning of the given device.
func (r *Reasoning) Annotate(d Device, note string) {
	var field *string
	switch d {
	case DeviceLight:
		field = &r.Light
	case DeviceAirPump:
		field = &r.AirPump
	case DeviceHumidifier:
		field = &r.Humidifier
	case DevicePHUp, DevicePHDown:
		field = &r.PH
	default:
		field = &r.Overall
	}
	if *field == "" {
		*field = note
		return
	}
	*field += " " + note
}

type Intervention struct {
	Needed  bool   `json:"needed"`
	Message string `json:"message"`
}

// Escalate forces the flag and appends msg.
func (i *Intervention) Escalate(msg string) {
	i.Needed = true
	if i.Message == "" {
		i.Message = msg
		return
	}
	i.Message += "; " + msg
}

// Outcome tags how far the oracle's decision was trusted.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeClamped  Outcome = "clamped"
	OutcomeFallback Outcome = "fallback"
)

// Clamp records one override applied by the safety post-check.
type Clamp struct {
	Device Device `json:"device"`
	From   string `json:"from"`
	To     string `json:"to"`
	Cause  string `json:"cause"`
}

// CycleError is an error captured during a cycle, tagged with its component.
type CycleError struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

type DeviceState struct {
	On       bool          `json:"on"`
	Known    bool          `json:"known"`
	LastDose time.Duration `json:"last_dose,omitempty"`
	Changed  time.Time     `json:"changed,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ActuatorState is the last known state of every device.
type ActuatorState map[Device]DeviceState

func (s ActuatorState) Copy() ActuatorState {
	out := make(ActuatorState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ImageRef points at the snapshot photo used for a decision.
type ImageRef struct {
	Path     string    `json:"path"`
	Bytes    int       `json:"bytes"`
	Captured time.Time `json:"captured"`
	Stale    bool      `json:"stale,omitempty"`
}

// Image is a photo ready to be attached to an oracle request.
type Image struct {
	Ref      ImageRef
	Data     []byte
	MIMEType string
}

// DecisionRecord is the audit unit of one cycle. It is never modified after
// it has been appended to history.
type DecisionRecord struct {
	ID            string        `json:"id"`
	Time          time.Time     `json:"timestamp"`
	Snapshot      Snapshot      `json:"sensor_snapshot"`
	Image         *ImageRef     `json:"image,omitempty"`
	RawResponse   string        `json:"raw_response,omitempty"`
	FallbackCause string        `json:"fallback_cause,omitempty"`
	Command       Command       `json:"command"`
	Reasoning     Reasoning     `json:"reasoning"`
	HealthScore   *int          `json:"plant_health_score"`
	Intervention  Intervention  `json:"human_intervention"`
	Outcome       Outcome       `json:"outcome"`
	Clamps        []Clamp       `json:"clamps,omitempty"`
	Errors        []CycleError  `json:"errors,omitempty"`
	State         ActuatorState `json:"actuator_state,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// AddError captures err under component.
func (r *DecisionRecord) AddError(component string, err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, CycleError{Component: component, Message: err.Error()})
}
