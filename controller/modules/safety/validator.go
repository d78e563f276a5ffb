// Package safety keeps every actuation inside fixed numeric bounds,
// regardless of what the decision oracle proposes.
package safety

import (
	"errors"
	"fmt"
	"time"

	"github.com/hydropi/hydropi/controller"
)

// epsilon absorbs float noise so a deviation exactly equal to the margin counts.
const epsilon = 1e-9

type Validator struct {
	bounds   controller.SafetyBounds
	interval time.Duration
}

// New returns a validator for bounds. interval is how long a command stays
// in force until the next cycle.
func New(bounds controller.SafetyBounds, interval time.Duration) *Validator {
	return &Validator{bounds: bounds, interval: interval}
}

func (v *Validator) Bounds() controller.SafetyBounds { return v.bounds }

type PreCheck struct {
	Snapshot controller.Snapshot
	// Invalid lists every metric without a usable reading.
	Invalid []controller.Metric
	// Fallback is set when a critical metric is unusable; the cycle must not consult the oracle.
	Fallback error
}

// Pre invalidates implausible readings and decides whether the cycle can
// proceed to the oracle.
func (v *Validator) Pre(s controller.Snapshot) PreCheck {
	out := s
	var invalid []controller.Metric
	var critical []error
	for _, m := range controller.Metrics {
		r, ok := s.Get(m)
		switch {
		case !ok:
			r = controller.SensorReading{Metric: m, Unit: m.Unit(), Time: s.Time}.Invalidate("missing from snapshot")
			out = out.With(r)
		case r.Valid:
			if p, ok := v.bounds.Plausible[m]; ok && !p.Contains(r.Value) {
				r = r.Invalidate(fmt.Sprintf("%g outside plausible range %s", r.Value, p))
				out = out.With(r)
			}
		}
		if r.Valid {
			continue
		}
		invalid = append(invalid, m)
		if m.Critical() {
			critical = append(critical, fmt.Errorf("critical reading %s invalid: %s", m, r.Reason))
		}
	}
	return PreCheck{Snapshot: out, Invalid: invalid, Fallback: errors.Join(critical...)}
}

type PostCheck struct {
	Command controller.Command
	Clamps  []controller.Clamp
}

func (p PostCheck) Outcome() controller.Outcome {
	if len(p.Clamps) > 0 {
		return controller.OutcomeClamped
	}
	return controller.OutcomeAccepted
}

// Post clamps a schema-valid command to the safety bounds. An error means the
// command cannot be made safe and the cycle must fall back.
func (v *Validator) Post(cmd controller.Command, s controller.Snapshot) (PostCheck, error) {
	if err := validEnums(cmd); err != nil {
		return PostCheck{}, err
	}
	out := cmd
	out.DosePulse = 0
	out.HumidifierBurst = 0
	var clamps []controller.Clamp

	if cmd.PHAdjustment != controller.PHNone {
		pulse, cause := v.dose(cmd.PHAdjustment, s)
		if cause != "" {
			dev, _, _ := cmd.Dose()
			clamps = append(clamps, controller.Clamp{Device: dev, From: string(cmd.PHAdjustment), To: string(controller.PHNone), Cause: cause})
			out.PHAdjustment = controller.PHNone
		} else {
			out.DosePulse = pulse
		}
	}

	if cmd.Humidifier == controller.On {
		if h, ok := s.Value(controller.MetricHumidity); ok && h >= v.bounds.Ideal[controller.MetricHumidity].Max {
			clamps = append(clamps, controller.Clamp{
				Device: controller.DeviceHumidifier,
				From:   string(controller.On),
				To:     string(controller.Off),
				Cause:  fmt.Sprintf("humidity %.1f%% already at or above ideal max %.1f%%", h, v.bounds.Ideal[controller.MetricHumidity].Max),
			})
			out.Humidifier = controller.Off
		} else {
			out.HumidifierBurst = v.bounds.HumidifierMaxOn
			if v.interval <= v.bounds.HumidifierMaxOn {
				out.HumidifierBurst = v.interval
			} else {
				clamps = append(clamps, controller.Clamp{
					Device: controller.DeviceHumidifier,
					From:   string(controller.On),
					To:     fmt.Sprintf("burst %s", v.bounds.HumidifierMaxOn),
					Cause:  fmt.Sprintf("continuous run limited to %s", v.bounds.HumidifierMaxOn),
				})
			}
		}
	}

	if err := out.Validate(); err != nil {
		return PostCheck{}, fmt.Errorf("clamped command invalid: %w", err)
	}
	return PostCheck{Command: out, Clamps: clamps}, nil
}

// dose returns the pulse for a dosing request, or the reason it is refused.
// Dosing is allowed only when pH is outside the ideal range by at least the
// guardrail margin, on the side the direction corrects.
func (v *Validator) dose(dir controller.PHAdjustment, s controller.Snapshot) (time.Duration, string) {
	ph, ok := s.Value(controller.MetricPH)
	if !ok {
		return 0, "pH reading unavailable"
	}
	ideal := v.bounds.Ideal[controller.MetricPH]
	margin := v.bounds.GuardrailMargin

	var deviation float64
	switch dir {
	case controller.PHUp:
		deviation = ideal.Min - ph
	case controller.PHDown:
		deviation = ph - ideal.Max
	}
	if deviation+epsilon < margin {
		return 0, fmt.Sprintf("pH %.2f is not %.2f outside ideal range %s in the %s direction", ph, margin, ideal, dir)
	}

	pulse := time.Duration(float64(v.bounds.DosePulse) * deviation / margin)
	if pulse < v.bounds.DosePulse {
		pulse = v.bounds.DosePulse
	}
	if pulse > v.bounds.MaxDosePulse {
		pulse = v.bounds.MaxDosePulse
	}
	return pulse, ""
}

func validEnums(cmd controller.Command) error {
	for _, d := range controller.Outlets {
		if !cmd.Switch(d).Valid() {
			return fmt.Errorf("%s: invalid state %q", d, cmd.Switch(d))
		}
	}
	if !cmd.PHAdjustment.Valid() {
		return fmt.Errorf("ph_adjustment: invalid value %q", cmd.PHAdjustment)
	}
	return nil
}
