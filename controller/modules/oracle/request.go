package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hydropi/hydropi/controller"
)

// Request is everything the oracle sees for one decision.
type Request struct {
	Time        time.Time                      `json:"time"`
	Sensors     map[controller.Metric]*float64 `json:"sensors"`
	Invalid     map[controller.Metric]string   `json:"invalid_sensors,omitempty"`
	Image       *controller.ImageRef           `json:"image,omitempty"`
	History     []HistoryEntry                 `json:"history"`
	DomainRules DomainRules                    `json:"domain_rules"`
}

type HistoryEntry struct {
	Time         time.Time                      `json:"timestamp"`
	Sensors      map[controller.Metric]*float64 `json:"sensors"`
	Decision     controller.Command             `json:"decision"`
	Outcome      controller.Outcome             `json:"outcome"`
	Reasoning    controller.Reasoning           `json:"reasoning"`
	HealthScore  *int                           `json:"plant_health_score"`
	Intervention bool                           `json:"human_intervention"`
}

type LightSchedule struct {
	OnHour  int  `json:"on_hour"`
	OffHour int  `json:"off_hour"`
	Daytime bool `json:"daytime_now"`
}

type DomainRules struct {
	Plant           string                                 `json:"plant"`
	System          string                                 `json:"system"`
	IdealRanges     map[controller.Metric]controller.Range `json:"ideal_ranges"`
	GuardrailMargin float64                                `json:"ph_guardrail_margin"`
	Lights          LightSchedule                          `json:"light_schedule"`
}

// daytime reports whether hour falls within the on/off schedule. An off
// hour before the on hour wraps past midnight.
func (l LightSchedule) daytime(hour int) bool {
	if l.OnHour <= l.OffHour {
		return hour >= l.OnHour && hour < l.OffHour
	}
	return hour >= l.OnHour || hour < l.OffHour
}

func historyEntries(recs []controller.DecisionRecord) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, HistoryEntry{
			Time:         r.Time,
			Sensors:      r.Snapshot.Values(),
			Decision:     r.Command,
			Outcome:      r.Outcome,
			Reasoning:    r.Reasoning,
			HealthScore:  r.HealthScore,
			Intervention: r.Intervention.Needed,
		})
	}
	return out
}

const instructions = `You are the climate and nutrient controller of an indoor deep water culture hydroponic system growing %s.
Decide the state of every actuator for the next cycle from the sensor data, the attached photo (when present) and recent history.

Actuators:
- light: "on" or "off". Follow the light schedule unless the photo clearly shows a problem.
- air_pump: "on" or "off". Roots in deep water culture need oxygen; keep it on unless there is a strong reason.
- humidifier: "on" or "off". It runs as a short burst, only use it when humidity is below the ideal range.
- ph_adjustment: "none", "up" or "down". Dosing is only allowed when pH is outside the ideal range by at least the guardrail margin. Prefer "none" when unsure.

Sensor values of null are unavailable; never guess them.
Give plant_health_score as an integer from 0 (dead) to 10 (thriving) based on the photo and data.
Set human_intervention.needed when a person must act (refill reservoir, replace solution, pests, disease, hardware fault) and explain in human_intervention.message.
Reply with a single JSON object matching the response schema and nothing else.

Input:
%s
`

// Prompt renders the request as the text part of the oracle call.
func (r Request) Prompt() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	plant := r.DomainRules.Plant
	if strings.TrimSpace(plant) == "" {
		plant = "leafy greens"
	}
	return fmt.Sprintf(instructions, plant, data), nil
}
