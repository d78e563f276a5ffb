package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/hydropi/hydropi/controller"
	"google.golang.org/genai"
)

// Candidate is a schema-valid oracle decision, not yet safety checked.
type Candidate struct {
	Command      controller.Command
	Reasoning    controller.Reasoning
	HealthScore  int
	Intervention controller.Intervention
	Raw          string
}

type wireReasoning struct {
	Overall    *string `json:"overall"`
	Light      *string `json:"light_reason"`
	AirPump    *string `json:"air_pump_reason"`
	Humidifier *string `json:"humidifier_reason"`
	PH         *string `json:"ph_reason"`
}

type wireIntervention struct {
	Needed  *bool   `json:"needed"`
	Message *string `json:"message"`
}

type wireResponse struct {
	Light             *string           `json:"light"`
	AirPump           *string           `json:"air_pump"`
	Humidifier        *string           `json:"humidifier"`
	PHAdjustment      *string           `json:"ph_adjustment"`
	Reasoning         *wireReasoning    `json:"reasoning"`
	PlantHealthScore  json.RawMessage   `json:"plant_health_score"`
	HumanIntervention *wireIntervention `json:"human_intervention"`
}

// ParseResponse validates raw oracle output against the decision schema.
// Any missing field, wrong type or out-of-range value is an error.
func ParseResponse(raw []byte) (Candidate, error) {
	var w wireResponse
	if err := json.Unmarshal(bytes.TrimSpace(raw), &w); err != nil {
		return Candidate{}, fmt.Errorf("malformed response: %w", err)
	}

	var errs []error
	switchField := func(name string, v *string) controller.Switch {
		if v == nil {
			errs = append(errs, fmt.Errorf("%s is required", name))
			return ""
		}
		s := controller.Switch(*v)
		if !s.Valid() {
			errs = append(errs, fmt.Errorf("%s: %q is not on/off", name, *v))
		}
		return s
	}
	text := func(name string, v *string) string {
		if v == nil {
			errs = append(errs, fmt.Errorf("%s is required", name))
			return ""
		}
		return *v
	}

	var c Candidate
	c.Command.Light = switchField("light", w.Light)
	c.Command.AirPump = switchField("air_pump", w.AirPump)
	c.Command.Humidifier = switchField("humidifier", w.Humidifier)
	if w.PHAdjustment == nil {
		errs = append(errs, errors.New("ph_adjustment is required"))
	} else {
		c.Command.PHAdjustment = controller.PHAdjustment(*w.PHAdjustment)
		if !c.Command.PHAdjustment.Valid() {
			errs = append(errs, fmt.Errorf("ph_adjustment: %q is not none/up/down", *w.PHAdjustment))
		}
	}

	if w.Reasoning == nil {
		errs = append(errs, errors.New("reasoning is required"))
	} else {
		c.Reasoning = controller.Reasoning{
			Overall:    text("reasoning.overall", w.Reasoning.Overall),
			Light:      text("reasoning.light_reason", w.Reasoning.Light),
			AirPump:    text("reasoning.air_pump_reason", w.Reasoning.AirPump),
			Humidifier: text("reasoning.humidifier_reason", w.Reasoning.Humidifier),
			PH:         text("reasoning.ph_reason", w.Reasoning.PH),
		}
	}

	score, err := parseScore(w.PlantHealthScore)
	if err != nil {
		errs = append(errs, err)
	}
	c.HealthScore = score

	if w.HumanIntervention == nil {
		errs = append(errs, errors.New("human_intervention is required"))
	} else {
		if w.HumanIntervention.Needed == nil {
			errs = append(errs, errors.New("human_intervention.needed is required"))
		} else {
			c.Intervention.Needed = *w.HumanIntervention.Needed
		}
		if w.HumanIntervention.Message != nil {
			c.Intervention.Message = *w.HumanIntervention.Message
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Candidate{}, fmt.Errorf("schema violation: %w", err)
	}
	c.Raw = string(raw)
	return c, nil
}

// parseScore accepts only a bare JSON integer in [0, 10].
func parseScore(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("plant_health_score is required")
	}
	score, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("plant_health_score: %s is not an integer", raw)
	}
	if score < 0 || score > 10 {
		return 0, fmt.Errorf("plant_health_score: %d outside [0, 10]", score)
	}
	return score, nil
}

// ResponseSchema constrains the model's JSON output to the decision schema.
func ResponseSchema() *genai.Schema {
	onOff := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Enum: []string{"on", "off"}, Description: desc}
	}
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"light":         onOff("grow light state"),
			"air_pump":      onOff("air pump state"),
			"humidifier":    onOff("humidifier state, runs as a short burst"),
			"ph_adjustment": {Type: genai.TypeString, Enum: []string{"none", "up", "down"}, Description: "dosing direction"},
			"reasoning": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"overall":           str("summary of the decision"),
					"light_reason":      str("why the light state was chosen"),
					"air_pump_reason":   str("why the air pump state was chosen"),
					"humidifier_reason": str("why the humidifier state was chosen"),
					"ph_reason":         str("why the pH adjustment was chosen"),
				},
				Required: []string{"overall", "light_reason", "air_pump_reason", "humidifier_reason", "ph_reason"},
			},
			"plant_health_score": {
				Type:        genai.TypeInteger,
				Minimum:     genai.Ptr(0.0),
				Maximum:     genai.Ptr(10.0),
				Description: "0 dead to 10 thriving",
			},
			"human_intervention": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"needed":  {Type: genai.TypeBoolean},
					"message": str("what a person must do"),
				},
				Required: []string{"needed", "message"},
			},
		},
		Required: []string{"light", "air_pump", "humidifier", "ph_adjustment", "reasoning", "plant_health_score", "human_intervention"},
	}
}
