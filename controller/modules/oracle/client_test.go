package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/hydropi/hydropi/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const validResponse = `{
  "light": "on",
  "air_pump": "on",
  "humidifier": "off",
  "ph_adjustment": "up",
  "reasoning": {
    "overall": "pH is low, everything else nominal.",
    "light_reason": "Daytime.",
    "air_pump_reason": "Roots need oxygen.",
    "humidifier_reason": "Humidity is fine.",
    "ph_reason": "pH below range."
  },
  "plant_health_score": 8,
  "human_intervention": {"needed": false, "message": ""}
}`

type fakeGenerator struct {
	text     string
	err      error
	block    bool
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	calls    int
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.contents = contents
	f.config = config
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

func testClient(gen Generator) *Client {
	c := New(gen, *controller.DefaultConfig(), zap.NewNop())
	c.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }
	return c
}

func testSnapshot() controller.Snapshot {
	return controller.NewSnapshot(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		controller.SensorReading{Metric: controller.MetricPH, Value: 4.8, Valid: true},
		controller.SensorReading{Metric: controller.MetricTDS, Value: 700, Valid: true},
		controller.SensorReading{Metric: controller.MetricHumidity}.Invalidate("read failed"),
	)
}

func TestDecideAcceptsValidResponse(t *testing.T) {
	gen := &fakeGenerator{text: validResponse}
	c := testClient(gen)
	img := &controller.Image{Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg", Ref: controller.ImageRef{Path: "p.jpg"}}

	cand, err := c.Decide(context.Background(), testSnapshot(), img, nil)
	require.NoError(t, err)
	assert.Equal(t, controller.PHUp, cand.Command.PHAdjustment)
	assert.Equal(t, controller.On, cand.Command.Light)
	assert.Equal(t, 8, cand.HealthScore)
	assert.Equal(t, "pH below range.", cand.Reasoning.PH)
	assert.Equal(t, validResponse, cand.Raw)

	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "gemini-3-flash-preview", gen.model)
	require.Len(t, gen.contents, 1)
	require.Len(t, gen.contents[0].Parts, 2)
	assert.NotNil(t, gen.contents[0].Parts[0].InlineData)
	assert.Contains(t, gen.contents[0].Parts[1].Text, `"ph": 4.8`)
	assert.Contains(t, gen.contents[0].Parts[1].Text, `"humidity_pct": null`)
	assert.Equal(t, "application/json", gen.config.ResponseMIMEType)
	require.NotNil(t, gen.config.Temperature)
	assert.InDelta(t, 0.2, *gen.config.Temperature, 1e-6)
}

func TestDecideWithoutImageSendsTextOnly(t *testing.T) {
	gen := &fakeGenerator{text: validResponse}
	_, err := testClient(gen).Decide(context.Background(), testSnapshot(), nil, nil)
	require.NoError(t, err)
	require.Len(t, gen.contents[0].Parts, 1)
}

func TestDecideTimeout(t *testing.T) {
	gen := &fakeGenerator{block: true}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := testClient(gen).Decide(ctx, testSnapshot(), nil, nil)
	var oe *controller.OracleError
	require.ErrorAs(t, err, &oe)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, gen.calls)
}

func TestDecideTransportError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("503 unavailable")}
	_, err := testClient(gen).Decide(context.Background(), testSnapshot(), nil, nil)
	var oe *controller.OracleError
	require.ErrorAs(t, err, &oe)
	assert.Contains(t, err.Error(), "503")
}

func TestDecideSchemaViolation(t *testing.T) {
	gen := &fakeGenerator{text: `{"light": "bright"}`}
	_, err := testClient(gen).Decide(context.Background(), testSnapshot(), nil, nil)
	var oe *controller.OracleError
	require.ErrorAs(t, err, &oe)
	assert.Contains(t, err.Error(), "schema violation")
}

func TestBuildRequest(t *testing.T) {
	c := testClient(&fakeGenerator{})
	reasoning := controller.Reasoning{Overall: "ok", Light: "day", AirPump: "roots", Humidifier: "dry", PH: "low"}
	reasoning.Annotate(controller.DevicePHUp, "[override: up -> none, pH 5.40 within guardrail]")
	history := []controller.DecisionRecord{{
		Time:      time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		Command:   controller.SafeDefaults(),
		Outcome:   controller.OutcomeClamped,
		Snapshot:  testSnapshot(),
		Reasoning: reasoning,
	}}
	req := c.BuildRequest(testSnapshot(), nil, history)

	assert.Nil(t, req.Image)
	assert.Equal(t, "read failed", req.Invalid[controller.MetricHumidity])
	require.Len(t, req.History, 1)
	assert.Equal(t, controller.OutcomeClamped, req.History[0].Outcome)
	assert.Equal(t, reasoning, req.History[0].Reasoning)

	raw, err := json.Marshal(req.History[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"humidifier_reason":"dry"`)
	assert.Contains(t, string(raw), "[override: up -")
	assert.True(t, req.DomainRules.Lights.Daytime)
	assert.Equal(t, controller.Range{Min: 5.5, Max: 6.5}, req.DomainRules.IdealRanges[controller.MetricPH])
}

func TestBuildRequestUsesCycleTimezone(t *testing.T) {
	cfg := *controller.DefaultConfig()
	cfg.Cycle.Timezone = "Asia/Tokyo"
	cfg.Cycle.LightsOnHour, cfg.Cycle.LightsOffHour = 6, 22
	c := New(&fakeGenerator{}, cfg, zap.NewNop())

	// 23:00 UTC is 08:00 the next morning in Tokyo
	c.now = func() time.Time { return time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC) }
	assert.True(t, c.BuildRequest(testSnapshot(), nil, nil).DomainRules.Lights.Daytime)

	c.now = func() time.Time { return time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC) }
	assert.False(t, c.BuildRequest(testSnapshot(), nil, nil).DomainRules.Lights.Daytime)
}

func TestLightScheduleWrapsMidnight(t *testing.T) {
	l := LightSchedule{OnHour: 20, OffHour: 8}
	assert.True(t, l.daytime(22))
	assert.True(t, l.daytime(3))
	assert.False(t, l.daytime(12))

	l = LightSchedule{OnHour: 6, OffHour: 22}
	assert.True(t, l.daytime(6))
	assert.False(t, l.daytime(22))
}
