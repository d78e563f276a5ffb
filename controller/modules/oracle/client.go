// Package oracle asks a generative model for the next actuator command.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hydropi/hydropi/controller"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Generator is the subset of the genai models service the client calls.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGenerator connects to the Gemini API or Vertex AI.
func NewGenerator(ctx context.Context, cfg controller.OracleConfig) (Generator, error) {
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	switch cfg.Backend {
	case "", "gemini":
		if cfg.APIKey == "" {
			return nil, errors.New("oracle: GEMINI_API_KEY is required")
		}
	case "vertex":
		cc = &genai.ClientConfig{Backend: genai.BackendVertexAI, Project: cfg.Project, Location: cfg.Location}
	default:
		return nil, fmt.Errorf("oracle: unknown backend %q", cfg.Backend)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("oracle: create client: %w", err)
	}
	return client.Models, nil
}

type Client struct {
	gen    Generator
	cfg    controller.OracleConfig
	rules  DomainRules
	lights LightSchedule
	loc    *time.Location
	log    *zap.Logger
	now    func() time.Time
}

func New(gen Generator, cfg controller.Config, log *zap.Logger) *Client {
	loc, err := cfg.Cycle.Location()
	if err != nil {
		log.Warn("Light schedule falls back to host time zone", zap.Error(err))
		loc = time.Local
	}
	return &Client{
		gen: gen,
		cfg: cfg.Oracle,
		rules: DomainRules{
			Plant:           cfg.Oracle.Plant,
			System:          "deep water culture",
			IdealRanges:     cfg.Safety.Ideal,
			GuardrailMargin: cfg.Safety.GuardrailMargin,
		},
		lights: LightSchedule{OnHour: cfg.Cycle.LightsOnHour, OffHour: cfg.Cycle.LightsOffHour},
		loc:    loc,
		log:    log.Named("oracle"),
		now:    time.Now,
	}
}

// BuildRequest assembles the oracle input for one cycle.
func (c *Client) BuildRequest(snap controller.Snapshot, img *controller.Image, history []controller.DecisionRecord) Request {
	rules := c.rules
	rules.Lights = c.lights
	rules.Lights.Daytime = c.lights.daytime(c.now().In(c.loc).Hour())
	req := Request{
		Time:        snap.Time,
		Sensors:     snap.Values(),
		History:     historyEntries(history),
		DomainRules: rules,
	}
	for _, r := range snap.Readings {
		if !r.Valid {
			if req.Invalid == nil {
				req.Invalid = make(map[controller.Metric]string)
			}
			req.Invalid[r.Metric] = r.Reason
		}
	}
	if img != nil {
		ref := img.Ref
		req.Image = &ref
	}
	return req
}

// Decide makes exactly one oracle call. Every failure, including a response
// that violates the schema, is returned as a *controller.OracleError.
func (c *Client) Decide(ctx context.Context, snap controller.Snapshot, img *controller.Image, history []controller.DecisionRecord) (Candidate, error) {
	req := c.BuildRequest(snap, img, history)
	prompt, err := req.Prompt()
	if err != nil {
		return Candidate{}, &controller.OracleError{Cause: err}
	}

	var parts []*genai.Part
	if img != nil && len(img.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(prompt))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(c.cfg.Temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   ResponseSchema(),
	}

	start := c.now()
	resp, err := c.gen.GenerateContent(ctx, c.cfg.Model, contents, config)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		c.log.Warn("Oracle call failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return Candidate{}, &controller.OracleError{Cause: err}
	}
	if resp == nil {
		return Candidate{}, &controller.OracleError{Cause: errors.New("empty response")}
	}

	text := resp.Text()
	cand, err := ParseResponse([]byte(text))
	if err != nil {
		c.log.Warn("Oracle response rejected", zap.Error(err), zap.String("raw", text))
		return Candidate{}, &controller.OracleError{Cause: err}
	}
	c.log.Debug("Oracle decision received", zap.Duration("elapsed", time.Since(start)), zap.Int("health_score", cand.HealthScore))
	return cand, nil
}
