// Package explain asks an OpenAI-compatible chat model for a root-cause
// hypothesis and technician actions for an anomalous log row.
package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hed1ad/vlogguard/pkg/interpret"
	"github.com/hed1ad/vlogguard/pkg/report"
	"github.com/hed1ad/vlogguard/pkg/schema"
)

const systemPrompt = "You are an expert vehicle diagnostics assistant. Return structured JSON only."

const userPrompt = `Given the anomaly context, provide:
1) A concise root cause hypothesis.
2) Severity category as one of Low, Medium, or High.
3) 2-3 recommended actions a vehicle technician can take next.

Respond ONLY with valid JSON using keys: root_cause (string), severity (Low|Medium|High), recommended_actions (array of strings).

Anomaly context:
%s`

// Config selects the model endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Explainer implements analyzer.Enricher. It never fails an analysis:
// every error is logged and replaced by fallback advice.
type Explainer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// New builds an Explainer for an OpenAI-compatible chat endpoint. An empty
// BaseURL uses the OpenAI API and an empty Model uses gpt-3.5-turbo. A nil
// logger discards output.
func New(cfg Config, logger *zap.Logger) *Explainer {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &Explainer{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

type anomalyContext struct {
	Row       int                 `json:"row"`
	Timestamp string              `json:"timestamp,omitempty"`
	Score     float64             `json:"anomaly_score"`
	Readings  map[string]float64  `json:"sensor_values"`
	Imputed   []string            `json:"imputed_sensors,omitempty"`
	Findings  []interpret.Finding `json:"rule_findings"`
}

// Advise returns advice for one anomalous row.
func (e *Explainer) Advise(ctx context.Context, row schema.LogRow, score float64, findings []interpret.Finding) *report.Advice {
	advice, err := e.advise(ctx, row, score, findings)
	if err != nil {
		e.logger.Warn("explanation failed, using fallback",
			zap.Int("row", row.Index), zap.Error(err))
		return Fallback()
	}
	return advice
}

func (e *Explainer) advise(ctx context.Context, row schema.LogRow, score float64, findings []interpret.Finding) (*report.Advice, error) {
	actx := anomalyContext{
		Row:      row.Index,
		Score:    score,
		Readings: row.Readings(),
		Imputed:  row.ImputedSensors(),
		Findings: findings,
	}
	if row.HasTimestamp() {
		actx.Timestamp = row.Timestamp.Format(time.RFC3339)
	}
	payload, err := json.MarshalIndent(actx, "", "  ")
	if err != nil {
		return nil, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(userPrompt, payload)},
		},
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return Parse(resp.Choices[0].Message.Content)
}

type reply struct {
	RootCause          string          `json:"root_cause"`
	Severity           string          `json:"severity"`
	RecommendedActions json.RawMessage `json:"recommended_actions"`
}

// Parse reads a model reply. Markdown code fences are tolerated; missing
// fields are filled from the fallback advice.
func Parse(content string) (*report.Advice, error) {
	var r reply
	if err := json.Unmarshal([]byte(stripFences(content)), &r); err != nil {
		return nil, fmt.Errorf("parse reply: %w", err)
	}

	fb := Fallback()
	advice := &report.Advice{
		RootCause:         strings.TrimSpace(r.RootCause),
		SuggestedSeverity: interpret.Medium.String(),
	}
	if advice.RootCause == "" {
		advice.RootCause = fb.RootCause
	}
	if sev, err := interpret.ParseSeverity(strings.TrimSpace(r.Severity)); err == nil {
		advice.SuggestedSeverity = sev.String()
	}

	var actions []string
	var single string
	switch {
	case len(r.RecommendedActions) == 0:
	case json.Unmarshal(r.RecommendedActions, &actions) == nil:
	case json.Unmarshal(r.RecommendedActions, &single) == nil:
		actions = []string{single}
	}
	for _, a := range actions {
		if a = strings.TrimSpace(a); a != "" {
			advice.RecommendedActions = append(advice.RecommendedActions, a)
		}
	}
	if len(advice.RecommendedActions) == 0 {
		advice.RecommendedActions = fb.RecommendedActions
	}
	return advice, nil
}

func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return strings.TrimSpace(text)
	}
	segments := strings.Split(text, "```")
	candidate := segments[1]
	if len(candidate) >= 4 && strings.EqualFold(candidate[:4], "json") {
		candidate = candidate[4:]
	}
	return strings.TrimSpace(candidate)
}

// Fallback is the advice used when the model is unreachable or replies
// with something unusable.
func Fallback() *report.Advice {
	return &report.Advice{
		RootCause:          "Automatic explanation unavailable. Refer to the rule findings and raw sensor values.",
		SuggestedSeverity:  interpret.Medium.String(),
		RecommendedActions: []string{"Review the anomaly context and rerun explanation generation later."},
	}
}
