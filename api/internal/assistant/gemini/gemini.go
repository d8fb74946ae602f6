package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/Martinhdeez/plane-assistant/api/internal/assistant"
	"github.com/Martinhdeez/plane-assistant/api/internal/history"
	"github.com/Martinhdeez/plane-assistant/api/internal/steps"
	"github.com/Martinhdeez/plane-assistant/api/internal/util"
)

const (
	DefaultModel = "gemini-2.5-flash"
	attempts     = 3
)

type Engine struct {
	APIKey string
	Model  string
}

func New(apiKey, model string) *Engine {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Engine{
		APIKey: strings.TrimSpace(apiKey),
		Model:  model,
	}
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

// Chat answers one turn with the previous messages as chat history.
func (e *Engine) Chat(ctx context.Context, in assistant.ChatRequest) (string, error) {
	cl, m, err := e.model(ctx)
	if err != nil {
		return "", err
	}
	defer cl.Close()

	m.GenerationConfig = genai.GenerationConfig{
		Temperature:     ptrFloat32(0),
		MaxOutputTokens: ptrInt32(2048),
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(assistant.BuildSystemPrompt(in.Context))},
	}
	hist := toContents(in.History)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		cs := m.StartChat()
		cs.History = append([]*genai.Content(nil), hist...)
		resp, err := cs.SendMessage(ctx, genai.Text(in.Message))
		if err != nil {
			lastErr = err
			if !sleep(ctx, attempt) {
				break
			}
			continue
		}
		txt := strings.TrimSpace(firstText(resp))
		if txt == "" {
			return "", fmt.Errorf("gemini chat: %w", assistant.ErrEmptyResponse)
		}
		return txt, nil
	}
	return "", fmt.Errorf("gemini chat: %w", lastErr)
}

// AnalyzeImage asks for analysis, steps and circle annotations in JSON mode.
func (e *Engine) AnalyzeImage(ctx context.Context, in assistant.VisionRequest) (assistant.VisionResult, error) {
	cl, m, err := e.model(ctx)
	if err != nil {
		return assistant.VisionResult{}, err
	}
	defer cl.Close()

	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0.1),
		MaxOutputTokens:  ptrInt32(2048),
		ResponseMIMEType: "application/json",
		ResponseSchema:   visionSchema(),
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(assistant.BuildSystemPrompt(in.Context))},
	}
	mime := util.PickMIME(in.MIME, "", in.Image)
	txt, err := e.generate(ctx, "vision", m,
		genai.Text(assistant.VisionPrompt(in)),
		&genai.Blob{MIMEType: mime, Data: in.Image},
	)
	if err != nil {
		return assistant.VisionResult{}, err
	}
	return assistant.DecodeVision(txt), nil
}

// ExtractSteps sends the procedure PDF inline; Gemini reads PDF natively.
func (e *Engine) ExtractSteps(ctx context.Context, pdf []byte) ([]steps.Candidate, error) {
	cl, m, err := e.model(ctx)
	if err != nil {
		return nil, err
	}
	defer cl.Close()

	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0.1),
		MaxOutputTokens:  ptrInt32(8192),
		ResponseMIMEType: "application/json",
		ResponseSchema:   stepsSchema(),
	}
	txt, err := e.generate(ctx, "extract steps", m,
		genai.Text(assistant.ExtractStepsPrompt()),
		&genai.Blob{MIMEType: "application/pdf", Data: pdf},
	)
	if err != nil {
		return nil, err
	}
	return assistant.DecodeSteps(txt)
}

func (e *Engine) SummarizeHistory(ctx context.Context, transcript []assistant.Message) (history.Document, error) {
	cl, m, err := e.model(ctx)
	if err != nil {
		return history.Document{}, err
	}
	defer cl.Close()

	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		MaxOutputTokens:  ptrInt32(4096),
		ResponseMIMEType: "application/json",
	}
	txt, err := e.generate(ctx, "history", m, genai.Text(assistant.HistoryPrompt(transcript)))
	if err != nil {
		return history.Document{}, err
	}
	return assistant.DecodeHistory(txt)
}

func (e *Engine) model(ctx context.Context) (*genai.Client, *genai.GenerativeModel, error) {
	if e.APIKey == "" {
		return nil, nil, fmt.Errorf("gemini: %w", assistant.ErrNoAPIKey)
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return nil, nil, err
	}
	m := cl.GenerativeModel(e.Model)
	if m == nil {
		cl.Close()
		return nil, nil, fmt.Errorf("gemini: model is nil")
	}
	return cl, m, nil
}

// generate retries transport failures; an empty answer is final.
func (e *Engine) generate(ctx context.Context, op string, m *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			if !sleep(ctx, attempt) {
				break
			}
			continue
		}
		txt := strings.TrimSpace(firstText(resp))
		if txt == "" {
			return "", fmt.Errorf("gemini %s: %w", op, assistant.ErrEmptyResponse)
		}
		return txt, nil
	}
	return "", fmt.Errorf("gemini %s: %w", op, lastErr)
}

func sleep(ctx context.Context, attempt int) bool {
	if attempt >= attempts {
		return false
	}
	t := time.NewTimer(time.Duration(attempt) * 300 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func toContents(msgs []assistant.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := "user"
		if msg.Role == assistant.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return out
}

func visionSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"analysis": {Type: genai.TypeString},
			"steps":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"annotations": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"x":      {Type: genai.TypeNumber},
						"y":      {Type: genai.TypeNumber},
						"radius": {Type: genai.TypeNumber},
						"text":   {Type: genai.TypeString},
					},
					Required: []string{"x", "y", "radius", "text"},
				},
			},
		},
		Required: []string{"analysis", "steps", "annotations"},
	}
}

func stepsSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"steps": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"step_number": {Type: genai.TypeString},
						"title":       {Type: genai.TypeString},
						"description": {Type: genai.TypeString, Nullable: true},
					},
					Required: []string{"title"},
				},
			},
		},
		Required: []string{"steps"},
	}
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
func ptrInt32(v int32) *int32       { return &v }
