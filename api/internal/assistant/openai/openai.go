package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Martinhdeez/plane-assistant/api/internal/assistant"
	"github.com/Martinhdeez/plane-assistant/api/internal/history"
	"github.com/Martinhdeez/plane-assistant/api/internal/steps"
	"github.com/Martinhdeez/plane-assistant/api/internal/util"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultBaseURL = "https://api.openai.com/v1"
)

type Engine struct {
	APIKey  string
	Model   string
	BaseURL string
	httpc   *http.Client
}

func New(key, model string) *Engine {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Engine{
		APIKey:  strings.TrimSpace(key),
		Model:   model,
		BaseURL: DefaultBaseURL,
		httpc:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (e *Engine) Name() string     { return "openai" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) Chat(ctx context.Context, in assistant.ChatRequest) (string, error) {
	msgs := []any{
		map[string]any{"role": "system", "content": assistant.BuildSystemPrompt(in.Context)},
	}
	for _, m := range in.History {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := "user"
		if m.Role == assistant.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, map[string]any{"role": role, "content": m.Content})
	}
	msgs = append(msgs, map[string]any{"role": "user", "content": in.Message})

	return e.complete(ctx, "chat", map[string]any{
		"model":       e.Model,
		"messages":    msgs,
		"temperature": 0,
		"max_tokens":  2048,
	})
}

func (e *Engine) AnalyzeImage(ctx context.Context, in assistant.VisionRequest) (assistant.VisionResult, error) {
	schema, err := util.ParseSchema("vision", assistant.VisionSchema)
	if err != nil {
		return assistant.VisionResult{}, err
	}
	util.FixJSONSchemaStrict(schema)

	mime := util.PickMIME(in.MIME, "", in.Image)
	out, err := e.complete(ctx, "vision", map[string]any{
		"model": e.Model,
		"messages": []any{
			map[string]any{"role": "system", "content": assistant.BuildSystemPrompt(in.Context)},
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": assistant.VisionPrompt(in)},
					map[string]any{"type": "image_url", "image_url": map[string]any{
						"url":    util.MakeDataURL(mime, in.Image),
						"detail": "high",
					}},
				},
			},
		},
		"temperature": 0.1,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "vision_annotations",
				"strict": true,
				"schema": schema,
			},
		},
	})
	if err != nil {
		return assistant.VisionResult{}, err
	}
	return assistant.DecodeVision(out), nil
}

// ExtractSteps attaches the PDF as a file content part.
func (e *Engine) ExtractSteps(ctx context.Context, pdf []byte) ([]steps.Candidate, error) {
	out, err := e.complete(ctx, "extract steps", map[string]any{
		"model": e.Model,
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": assistant.ExtractStepsPrompt()},
					map[string]any{"type": "file", "file": map[string]any{
						"filename":  "procedure.pdf",
						"file_data": util.MakeDataURL("application/pdf", pdf),
					}},
				},
			},
		},
		"temperature":     0.1,
		"response_format": map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, err
	}
	return assistant.DecodeSteps(out)
}

func (e *Engine) SummarizeHistory(ctx context.Context, transcript []assistant.Message) (history.Document, error) {
	out, err := e.complete(ctx, "history", map[string]any{
		"model": e.Model,
		"messages": []any{
			map[string]any{"role": "user", "content": assistant.HistoryPrompt(transcript)},
		},
		"temperature":     0,
		"response_format": map[string]any{"type": "json_object"},
	})
	if err != nil {
		return history.Document{}, err
	}
	return assistant.DecodeHistory(out)
}

func (e *Engine) complete(ctx context.Context, op string, body map[string]any) (string, error) {
	if e.APIKey == "" {
		return "", fmt.Errorf("openai: %w", assistant.ErrNoAPIKey)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", op, err)
	}
	url := strings.TrimRight(e.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai %s %d: %s", op, resp.StatusCode, strings.TrimSpace(string(x)))
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", fmt.Errorf("openai %s: %w", op, err)
	}
	if len(raw.Choices) == 0 || strings.TrimSpace(raw.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai %s: %w", op, assistant.ErrEmptyResponse)
	}
	return strings.TrimSpace(raw.Choices[0].Message.Content), nil
}
