package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Martinhdeez/plane-assistant/api/internal/annotate"
	"github.com/Martinhdeez/plane-assistant/api/internal/history"
	"github.com/Martinhdeez/plane-assistant/api/internal/steps"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrEmptyResponse = errors.New("assistant: empty response")
	ErrUnknownEngine = errors.New("assistant: unknown engine")
	ErrNoAPIKey      = errors.New("assistant: api key is empty")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type StepContext struct {
	Number      int     `json:"step_number"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

// ChatContext narrows answers to one aircraft, one system and, when a
// procedure is loaded, the step the operator is on.
type ChatContext struct {
	AirplaneModel string       `json:"airplane_model,omitempty"`
	ComponentType string       `json:"component_type,omitempty"`
	CurrentStep   *StepContext `json:"current_step,omitempty"`
}

type ChatRequest struct {
	Message string
	History []Message
	Context *ChatContext
}

type VisionRequest struct {
	Image   []byte
	MIME    string
	Message string
	History []Message
	Context *ChatContext
}

// VisionResult is the structured answer about a photo. Annotations are
// untrusted and go through annotate.Validate before drawing.
type VisionResult struct {
	Analysis    string             `json:"analysis"`
	Steps       []string           `json:"steps"`
	Annotations []annotate.Request `json:"annotations"`
}

type Engine interface {
	Name() string
	GetModel() string
	Chat(ctx context.Context, in ChatRequest) (string, error)
	AnalyzeImage(ctx context.Context, in VisionRequest) (VisionResult, error)
	ExtractSteps(ctx context.Context, pdf []byte) ([]steps.Candidate, error)
	SummarizeHistory(ctx context.Context, transcript []Message) (history.Document, error)
}

type Engines struct {
	Gemini  Engine
	OpenAI  Engine
	Default string
}

// GetEngine picks an engine by name; an empty name means Default.
func (e *Engines) GetEngine(name string) (Engine, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = strings.ToLower(e.Default)
	}
	var eng Engine
	switch name {
	case "gemini", "google":
		eng = e.Gemini
	case "gpt", "openai":
		eng = e.OpenAI
	default:
		return nil, fmt.Errorf("%w %q; use 'gemini' or 'openai'", ErrUnknownEngine, name)
	}
	if eng == nil {
		return nil, fmt.Errorf("%w %q: not configured", ErrUnknownEngine, name)
	}
	return eng, nil
}

// Names lists the configured engines.
func (e *Engines) Names() []string {
	var out []string
	if e.Gemini != nil {
		out = append(out, e.Gemini.Name())
	}
	if e.OpenAI != nil {
		out = append(out, e.OpenAI.Name())
	}
	return out
}
