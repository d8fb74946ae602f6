package gemini

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martinhdeez/plane-assistant/api/internal/assistant"
)

func TestNew_Defaults(t *testing.T) {
	e := New("  key ", "")
	assert.Equal(t, "key", e.APIKey)
	assert.Equal(t, DefaultModel, e.GetModel())
	assert.Equal(t, "gemini", e.Name())
}

func TestEngine_NoKey(t *testing.T) {
	e := New("", "")
	_, err := e.Chat(context.Background(), assistant.ChatRequest{Message: "hola"})
	assert.ErrorIs(t, err, assistant.ErrNoAPIKey)
	_, err = e.ExtractSteps(context.Background(), []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, assistant.ErrNoAPIKey)
}

func TestToContents(t *testing.T) {
	got := toContents([]assistant.Message{
		{Role: assistant.RoleUser, Content: "¿dónde está la válvula?"},
		{Role: assistant.RoleAssistant, Content: "En el panel 192AR."},
		{Role: assistant.RoleUser, Content: "  "},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "user", got[0].Role)
	assert.Equal(t, "model", got[1].Role)
	assert.Equal(t, genai.Text("En el panel 192AR."), got[1].Parts[0])
}

func TestFirstText(t *testing.T) {
	assert.Equal(t, "", firstText(nil))
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: nil},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":1}`)}}},
	}}
	assert.Equal(t, `{"a":1}`, firstText(resp))
}

func TestVisionSchema(t *testing.T) {
	s := visionSchema()
	assert.Equal(t, genai.TypeObject, s.Type)
	ann := s.Properties["annotations"].Items
	assert.ElementsMatch(t, []string{"x", "y", "radius", "text"}, ann.Required)
}
