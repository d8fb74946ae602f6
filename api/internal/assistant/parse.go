package assistant

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Martinhdeez/plane-assistant/api/internal/annotate"
	"github.com/Martinhdeez/plane-assistant/api/internal/history"
	"github.com/Martinhdeez/plane-assistant/api/internal/steps"
	"github.com/Martinhdeez/plane-assistant/api/internal/util"
)

const noAnnotationsNote = "Nota: no se pudieron generar anotaciones automáticas."

// DecodeVision never fails: a reply that is not the expected JSON becomes
// plain analysis text without annotations.
func DecodeVision(text string) VisionResult {
	clean := util.StripCodeFences(text)
	var raw struct {
		Analysis    string          `json:"analysis"`
		Steps       []any           `json:"steps"`
		Annotations json.RawMessage `json:"annotations"`
	}
	if err := json.Unmarshal([]byte(clean), &raw); err != nil {
		return VisionResult{
			Analysis:    strings.TrimSpace(text) + "\n\n" + noAnnotationsNote,
			Steps:       []string{},
			Annotations: []annotate.Request{},
		}
	}
	out := VisionResult{Analysis: strings.TrimSpace(raw.Analysis), Steps: []string{}}
	for _, s := range raw.Steps {
		switch v := s.(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				out.Steps = append(out.Steps, v)
			}
		case float64:
			out.Steps = append(out.Steps, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	reqs, err := annotate.DecodeRequests(raw.Annotations)
	if err != nil {
		reqs = []annotate.Request{}
	}
	out.Annotations = reqs
	return out
}

func DecodeSteps(text string) ([]steps.Candidate, error) {
	c, err := steps.DecodeCandidates([]byte(util.StripCodeFences(text)))
	if err != nil {
		return nil, fmt.Errorf("assistant: steps: %w", err)
	}
	return c, nil
}

func DecodeHistory(text string) (history.Document, error) {
	doc, err := history.DecodeDocument([]byte(util.StripCodeFences(text)))
	if err != nil {
		return history.Document{}, fmt.Errorf("assistant: history: %w", err)
	}
	return doc, nil
}

// FormatVisionReply is the chat text shown next to the annotated photo.
func FormatVisionReply(r VisionResult) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.Analysis))
	if len(r.Steps) > 0 {
		b.WriteString("\n\nPasos a seguir:\n")
		for i, s := range r.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
