package steps

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTitleLen is the stored title limit, in runes.
const MaxTitleLen = 500

var ErrUnrecognized = errors.New("steps: payload is neither an object with steps nor an array")

// Candidate is one step as extracted from a procedure document. StepNumber is
// kept raw and never trusted.
type Candidate struct {
	StepNumber  json.RawMessage `json:"step_number,omitempty"`
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
}

// Draft is a normalized step ready to be persisted.
type Draft struct {
	Number      int     `json:"step_number"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

// Step is a persisted checklist entry of a chat.
type Step struct {
	ID          int64      `json:"id"`
	ChatID      int64      `json:"chat_id"`
	Number      int        `json:"step_number"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// UnmarshalJSON tolerates non-string title and description values by
// dropping them.
func (c *Candidate) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		*c = Candidate{}
		return nil
	}
	*c = Candidate{
		StepNumber:  m["step_number"],
		Title:       rawString(m["title"]),
		Description: rawString(m["description"]),
	}
	return nil
}

func rawString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

// DecodeCandidates accepts {"steps":[...]} or a bare array.
func DecodeCandidates(raw []byte) ([]Candidate, error) {
	var wrapped struct {
		Steps []Candidate `json:"steps"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if wrapped.Steps == nil {
			return []Candidate{}, nil
		}
		return wrapped.Steps, nil
	}
	var bare []Candidate
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	if bare == nil {
		bare = []Candidate{}
	}
	return bare, nil
}

// Normalize drops candidates without a title and numbers the rest 1..N in
// their original order.
func Normalize(cands []Candidate) []Draft {
	out := make([]Draft, 0, len(cands))
	for i, c := range cands {
		if c.Title == nil || strings.TrimSpace(*c.Title) == "" {
			log.Printf("steps: dropped candidate #%d: missing title", i)
			continue
		}
		out = append(out, Draft{
			Number:      len(out) + 1,
			Title:       truncate(strings.TrimSpace(*c.Title), MaxTitleLen),
			Description: c.Description,
		})
	}
	return out
}

// Current returns the first incomplete step by number, or nil when every step
// is done. steps must be ordered by Number.
func Current(steps []Step) *Step {
	for i := range steps {
		if !steps[i].IsCompleted {
			return &steps[i]
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
