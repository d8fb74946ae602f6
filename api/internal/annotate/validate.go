package annotate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Marker radius as a percentage of the shorter image side.
const (
	DefaultRadiusPercent = 9.0 // used when the model gives none
	MinRadiusPercent     = 8.0
	MaxRadiusPercent     = 13.0
)

// Request is one annotation as the model returned it. Absent or mistyped
// fields stay nil.
type Request struct {
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Radius *float64 `json:"radius,omitempty"`
	Text   *string  `json:"text,omitempty"`
}

// Annotation is a request that survived validation. Ordinal is 1-based and
// dense over the surviving entries.
type Annotation struct {
	Ordinal       int     `json:"ordinal"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	RadiusPercent float64 `json:"radius"`
	Text          string  `json:"text"`
}

// Rejection describes a dropped request by its index in the input.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

var ErrNotSequence = errors.New("annotations: not a JSON array")

// DecodeRequests parses the annotations array. Only a non-array payload is an
// error; broken elements decode to empty requests and are dropped later.
func DecodeRequests(raw []byte) ([]Request, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return []Request{}, nil
	}
	var out []Request
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSequence, err)
	}
	if out == nil {
		out = []Request{}
	}
	return out, nil
}

// UnmarshalJSON keeps single-request decoding as lenient as DecodeRequests.
func (r *Request) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		*r = Request{}
		return nil
	}
	*r = Request{
		X:      number(m["x"]),
		Y:      number(m["y"]),
		Radius: number(m["radius"]),
		Text:   text(m["text"]),
	}
	return nil
}

func number(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "%")), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func text(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

// Validate drops malformed requests and assigns ordinals by surviving position.
// Coordinates are clamped into [0,100], radius percent into [8,13].
func Validate(reqs []Request) ([]Annotation, []Rejection) {
	out := make([]Annotation, 0, len(reqs))
	var rejected []Rejection
	for i, r := range reqs {
		if reason := malformed(r); reason != "" {
			rejected = append(rejected, Rejection{Index: i, Reason: reason})
			continue
		}
		radius := DefaultRadiusPercent
		if r.Radius != nil && isFinite(*r.Radius) {
			radius = *r.Radius
		}
		out = append(out, Annotation{
			Ordinal:       len(out) + 1,
			X:             clamp(*r.X, 0, 100),
			Y:             clamp(*r.Y, 0, 100),
			RadiusPercent: clamp(radius, MinRadiusPercent, MaxRadiusPercent),
			Text:          strings.TrimSpace(*r.Text),
		})
	}
	return out, rejected
}

func malformed(r Request) string {
	switch {
	case r.X == nil:
		return "missing x"
	case r.Y == nil:
		return "missing y"
	case r.Text == nil:
		return "missing text"
	case !isFinite(*r.X) || !isFinite(*r.Y):
		return "non-finite coordinates"
	}
	return ""
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
