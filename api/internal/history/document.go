package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DefaultTitle = "Maintenance History"

var ErrMalformed = errors.New("history: malformed document")

// Document is the structured record summarized from a maintenance chat. Every
// nested section is optional.
type Document struct {
	Title              string        `json:"title"`
	Summary            string        `json:"summary"`
	CreatedAt          time.Time     `json:"created_at"`
	AircraftInfo       *AircraftInfo `json:"aircraft_info"`
	MaintenanceActions []Action      `json:"maintenance_actions"`
	PartsUsed          []Part        `json:"parts_used"`
}

type AircraftInfo struct {
	Model        *string `json:"model,omitempty"`
	Registration *string `json:"registration,omitempty"`
	Operator     *string `json:"operator,omitempty"`
}

// Empty reports whether no field would be printed.
func (a *AircraftInfo) Empty() bool {
	return a == nil || (a.Model == nil && a.Registration == nil && a.Operator == nil)
}

type Action struct {
	Action string  `json:"action"`
	Result *string `json:"result,omitempty"`
	Date   *string `json:"date,omitempty"`
}

type Part struct {
	PartName   string  `json:"part_name"`
	PartNumber *string `json:"part_number,omitempty"`
	Quantity   int     `json:"quantity"`
}

// Record is a stored history.
type Record struct {
	ID     int64 `json:"id"`
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
	Document
	UpdatedAt time.Time `json:"updated_at"`
}

// DecodeDocument parses the model output. Only a non-object payload fails;
// wrong field types are dropped and a missing title becomes DefaultTitle.
func DecodeDocument(raw []byte) (Document, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		if err == nil {
			err = errors.New("null document")
		}
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	doc := Document{
		Title:   DefaultTitle,
		Summary: deref(optString(m["summary"])),
	}
	if t := optString(m["title"]); t != nil {
		doc.Title = *t
	}

	var info map[string]json.RawMessage
	if json.Unmarshal(m["aircraft_info"], &info) == nil && info != nil {
		a := &AircraftInfo{
			Model:        optString(info["model"]),
			Registration: optString(info["registration"]),
			Operator:     optString(info["operator"]),
		}
		if !a.Empty() {
			doc.AircraftInfo = a
		}
	}

	for _, a := range objects(m["maintenance_actions"]) {
		name := optString(a["action"])
		if name == nil {
			continue
		}
		doc.MaintenanceActions = append(doc.MaintenanceActions, Action{
			Action: *name,
			Result: optString(a["result"]),
			Date:   optString(a["date"]),
		})
	}

	for _, p := range objects(m["parts_used"]) {
		name := optString(p["part_name"])
		if name == nil {
			continue
		}
		doc.PartsUsed = append(doc.PartsUsed, Part{
			PartName:   *name,
			PartNumber: optString(p["part_number"]),
			Quantity:   quantity(p["quantity"]),
		})
	}
	return doc, nil
}

// objects returns the object elements of a JSON array, skipping the rest.
func objects(raw json.RawMessage) []map[string]json.RawMessage {
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}
	out := make([]map[string]json.RawMessage, 0, len(items))
	for _, it := range items {
		var m map[string]json.RawMessage
		if json.Unmarshal(it, &m) == nil && m != nil {
			out = append(out, m)
		}
	}
	return out
}

// optString returns nil for absent, null, non-string and blank values.
func optString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

// maxQuantity bounds model-supplied quantities before the int conversion.
const maxQuantity = 1_000_000

func quantity(raw json.RawMessage) int {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n >= 1 {
		return int(min(n, maxQuantity))
	}
	if s := optString(raw); s != nil {
		if v, err := strconv.Atoi(*s); err == nil && v >= 1 {
			return min(v, maxQuantity)
		}
	}
	return 1
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
