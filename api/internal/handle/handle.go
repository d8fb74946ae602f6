package handle

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Martinhdeez/plane-assistant/api/internal/annotate"
	"github.com/Martinhdeez/plane-assistant/api/internal/assistant"
	"github.com/Martinhdeez/plane-assistant/api/internal/auth"
	"github.com/Martinhdeez/plane-assistant/api/internal/history"
	"github.com/Martinhdeez/plane-assistant/api/internal/steps"
	"github.com/Martinhdeez/plane-assistant/api/internal/store"
)

const DefaultTimeout = 180 * time.Second

type UserStore interface {
	Create(ctx context.Context, u *store.User) error
	Get(ctx context.Context, id int64) (store.User, error)
	GetByEmail(ctx context.Context, email string) (store.User, error)
	AdminExists(ctx context.Context) (bool, error)
	List(ctx context.Context, role string) ([]store.User, error)
	SetAssignments(ctx context.Context, clerkID int64, operatorIDs []int64) error
	AssignedOperators(ctx context.Context, clerkID int64) ([]store.User, error)
	Update(ctx context.Context, u *store.User) error
	SetPassword(ctx context.Context, id int64, hash string) error
	SetActive(ctx context.Context, id int64, active bool) error
	Divisions(ctx context.Context) ([]string, error)
}

type ChatStore interface {
	Create(ctx context.Context, c *store.Chat) error
	Get(ctx context.Context, userID, id int64) (store.Chat, error)
	List(ctx context.Context, userID int64) ([]store.Chat, error)
	Delete(ctx context.Context, userID, id int64) error
	SetTemplate(ctx context.Context, id int64, path, filename string) error
}

type MessageStore interface {
	Create(ctx context.Context, m *store.Message) error
	ListByChat(ctx context.Context, chatID int64) ([]store.Message, error)
}

type StepStore interface {
	ReplaceForChat(ctx context.Context, chatID int64, drafts []steps.Draft) ([]steps.Step, error)
	ListByChat(ctx context.Context, chatID int64) ([]steps.Step, error)
	Current(ctx context.Context, chatID int64) (steps.Step, error)
	Complete(ctx context.Context, chatID, stepID int64) (steps.Step, error)
}

type HistoryStore interface {
	Create(ctx context.Context, rec *history.Record) error
	Get(ctx context.Context, id int64) (history.Record, error)
	GetByChat(ctx context.Context, chatID int64) (history.Record, error)
	ListForUser(ctx context.Context, userID int64) ([]history.Record, error)
	ListAll(ctx context.Context) ([]history.Record, error)
	ListAssigned(ctx context.Context, clerkID int64) ([]history.Record, error)
	Delete(ctx context.Context, id int64) error
}

type FileStore interface {
	SaveUserImage(userID, chatID int64, name string, data []byte) (string, error)
	SaveAnnotated(userID, chatID int64, data []byte) (string, error)
	SaveTemplate(userID int64, name string, data []byte) (string, error)
	Open(rel string) ([]byte, error)
	DeleteChat(userID, chatID int64) error
	URL(rel string) string
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Users     UserStore
	Chats     ChatStore
	Messages  MessageStore
	Steps     StepStore
	Histories HistoryStore
	Files     FileStore
	DB        Pinger

	Engines   *assistant.Engines
	Renderer  *annotate.Renderer
	Formatter *history.Formatter
	Tokens    *auth.Tokens

	// Timeout bounds AI calls unless the request asks for another one.
	Timeout time.Duration
}

type Handle struct {
	Deps
}

func New(d Deps) *Handle {
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.Formatter == nil {
		d.Formatter = history.NewFormatter(history.Options{})
	}
	return &Handle{Deps: d}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"detail": msg})
}

// internalError logs err and answers 500 without leaking details.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}

// aiContext derives the AI deadline from X-Request-Timeout (seconds or a Go
// duration) or the timeoutSec query parameter.
func (h *Handle) aiContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	raw := strings.TrimSpace(r.Header.Get("X-Request-Timeout"))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("timeoutSec"))
	}
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		} else if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			timeout = d
		}
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (h *Handle) engine(r *http.Request) (assistant.Engine, error) {
	return h.Engines.GetEngine(r.URL.Query().Get("llm"))
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

// aiError maps a failed assistant call onto a response.
func aiError(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("%s %s: assistant: %v", r.Method, r.URL.Path, err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "the AI assistant did not answer in time")
	case errors.Is(err, assistant.ErrUnknownEngine):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadGateway, "error communicating with AI assistant")
	}
}
