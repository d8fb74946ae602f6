package handle

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Martinhdeez/plane-assistant/api/internal/assistant"
	"github.com/Martinhdeez/plane-assistant/api/internal/auth"
	"github.com/Martinhdeez/plane-assistant/api/internal/storage"
	"github.com/Martinhdeez/plane-assistant/api/internal/util"
)

type AssistantChatRequest struct {
	Message string              `json:"message"`
	History []assistant.Message `json:"history"`
}

// AssistantChat is a stateless conversation turn; nothing is stored.
func (h *Handle) AssistantChat(w http.ResponseWriter, r *http.Request) {
	var req AssistantChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	eng, err := h.engine(r)
	if err != nil {
		aiError(w, r, err)
		return
	}
	actx, cancel := h.aiContext(r)
	defer cancel()
	reply, err := eng.Chat(actx, assistant.ChatRequest{Message: req.Message, History: req.History})
	if err != nil {
		aiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

func (h *Handle) AssistantHealth(w http.ResponseWriter, r *http.Request) {
	eng, err := h.Engines.GetEngine("")
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"engine":  eng.Name(),
		"model":   eng.GetModel(),
		"engines": h.Engines.Names(),
	})
}

// Image serves a stored upload. Users only reach files under their own
// directory; administrators reach all of them.
func (h *Handle) Image(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	p := principal(r)
	owner, _, _ := strings.Cut(rel, "/")
	if p.Role != auth.RoleAdmin && owner != strconv.FormatInt(p.UserID, 10) {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	data, err := h.Files.Open(rel)
	switch {
	case errors.Is(err, storage.ErrBadPath), errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "image not found")
		return
	case err != nil:
		internalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", util.SniffMimeHTTP(data))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
