package handle

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/Martinhdeez/plane-assistant/api/internal/auth"
	"github.com/Martinhdeez/plane-assistant/api/internal/history"
	"github.com/Martinhdeez/plane-assistant/api/internal/store"
	"github.com/Martinhdeez/plane-assistant/api/internal/util"
)

const (
	minHistoryMessages = 2
	maxHistoryTitle    = 200
)

// GenerateHistory summarizes the chat into a structured maintenance record.
func (h *Handle) GenerateHistory(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadChat(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	msgs, err := h.Messages.ListByChat(ctx, c.ID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if len(msgs) < minHistoryMessages {
		writeError(w, http.StatusBadRequest, "the chat needs at least one exchange (2 messages) to generate a history")
		return
	}

	eng, err := h.engine(r)
	if err != nil {
		aiError(w, r, err)
		return
	}
	actx, cancel := h.aiContext(r)
	defer cancel()
	doc, err := eng.SummarizeHistory(actx, transcript(msgs))
	if err != nil {
		aiError(w, r, err)
		return
	}
	doc.Title = util.Truncate(doc.Title, maxHistoryTitle)

	rec := history.Record{ChatID: c.ID, UserID: principal(r).UserID, Document: doc}
	if err := h.Histories.Create(ctx, &rec); err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"history_id": rec.ID,
		"message":    "Histórico generado exitosamente",
	})
}

func (h *Handle) ChatHistory(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadChat(w, r)
	if !ok {
		return
	}
	rec, err := h.Histories.GetByChat(r.Context(), c.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "this chat has no generated history")
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListHistories scopes by role: administrators see everything, office
// clerks their assigned operators, operators their own.
func (h *Handle) ListHistories(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var (
		list []history.Record
		err  error
	)
	switch p.Role {
	case auth.RoleAdmin:
		list, err = h.Histories.ListAll(r.Context())
	case auth.RoleClerk:
		list, err = h.Histories.ListAssigned(r.Context(), p.UserID)
	default:
		list, err = h.Histories.ListForUser(r.Context(), p.UserID)
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handle) GetHistory(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadHistory(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handle) HistoryPDF(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadHistory(w, r)
	if !ok {
		return
	}
	pdf, err := h.Formatter.Format(rec.Document)
	if err != nil {
		internalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="historial_%d.pdf"`, rec.ID))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// DeleteHistory is allowed to the author and administrators.
func (h *Handle) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadHistory(w, r)
	if !ok {
		return
	}
	p := principal(r)
	if p.Role != auth.RoleAdmin && rec.UserID != p.UserID {
		writeError(w, http.StatusForbidden, "only the author or an administrator can delete a history")
		return
	}
	if err := h.Histories.Delete(r.Context(), rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadHistory resolves {historyID}. Records the caller may not read are
// reported as missing.
func (h *Handle) loadHistory(w http.ResponseWriter, r *http.Request) (history.Record, bool) {
	id, ok := pathID(r, "historyID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid history id")
		return history.Record{}, false
	}
	rec, err := h.Histories.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "history not found")
		return history.Record{}, false
	}
	if err != nil {
		internalError(w, r, err)
		return history.Record{}, false
	}
	allowed, err := h.canRead(r, rec)
	if err != nil {
		internalError(w, r, err)
		return history.Record{}, false
	}
	if !allowed {
		writeError(w, http.StatusNotFound, "history not found")
		return history.Record{}, false
	}
	return rec, true
}

func (h *Handle) canRead(r *http.Request, rec history.Record) (bool, error) {
	p := principal(r)
	switch {
	case p.Role == auth.RoleAdmin, rec.UserID == p.UserID:
		return true, nil
	case p.Role == auth.RoleClerk:
		ops, err := h.Users.AssignedOperators(r.Context(), p.UserID)
		if err != nil {
			return false, err
		}
		return slices.ContainsFunc(ops, func(u store.User) bool { return u.ID == rec.UserID }), nil
	}
	return false, nil
}

