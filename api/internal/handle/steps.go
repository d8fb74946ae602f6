package handle

import (
	"errors"
	"log"
	"net/http"

	"github.com/Martinhdeez/plane-assistant/api/internal/steps"
	"github.com/Martinhdeez/plane-assistant/api/internal/storage"
	"github.com/Martinhdeez/plane-assistant/api/internal/store"
)

type StepList struct {
	Steps       []steps.Step `json:"steps"`
	Total       int          `json:"total"`
	Completed   int          `json:"completed"`
	CurrentStep *steps.Step  `json:"current_step"`
}

func stepList(list []steps.Step) StepList {
	out := StepList{Steps: list, Total: len(list), CurrentStep: steps.Current(list)}
	for _, s := range list {
		if s.IsCompleted {
			out.Completed++
		}
	}
	return out
}

// UploadTemplate turns a procedure PDF into the chat's checklist. Previous
// steps are replaced.
func (h *Handle) UploadTemplate(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadChat(w, r)
	if !ok {
		return
	}
	data, name, ok := readUpload(w, r, storage.MaxTemplateSize)
	if !ok {
		return
	}
	rel, err := h.Files.SaveTemplate(c.UserID, name, data)
	if err != nil {
		uploadError(w, r, err)
		return
	}

	eng, err := h.engine(r)
	if err != nil {
		aiError(w, r, err)
		return
	}
	actx, cancel := h.aiContext(r)
	defer cancel()
	cands, err := eng.ExtractSteps(actx, data)
	if err != nil {
		aiError(w, r, err)
		return
	}
	drafts := steps.Normalize(cands)
	if len(drafts) == 0 {
		log.Printf("chat %d: %s yielded no steps (%d candidates)", c.ID, name, len(cands))
		writeError(w, http.StatusUnprocessableEntity, "no steps could be extracted from the document")
		return
	}

	ctx := r.Context()
	saved, err := h.Steps.ReplaceForChat(ctx, c.ID, drafts)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if err := h.Chats.SetTemplate(ctx, c.ID, rel, name); err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stepList(saved))
}

func (h *Handle) ListSteps(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadChat(w, r)
	if !ok {
		return
	}
	list, err := h.Steps.ListByChat(r.Context(), c.ID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stepList(list))
}

// CurrentStep answers null when every step is done or none exist.
func (h *Handle) CurrentStep(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadChat(w, r)
	if !ok {
		return
	}
	cur, err := h.Steps.Current(r.Context(), c.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

func (h *Handle) CompleteStep(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadChat(w, r)
	if !ok {
		return
	}
	stepID, ok := pathID(r, "stepID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid step id")
		return
	}
	s, err := h.Steps.Complete(r.Context(), c.ID, stepID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "step not found")
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
