package handle

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/Martinhdeez/plane-assistant/api/internal/annotate"
	"github.com/Martinhdeez/plane-assistant/api/internal/assistant"
	"github.com/Martinhdeez/plane-assistant/api/internal/storage"
	"github.com/Martinhdeez/plane-assistant/api/internal/store"
	"github.com/Martinhdeez/plane-assistant/api/internal/util"
)

const (
	maxChatTitle       = 200
	defaultImagePrompt = "Analiza esta imagen"
	multipartOverhead  = 1 << 20
)

type ChatRequest struct {
	Title         string  `json:"title"`
	AirplaneModel *string `json:"airplane_model,omitempty"`
	ComponentType *string `json:"component_type,omitempty"`
}

type MessageRequest struct {
	Content string `json:"content"`
}

// MessageResponse adds public URLs to a stored message.
type MessageResponse struct {
	store.Message
	ImageURL          string `json:"image_url,omitempty"`
	AnnotatedImageURL string `json:"annotated_image_url,omitempty"`
}

type ChatWithMessages struct {
	store.Chat
	Messages []MessageResponse `json:"messages"`
}

func (h *Handle) messageResponse(m store.Message) MessageResponse {
	out := MessageResponse{Message: m}
	if m.ImagePath != nil && h.Files != nil {
		out.ImageURL = h.Files.URL(*m.ImagePath)
	}
	if m.AnnotatedPath != nil && h.Files != nil {
		out.AnnotatedImageURL = h.Files.URL(*m.AnnotatedPath)
	}
	return out
}

// loadChat resolves {chatID} for the caller and writes 404 for foreign or
// missing chats.
func (h *Handle) loadChat(w http.ResponseWriter, r *http.Request) (store.Chat, bool) {
	id, ok := pathID(r, "chatID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return store.Chat{}, false
	}
	c, err := h.Chats.Get(r.Context(), principal(r).UserID, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return store.Chat{}, false
	}
	if err != nil {
		internalError(w, r, err)
		return store.Chat{}, false
	}
	return c, true
}

// chatContext gathers aircraft, component and current step for the prompt.
func (h *Handle) chatContext(r *http.Request, c store.Chat) *assistant.ChatContext {
	cc := &assistant.ChatContext{}
	if c.AirplaneModel != nil {
		cc.AirplaneModel = *c.AirplaneModel
	}
	if c.ComponentType != nil {
		cc.ComponentType = *c.ComponentType
	}
	if h.Steps != nil {
		cur, err := h.Steps.Current(r.Context(), c.ID)
		switch {
		case err == nil:
			cc.CurrentStep = &assistant.StepContext{Number: cur.Number, Title: cur.Title, Description: cur.Description}
		case !errors.Is(err, store.ErrNotFound):
			log.Printf("chat %d: current step: %v", c.ID, err)
		}
	}
	return cc
}

func transcript(msgs []store.Message) []assistant.Message {
	out := make([]assistant.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, assistant.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (h *Handle) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	title := util.Truncate(strings.TrimSpace(req.Title), maxChatTitle)
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	c := store.Chat{
		UserID:        principal(r).UserID,
		Title:         title,
		AirplaneModel: trimmed(req.AirplaneModel),
		ComponentType: trimmed(req.ComponentType),
	}
	if err := h.Chats.Create(r.Context(), &c); err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handle) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.Chats.List(r.Context(), principal(r).UserID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (h *Handle) GetChat(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadChat(w, r)
	if !ok {
		return
	}
	msgs, err := h.Messages.ListByChat(r.Context(), c.ID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	out := ChatWithMessages{Chat: c, Messages: make([]MessageResponse, 0, len(msgs))}
	out.MessageCount = len(msgs)
	for _, m := range msgs {
		out.Messages = append(out.Messages, h.messageResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteChat removes the chat and, best effort, its stored images.
func (h *Handle) DeleteChat(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadChat(w, r)
	if !ok {
		return
	}
	if err := h.Chats.Delete(r.Context(), c.UserID, c.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		internalError(w, r, err)
		return
	}
	if h.Files != nil {
		if err := h.Files.DeleteChat(c.UserID, c.ID); err != nil {
			log.Printf("chat %d: delete files: %v", c.ID, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendMessage stores the user's text, asks the assistant with the prior
// conversation and chat context, and stores the reply.
func (h *Handle) SendMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadChat(w, r)
	if !ok {
		return
	}
	var req MessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	ctx := r.Context()
	prior, err := h.Messages.ListByChat(ctx, c.ID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	userMsg := store.Message{ChatID: c.ID, Role: assistant.RoleUser, Content: content}
	if err := h.Messages.Create(ctx, &userMsg); err != nil {
		internalError(w, r, err)
		return
	}

	eng, err := h.engine(r)
	if err != nil {
		aiError(w, r, err)
		return
	}
	actx, cancel := h.aiContext(r)
	defer cancel()
	reply, err := eng.Chat(actx, assistant.ChatRequest{
		Message: content,
		History: transcript(prior),
		Context: h.chatContext(r, c),
	})
	if err != nil {
		aiError(w, r, err)
		return
	}

	aiMsg := store.Message{ChatID: c.ID, Role: assistant.RoleAssistant, Content: reply}
	if err := h.Messages.Create(ctx, &aiMsg); err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.messageResponse(aiMsg))
}

// SendImage handles a photo upload: store, analyze, draw the assistant's
// markers, store the annotated copy and reply with its URL.
func (h *Handle) SendImage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadChat(w, r)
	if !ok {
		return
	}
	data, name, ok := readUpload(w, r, storage.MaxImageSize)
	if !ok {
		return
	}
	content := strings.TrimSpace(r.FormValue("content"))
	if content == "" {
		content = defaultImagePrompt
	}
	if _, err := annotate.Decode(data); err != nil {
		log.Printf("chat %d: %v", c.ID, err)
		writeError(w, http.StatusBadRequest, "could not process image")
		return
	}

	ctx := r.Context()
	rel, err := h.Files.SaveUserImage(c.UserID, c.ID, name, data)
	if err != nil {
		uploadError(w, r, err)
		return
	}
	prior, err := h.Messages.ListByChat(ctx, c.ID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	userMsg := store.Message{ChatID: c.ID, Role: assistant.RoleUser, Content: content, ImagePath: &rel}
	if err := h.Messages.Create(ctx, &userMsg); err != nil {
		internalError(w, r, err)
		return
	}

	eng, err := h.engine(r)
	if err != nil {
		aiError(w, r, err)
		return
	}
	actx, cancel := h.aiContext(r)
	defer cancel()
	res, err := eng.AnalyzeImage(actx, assistant.VisionRequest{
		Image:   data,
		MIME:    util.SniffMimeHTTP(data),
		Message: content,
		History: transcript(prior),
		Context: h.chatContext(r, c),
	})
	if err != nil {
		aiError(w, r, err)
		return
	}

	aiMsg := store.Message{ChatID: c.ID, Role: assistant.RoleAssistant, Content: assistant.FormatVisionReply(res)}
	out, err := h.Renderer.Render(data, res.Annotations)
	switch {
	case errors.Is(err, annotate.ErrInvalidImage), errors.Is(err, annotate.ErrImageDecode):
		writeError(w, http.StatusBadRequest, "could not process image")
		return
	case err != nil:
		internalError(w, r, err)
		return
	}
	if len(out.Annotations) > 0 {
		annRel, err := h.Files.SaveAnnotated(c.UserID, c.ID, out.Image)
		if err != nil {
			internalError(w, r, err)
			return
		}
		aiMsg.AnnotatedPath = &annRel
		aiMsg.Annotations = out.Annotations
	}
	if err := h.Messages.Create(ctx, &aiMsg); err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_message":      h.messageResponse(userMsg),
		"assistant_message": h.messageResponse(aiMsg),
	})
}

// readUpload reads the multipart "file" field up to limit bytes.
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit + multipartOverhead); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
		}
		return nil, "", false
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return nil, "", false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file: "+err.Error())
		return nil, "", false
	}
	if int64(len(data)) > limit {
		uploadError(w, r, storage.ErrTooLarge)
		return nil, "", false
	}
	return data, hdr.Filename, true
}

func uploadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
	case errors.Is(err, storage.ErrBadExtension):
		writeError(w, http.StatusBadRequest, "file type not allowed")
	case errors.Is(err, storage.ErrEmpty):
		writeError(w, http.StatusBadRequest, "empty file")
	default:
		internalError(w, r, err)
	}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
