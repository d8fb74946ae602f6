package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Martinhdeez/plane-assistant/api/internal/assistant"
	"github.com/Martinhdeez/plane-assistant/api/internal/storage"
	"github.com/Martinhdeez/plane-assistant/api/internal/util"
)

const defaultPhotoPrompt = "Analiza esta imagen"

func (r *Router) acceptPhoto(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	ph := largest(msg.Photo)
	url, err := r.Bot.GetFileDirectURL(ph.FileID)
	if err != nil {
		r.SendError(cid, err)
		return
	}
	fetch := r.Fetch
	if fetch == nil {
		fetch = download
	}
	img, err := fetch(ctx, url)
	if err != nil {
		r.SendError(cid, fmt.Errorf("download photo: %w", err))
		return
	}

	s := r.sessions.get(cid)
	eng, err := r.Engines.GetEngine(s.engineName())
	if err != nil {
		r.SendError(cid, err)
		return
	}
	_, _ = r.Bot.Request(tgbotapi.NewChatAction(cid, tgbotapi.ChatUploadPhoto))

	prompt := strings.TrimSpace(msg.Caption)
	if prompt == "" {
		prompt = defaultPhotoPrompt
	}
	hist, cc := s.snapshot()
	actx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()
	res, err := eng.AnalyzeImage(actx, assistant.VisionRequest{
		Image:   img,
		MIME:    util.SniffMimeHTTP(img),
		Message: prompt,
		History: hist,
		Context: cc,
	})
	if err != nil {
		r.SendError(cid, err)
		return
	}
	reply := assistant.FormatVisionReply(res)
	s.remember(assistant.Message{Role: assistant.RoleUser, Content: "[Imagen] " + prompt},
		assistant.Message{Role: assistant.RoleAssistant, Content: reply})

	if len(res.Annotations) == 0 || r.Renderer == nil {
		r.SendResult(cid, reply)
		return
	}
	out, err := r.Renderer.Render(img, res.Annotations)
	if err != nil || len(out.Annotations) == 0 {
		if err != nil {
			r.logf("render for chat %d: %v", cid, err)
		}
		r.SendResult(cid, reply)
		return
	}
	r.sendPhoto(cid, out.Image, reply)
}

// sendPhoto replies with the annotated image. Text that does not fit in the
// caption follows as regular messages.
func (r *Router) sendPhoto(cid int64, img []byte, text string) {
	cfg := tgbotapi.NewPhoto(cid, tgbotapi.FileBytes{Name: "annotated.jpg", Bytes: img})
	caption := util.Truncate(text, maxCaptionLen)
	cfg.Caption = caption
	if _, err := r.Bot.Send(cfg); err != nil {
		r.logf("send photo to %d: %v", cid, err)
		r.SendResult(cid, text)
		return
	}
	if rest := strings.TrimSpace(text[len(caption):]); rest != "" {
		r.SendResult(cid, rest)
	}
}

func largest(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, storage.MaxImageSize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > storage.MaxImageSize {
		return nil, storage.ErrTooLarge
	}
	return b, nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
