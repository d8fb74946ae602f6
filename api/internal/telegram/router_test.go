package telegram

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martinhdeez/plane-assistant/api/internal/annotate"
	"github.com/Martinhdeez/plane-assistant/api/internal/assistant"
	"github.com/Martinhdeez/plane-assistant/api/internal/history"
	"github.com/Martinhdeez/plane-assistant/api/internal/steps"
	"github.com/Martinhdeez/plane-assistant/api/internal/storage"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := c.(tgbotapi.PhotoConfig); ok && b.sendErr != nil {
		return tgbotapi.Message{}, b.sendErr
	}
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	return "https://files.test/" + fileID, nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (b *fakeBot) photos() []tgbotapi.PhotoConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []tgbotapi.PhotoConfig
	for _, c := range b.sent {
		if p, ok := c.(tgbotapi.PhotoConfig); ok {
			out = append(out, p)
		}
	}
	return out
}

type fakeEngine struct {
	name   string
	reply  string
	vision assistant.VisionResult
	err    error

	lastChat   assistant.ChatRequest
	lastVision assistant.VisionRequest
}

func (f *fakeEngine) Name() string     { return f.name }
func (f *fakeEngine) GetModel() string { return f.name + "-model" }

func (f *fakeEngine) Chat(_ context.Context, in assistant.ChatRequest) (string, error) {
	f.lastChat = in
	return f.reply, f.err
}

func (f *fakeEngine) AnalyzeImage(_ context.Context, in assistant.VisionRequest) (assistant.VisionResult, error) {
	f.lastVision = in
	return f.vision, f.err
}

func (f *fakeEngine) ExtractSteps(context.Context, []byte) ([]steps.Candidate, error) {
	return nil, errors.New("unused")
}

func (f *fakeEngine) SummarizeHistory(context.Context, []assistant.Message) (history.Document, error) {
	return history.Document{}, errors.New("unused")
}

type testRig struct {
	router *Router
	bot    *fakeBot
	gemini *fakeEngine
	openai *fakeEngine
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	rd, err := annotate.NewRenderer()
	require.NoError(t, err)
	rig := &testRig{
		bot:    &fakeBot{},
		gemini: &fakeEngine{name: "gemini", reply: "respuesta gemini"},
		openai: &fakeEngine{name: "openai", reply: "respuesta openai"},
	}
	rig.router = &Router{
		Bot:      rig.bot,
		Engines:  &assistant.Engines{Gemini: rig.gemini, OpenAI: rig.openai, Default: "gemini"},
		Renderer: rd,
		Fetch: func(context.Context, string) ([]byte, error) {
			return pngImage(t), nil
		},
	}
	return rig
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 200, 160))))
	return buf.Bytes()
}

func (rig *testRig) update(msg *tgbotapi.Message) {
	rig.router.HandleUpdate(context.Background(), tgbotapi.Update{Message: msg})
}

func textMsg(cid int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: cid}, Text: text}
}

func commandMsg(cid int64, text string) *tgbotapi.Message {
	m := textMsg(cid, text)
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Length: len(strings.Fields(text)[0])}}
	return m
}

func photoMsg(cid int64, caption string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat:    &tgbotapi.Chat{ID: cid},
		Caption: caption,
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90, Height: 60},
			{FileID: "big", Width: 1280, Height: 960},
			{FileID: "mid", Width: 320, Height: 240},
		},
	}
}

func f64(v float64) *float64 { return &v }
func str(s string) *string   { return &s }

func TestCommands(t *testing.T) {
	rig := newRig(t)
	rig.update(commandMsg(1, "/start"))
	rig.update(commandMsg(1, "/health"))
	rig.update(commandMsg(1, "/nope"))

	texts := rig.bot.texts()
	require.Len(t, texts, 3)
	assert.Contains(t, texts[0], "/reset")
	assert.Equal(t, "✅ OK", texts[1])
	assert.Contains(t, texts[2], "/help")
}

func TestText_KeepsConversation(t *testing.T) {
	rig := newRig(t)
	rig.update(commandMsg(7, "/aircraft A320"))
	rig.update(textMsg(7, "¿cómo reviso el tren?"))
	rig.update(textMsg(7, "¿y después?"))

	req := rig.gemini.lastChat
	assert.Equal(t, "¿y después?", req.Message)
	require.Len(t, req.History, 2)
	assert.Equal(t, assistant.RoleUser, req.History[0].Role)
	assert.Equal(t, "respuesta gemini", req.History[1].Content)
	require.NotNil(t, req.Context)
	assert.Equal(t, "A320", req.Context.AirplaneModel)

	rig.update(commandMsg(7, "/reset"))
	rig.update(textMsg(7, "hola"))
	assert.Empty(t, rig.gemini.lastChat.History)
	assert.Nil(t, rig.gemini.lastChat.Context)
}

func TestText_ChatsAreIsolated(t *testing.T) {
	rig := newRig(t)
	rig.update(textMsg(1, "uno"))
	rig.update(textMsg(2, "dos"))
	assert.Empty(t, rig.gemini.lastChat.History)
}

func TestText_EngineError(t *testing.T) {
	rig := newRig(t)
	rig.gemini.err = errors.New("boom")
	rig.update(textMsg(3, "hola"))

	texts := rig.bot.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "No se pudo obtener respuesta")

	rig.gemini.err = nil
	rig.update(textMsg(3, "otra vez"))
	assert.Empty(t, rig.gemini.lastChat.History)
}

func TestEngineSwitch(t *testing.T) {
	rig := newRig(t)
	rig.update(commandMsg(5, "/engine openai"))
	rig.update(textMsg(5, "hola"))
	assert.Equal(t, "hola", rig.openai.lastChat.Message)
	assert.Empty(t, rig.gemini.lastChat.Message)

	rig.update(commandMsg(5, "/engine cohere"))
	assert.Contains(t, rig.bot.texts()[len(rig.bot.texts())-1], "Motor desconocido")

	rig.router.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    enginePrefix + "gemini",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 5}},
	}})
	rig.update(textMsg(5, "de nuevo"))
	assert.Equal(t, "de nuevo", rig.gemini.lastChat.Message)
}

func TestEngineKeyboard(t *testing.T) {
	rig := newRig(t)
	rig.update(commandMsg(9, "/engine"))

	require.Len(t, rig.bot.sent, 1)
	m, ok := rig.bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	kb, ok := m.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 2)
	assert.Equal(t, enginePrefix+"openai", *kb.InlineKeyboard[0][1].CallbackData)
}

func TestPhoto_AnnotatedReply(t *testing.T) {
	rig := newRig(t)
	var fetched string
	rig.router.Fetch = func(_ context.Context, url string) ([]byte, error) {
		fetched = url
		return pngImage(t), nil
	}
	rig.gemini.vision = assistant.VisionResult{
		Analysis:    "Fuga en la línea hidráulica.",
		Steps:       []string{"Despresurizar", "Sustituir junta"},
		Annotations: []annotate.Request{{X: f64(40), Y: f64(50), Text: str("junta")}},
	}

	rig.update(photoMsg(11, "  "))

	assert.Equal(t, "https://files.test/big", fetched)
	assert.Equal(t, defaultPhotoPrompt, rig.gemini.lastVision.Message)
	assert.Equal(t, "image/png", rig.gemini.lastVision.MIME)

	photos := rig.bot.photos()
	require.Len(t, photos, 1)
	assert.Contains(t, photos[0].Caption, "Fuga en la línea hidráulica.")
	assert.Contains(t, photos[0].Caption, "2. Sustituir junta")
	fb, ok := photos[0].File.(tgbotapi.FileBytes)
	require.True(t, ok)
	_, err := annotate.Decode(fb.Bytes)
	require.NoError(t, err)
	assert.Empty(t, rig.bot.texts())

	rig.update(textMsg(11, "¿qué junta?"))
	require.Len(t, rig.gemini.lastChat.History, 2)
	assert.Equal(t, "[Imagen] "+defaultPhotoPrompt, rig.gemini.lastChat.History[0].Content)
}

func TestPhoto_WithoutAnnotationsSendsText(t *testing.T) {
	rig := newRig(t)
	rig.gemini.vision = assistant.VisionResult{Analysis: "Todo correcto."}
	rig.update(photoMsg(12, "revisa el panel"))

	assert.Equal(t, "revisa el panel", rig.gemini.lastVision.Message)
	assert.Empty(t, rig.bot.photos())
	assert.Equal(t, []string{"Todo correcto."}, rig.bot.texts())
}

func TestPhoto_RenderFailureFallsBackToText(t *testing.T) {
	rig := newRig(t)
	rig.router.Fetch = func(context.Context, string) ([]byte, error) {
		return []byte("not an image"), nil
	}
	rig.gemini.vision = assistant.VisionResult{
		Analysis:    "Revisión visual.",
		Annotations: []annotate.Request{{X: f64(10), Y: f64(10), Text: str("a")}},
	}
	rig.update(photoMsg(13, ""))

	assert.Empty(t, rig.bot.photos())
	assert.Equal(t, []string{"Revisión visual."}, rig.bot.texts())
}

func TestPhoto_SendFailureFallsBackToText(t *testing.T) {
	rig := newRig(t)
	rig.bot.sendErr = errors.New("telegram down")
	rig.gemini.vision = assistant.VisionResult{
		Analysis:    "Revisión visual.",
		Annotations: []annotate.Request{{X: f64(10), Y: f64(10), Text: str("a")}},
	}
	rig.update(photoMsg(14, ""))
	assert.Equal(t, []string{"Revisión visual."}, rig.bot.texts())
}

func TestPhoto_DownloadError(t *testing.T) {
	rig := newRig(t)
	rig.router.Fetch = func(context.Context, string) ([]byte, error) {
		return nil, errors.New("status 404")
	}
	rig.update(photoMsg(15, ""))
	assert.Empty(t, rig.gemini.lastVision.Image)
	require.Len(t, rig.bot.texts(), 1)
}

func TestSendPhoto_LongTextContinues(t *testing.T) {
	rig := newRig(t)
	text := strings.Repeat("a", maxCaptionLen) + " resto"
	rig.router.sendPhoto(1, []byte{1}, text)

	photos := rig.bot.photos()
	require.Len(t, photos, 1)
	assert.Len(t, photos[0].Caption, maxCaptionLen)
	assert.Equal(t, []string{"resto"}, rig.bot.texts())
}

func TestChunks(t *testing.T) {
	assert.Equal(t, []string{"(sin respuesta)"}, chunks("  ", 10))
	assert.Equal(t, []string{"hola"}, chunks("hola", 10))

	parts := chunks(strings.Repeat("ñ", 25), 10)
	require.Len(t, parts, 3)
	assert.Equal(t, strings.Repeat("ñ", 10), parts[0])
	assert.Equal(t, strings.Repeat("ñ", 5), parts[2])
}

func TestSession_TrimsHistory(t *testing.T) {
	var s session
	for i := 0; i < maxHistory+5; i++ {
		s.remember(assistant.Message{Role: assistant.RoleUser, Content: string(rune('a' + i))})
	}
	hist, cc := s.snapshot()
	require.Len(t, hist, maxHistory)
	assert.Equal(t, string(rune('a'+5)), hist[0].Content)
	assert.Nil(t, cc)
}

func TestLargest(t *testing.T) {
	assert.Equal(t, "big", largest(photoMsg(1, "").Photo).FileID)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("jpegbytes"))
		case "/big":
			_, _ = w.Write(make([]byte, storage.MaxImageSize+1))
		default:
			http.Error(w, "missing", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b, err := download(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpegbytes"), b)

	_, err = download(context.Background(), srv.URL+"/big")
	assert.ErrorIs(t, err, storage.ErrTooLarge)

	_, err = download(context.Background(), srv.URL+"/gone")
	assert.ErrorContains(t, err, "status 404")
}
