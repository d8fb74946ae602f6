package telegram

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Martinhdeez/plane-assistant/api/internal/annotate"
	"github.com/Martinhdeez/plane-assistant/api/internal/assistant"
	"github.com/Martinhdeez/plane-assistant/api/internal/util"
)

const (
	DefaultTimeout = 180 * time.Second

	maxTextLen    = 3900
	maxCaptionLen = 1000
)

// Bot is the part of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Router struct {
	Bot      Bot
	Engines  *assistant.Engines
	Renderer *annotate.Renderer
	Timeout  time.Duration

	// Fetch downloads Telegram files. Defaults to an HTTP GET.
	Fetch func(ctx context.Context, url string) ([]byte, error)

	sessions sessions
}

func (r *Router) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// HandleUpdate dispatches one update. It blocks until the reply is sent.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	switch {
	case msg.IsCommand():
		r.HandleCommand(msg)
	case len(msg.Photo) > 0:
		r.acceptPhoto(ctx, msg)
	case strings.TrimSpace(msg.Text) != "":
		r.acceptText(ctx, msg)
	}
}

func (r *Router) HandleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		r.send(cid, helpText)
	case "health":
		r.send(cid, "✅ OK")
	case "reset":
		r.sessions.reset(cid)
		r.send(cid, "Conversación reiniciada.")
	case "aircraft":
		r.sessions.get(cid).setContext(func(c *assistant.ChatContext) { c.AirplaneModel = args })
		r.send(cid, "Modelo de avión: "+orNone(args))
	case "component":
		r.sessions.get(cid).setContext(func(c *assistant.ChatContext) { c.ComponentType = args })
		r.send(cid, "Componente: "+orNone(args))
	case "engine":
		if args == "" {
			m := tgbotapi.NewMessage(cid, "Motor actual: "+r.engineName(cid)+". Elige otro:")
			m.ReplyMarkup = makeEngineKeyboard(r.Engines.Names())
			_, _ = r.Bot.Send(m)
			return
		}
		r.switchEngine(cid, args)
	default:
		r.send(cid, "Comando desconocido. Usa /help.")
	}
}

func (r *Router) acceptText(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	s := r.sessions.get(cid)
	eng, err := r.Engines.GetEngine(s.engineName())
	if err != nil {
		r.SendError(cid, err)
		return
	}
	_, _ = r.Bot.Request(tgbotapi.NewChatAction(cid, tgbotapi.ChatTyping))

	hist, cc := s.snapshot()
	actx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()
	reply, err := eng.Chat(actx, assistant.ChatRequest{Message: msg.Text, History: hist, Context: cc})
	if err != nil {
		r.SendError(cid, err)
		return
	}
	s.remember(assistant.Message{Role: assistant.RoleUser, Content: msg.Text},
		assistant.Message{Role: assistant.RoleAssistant, Content: reply})
	r.SendResult(cid, reply)
}

func (r *Router) engineName(cid int64) string {
	eng, err := r.Engines.GetEngine(r.sessions.get(cid).engineName())
	if err != nil {
		return "ninguno"
	}
	return eng.Name() + " (" + eng.GetModel() + ")"
}

func (r *Router) switchEngine(cid int64, name string) {
	eng, err := r.Engines.GetEngine(name)
	if err != nil {
		r.send(cid, "Motor desconocido. Disponibles: "+strings.Join(r.Engines.Names(), " | "))
		return
	}
	r.sessions.get(cid).setEngine(name)
	r.send(cid, "✅ Motor: "+eng.Name()+" ("+eng.GetModel()+")")
}

func (r *Router) send(chatID int64, text string) {
	if _, err := r.Bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.logf("send to %d: %v", chatID, err)
	}
}

// SendResult sends text in chunks Telegram accepts.
func (r *Router) SendResult(chatID int64, text string) {
	for _, part := range chunks(text, maxTextLen) {
		r.send(chatID, part)
	}
}

func (r *Router) SendError(chatID int64, err error) {
	r.logf("chat %d: %v", chatID, err)
	r.send(chatID, "⚠️ No se pudo obtener respuesta del asistente. Inténtalo de nuevo.")
}

func (r *Router) logf(format string, args ...any) {
	log.Printf("telegram: "+format, args...)
}

func chunks(s string, n int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"(sin respuesta)"}
	}
	var out []string
	for s != "" {
		part := util.Truncate(s, n)
		out = append(out, part)
		s = strings.TrimSpace(s[len(part):])
	}
	return out
}

func orNone(s string) string {
	if s == "" {
		return "sin especificar"
	}
	return s
}

var helpText = fmt.Sprintf(`Asistente de mantenimiento aeronáutico.

Envía una pregunta o una foto del componente (con comentario opcional) y te respondo; en las fotos marco los puntos relevantes.

Comandos:
/aircraft <modelo> - fija el modelo de avión
/component <tipo> - fija el componente
/engine [nombre] - cambia el motor de IA
/reset - borra la conversación
/health - estado del bot

Se recuerdan los últimos %d mensajes.`, maxHistory)
