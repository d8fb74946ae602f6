package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Martinhdeez/plane-assistant/api/internal/annotate"
	"github.com/Martinhdeez/plane-assistant/api/internal/assistant"
	"github.com/Martinhdeez/plane-assistant/api/internal/assistant/gemini"
	"github.com/Martinhdeez/plane-assistant/api/internal/assistant/openai"
	"github.com/Martinhdeez/plane-assistant/api/internal/auth"
	"github.com/Martinhdeez/plane-assistant/api/internal/config"
	"github.com/Martinhdeez/plane-assistant/api/internal/handle"
	"github.com/Martinhdeez/plane-assistant/api/internal/history"
	"github.com/Martinhdeez/plane-assistant/api/internal/httpserver"
	"github.com/Martinhdeez/plane-assistant/api/internal/storage"
	"github.com/Martinhdeez/plane-assistant/api/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PromptDir != "" {
		_ = os.Setenv("PROMPT_DIR", cfg.PromptDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	log.Printf("db connected: %s", cfg.SafeDSN())
	if err := store.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// --- Rendering ---
	face, err := annotate.LoadFont(cfg.FontPath)
	if err != nil {
		log.Fatalf("font: %v", err)
	}
	renderer, err := annotate.NewRenderer(annotate.WithFont(face))
	if err != nil {
		log.Fatalf("renderer: %v", err)
	}

	engines := newEngines(cfg)
	log.Printf("ai engines: %s (default %s)", strings.Join(engines.Names(), ", "), engines.Default)

	h := handle.New(handle.Deps{
		Users:     store.NewUserRepo(db),
		Chats:     store.NewChatRepo(db),
		Messages:  store.NewMessageRepo(db),
		Steps:     store.NewStepRepo(db),
		Histories: store.NewHistoryRepo(db),
		Files:     storage.NewDisk(cfg.UploadPath, cfg.TemplatePath),
		DB:        db,
		Engines:   engines,
		Renderer:  renderer,
		Formatter: history.NewFormatter(history.Options{}),
		Tokens:    auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		Timeout:   cfg.RequestTimeout,
	})

	addr := "0.0.0.0:" + cfg.Port
	if err := httpserver.Run(ctx, addr, h.Routes()); err != nil {
		log.Fatalf("http: %v", err)
	}
	log.Printf("plane-assistant stopped")
}

// newEngines registers every provider that has a key.
func newEngines(cfg *config.Config) *assistant.Engines {
	e := &assistant.Engines{Default: cfg.AIProvider}
	if cfg.GeminiAPIKey != "" {
		e.Gemini = gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel)
	}
	if cfg.OpenAIAPIKey != "" {
		e.OpenAI = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}
	return e
}
