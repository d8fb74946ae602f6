package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`

	AIProvider   string `yaml:"ai_provider"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIModel  string `yaml:"openai_model"`

	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	UploadPath   string `yaml:"upload_path"`
	TemplatePath string `yaml:"template_path"`
	FontPath     string `yaml:"font_path"`
	PromptDir    string `yaml:"prompt_dir"`

	TelegramBotToken string `yaml:"telegram_bot_token"`
	WebhookURL       string `yaml:"webhook_url"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func defaults() Config {
	return Config{
		Port:           "8000",
		AIProvider:     "gemini",
		GeminiModel:    "gemini-2.5-flash",
		OpenAIModel:    "gpt-4o-mini",
		TokenTTL:       7 * 24 * time.Hour,
		UploadPath:     "uploads/users",
		TemplatePath:   "uploads/templates",
		RequestTimeout: 180 * time.Second,
	}
}

// Load reads CONFIG_FILE (if set) and then the environment. A broken
// configuration is fatal.
func Load() *Config {
	cfg, err := load(os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func load(getenv func(string) string) (*Config, error) {
	cfg := defaults()
	if path := strings.TrimSpace(getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	env := func(k string, dst *string) {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			*dst = v
		}
	}
	env("PORT", &cfg.Port)
	env("DATABASE_URL", &cfg.DatabaseURL)
	env("AI_PROVIDER", &cfg.AIProvider)
	env("GOOGLE_API_KEY", &cfg.GeminiAPIKey)
	env("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	env("GEMINI_MODEL", &cfg.GeminiModel)
	env("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	env("OPENAI_MODEL", &cfg.OpenAIModel)
	env("JWT_SECRET", &cfg.JWTSecret)
	env("UPLOAD_PATH", &cfg.UploadPath)
	env("TEMPLATE_PATH", &cfg.TemplatePath)
	env("FONT_PATH", &cfg.FontPath)
	env("PROMPT_DIR", &cfg.PromptDir)
	env("TELEGRAM_BOT_TOKEN", &cfg.TelegramBotToken)
	env("WEBHOOK_URL", &cfg.WebhookURL)

	for k, dst := range map[string]*time.Duration{
		"TOKEN_TTL":       &cfg.TokenTTL,
		"REQUEST_TIMEOUT": &cfg.RequestTimeout,
	} {
		v := strings.TrimSpace(getenv(k))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		*dst = d
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = dsnFromParts(getenv)
	}
	cfg.AIProvider = strings.ToLower(cfg.AIProvider)
	return &cfg, nil
}

// dsnFromParts builds a DSN from POSTGRES_* / PG* variables.
func dsnFromParts(getenv func(string) string) string {
	get := func(k, def string) string {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			return v
		}
		return def
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(get("POSTGRES_USER", "plane"), getenv("POSTGRES_PASSWORD")),
		Host:     net.JoinHostPort(get("PGHOST", "db"), get("PGPORT", "5432")),
		Path:     "/" + get("POSTGRES_DB", "plane_assistant"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Validate checks what the HTTP API needs to start.
func (c *Config) Validate() error {
	errs := c.providerErrs()
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateBot checks what the Telegram bot needs to start.
func (c *Config) ValidateBot() error {
	errs := c.providerErrs()
	if c.TelegramBotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) providerErrs() []error {
	var errs []error
	switch c.AIProvider {
	case "gemini", "google":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for provider gemini"))
		}
	case "openai", "gpt":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for provider openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AI_PROVIDER %q", c.AIProvider))
	}
	return errs
}

// SafeDSN renders the database target without credentials.
func (c *Config) SafeDSN() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "dsn: parse error"
	}
	host, port := u.Host, ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, u.User.Username())
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, u.User.Username())
}
