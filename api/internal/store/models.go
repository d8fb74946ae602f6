package store

import (
	"time"

	"github.com/Martinhdeez/plane-assistant/api/internal/annotate"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Division     *string   `json:"division"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Chat struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	Title            string    `json:"title"`
	AirplaneModel    *string   `json:"airplane_model"`
	ComponentType    *string   `json:"component_type"`
	TemplatePath     *string   `json:"-"`
	TemplateFilename *string   `json:"instruction_template_filename"`
	MessageCount     int       `json:"message_count"`
	CreatedAt        time.Time `json:"created_at"`
}

type Message struct {
	ID            int64                 `json:"id"`
	ChatID        int64                 `json:"chat_id"`
	Role          string                `json:"role"`
	Content       string                `json:"content"`
	ImagePath     *string               `json:"image_path,omitempty"`
	AnnotatedPath *string               `json:"annotated_path,omitempty"`
	Annotations   []annotate.Annotation `json:"annotations,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}
