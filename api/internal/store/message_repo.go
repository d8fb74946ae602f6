package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type MessageRepo struct {
	DB *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{DB: db} }

func (r *MessageRepo) Create(ctx context.Context, m *Message) error {
	var anns any
	if len(m.Annotations) > 0 {
		b, err := json.Marshal(m.Annotations)
		if err != nil {
			return fmt.Errorf("marshal annotations: %w", err)
		}
		anns = string(b)
	}
	const q = `
insert into messages (chat_id, role, content, image_path, annotated_path, annotations)
values ($1, $2, $3, $4, $5, $6)
returning id, created_at`
	return r.DB.QueryRowContext(ctx, q,
		m.ChatID, m.Role, m.Content, nullString(m.ImagePath), nullString(m.AnnotatedPath), anns,
	).Scan(&m.ID, &m.CreatedAt)
}

// ListByChat returns the conversation oldest first.
func (r *MessageRepo) ListByChat(ctx context.Context, chatID int64) ([]Message, error) {
	rows, err := r.DB.QueryContext(ctx, `
select id, chat_id, role, content, image_path, annotated_path, annotations, created_at
from messages where chat_id = $1
order by created_at, id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m        Message
			img, ann sql.NullString
			annsJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &img, &ann, &annsJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ImagePath = stringPtr(img)
		m.AnnotatedPath = stringPtr(ann)
		if len(annsJSON) > 0 {
			if err := json.Unmarshal(annsJSON, &m.Annotations); err != nil {
				return nil, fmt.Errorf("message %d annotations: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
