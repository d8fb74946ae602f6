package store

import (
	"context"
	"database/sql"
)

type ChatRepo struct {
	DB *sql.DB
}

func NewChatRepo(db *sql.DB) *ChatRepo { return &ChatRepo{DB: db} }

const chatColumns = `id, user_id, title, airplane_model, component_type, template_path, template_filename, created_at`

func scanChat(row interface{ Scan(...any) error }) (Chat, error) {
	var (
		c                Chat
		model, comp      sql.NullString
		tplPath, tplFile sql.NullString
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &model, &comp, &tplPath, &tplFile, &c.CreatedAt)
	c.AirplaneModel = stringPtr(model)
	c.ComponentType = stringPtr(comp)
	c.TemplatePath = stringPtr(tplPath)
	c.TemplateFilename = stringPtr(tplFile)
	return c, err
}

func (r *ChatRepo) Create(ctx context.Context, c *Chat) error {
	const q = `
insert into chats (user_id, title, airplane_model, component_type)
values ($1, $2, $3, $4)
returning id, created_at`
	return r.DB.QueryRowContext(ctx, q,
		c.UserID, c.Title, nullString(c.AirplaneModel), nullString(c.ComponentType),
	).Scan(&c.ID, &c.CreatedAt)
}

// Get returns the chat only when it belongs to userID.
func (r *ChatRepo) Get(ctx context.Context, userID, id int64) (Chat, error) {
	row := r.DB.QueryRowContext(ctx,
		`select `+chatColumns+` from chats where id = $1 and user_id = $2`, id, userID)
	return scanChat(row)
}

// List returns the user's chats newest first with their message counts.
func (r *ChatRepo) List(ctx context.Context, userID int64) ([]Chat, error) {
	rows, err := r.DB.QueryContext(ctx, `
select c.id, c.user_id, c.title, c.airplane_model, c.component_type, c.template_path, c.template_filename, c.created_at,
       (select count(*) from messages m where m.chat_id = c.id)
from chats c where c.user_id = $1
order by c.created_at desc, c.id desc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Chat{}
	for rows.Next() {
		var n int
		c, err := scanChat(countingRow{rows, &n})
		if err != nil {
			return nil, err
		}
		c.MessageCount = n
		out = append(out, c)
	}
	return out, rows.Err()
}

// countingRow appends one trailing column to a scan.
type countingRow struct {
	rows  *sql.Rows
	count *int
}

func (c countingRow) Scan(dest ...any) error {
	return c.rows.Scan(append(dest, c.count)...)
}

// Delete removes the chat with its messages, steps and histories.
func (r *ChatRepo) Delete(ctx context.Context, userID, id int64) error {
	res, err := r.DB.ExecContext(ctx, `delete from chats where id = $1 and user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ChatRepo) SetTemplate(ctx context.Context, id int64, path, filename string) error {
	res, err := r.DB.ExecContext(ctx,
		`update chats set template_path = $2, template_filename = $3 where id = $1`, id, path, filename)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
