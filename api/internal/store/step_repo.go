package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Martinhdeez/plane-assistant/api/internal/steps"
)

type StepRepo struct {
	DB *sql.DB
}

func NewStepRepo(db *sql.DB) *StepRepo { return &StepRepo{DB: db} }

const stepColumns = `id, chat_id, step_number, title, description, is_completed, completed_at, created_at`

func scanStep(row interface{ Scan(...any) error }) (steps.Step, error) {
	var (
		s    steps.Step
		desc sql.NullString
		done sql.NullTime
	)
	err := row.Scan(&s.ID, &s.ChatID, &s.Number, &s.Title, &desc, &s.IsCompleted, &done, &s.CreatedAt)
	s.Description = stringPtr(desc)
	s.CompletedAt = timePtr(done)
	return s, err
}

// ReplaceForChat drops the chat's previous procedure and inserts drafts in
// one transaction.
func (r *StepRepo) ReplaceForChat(ctx context.Context, chatID int64, drafts []steps.Draft) ([]steps.Step, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from steps where chat_id = $1`, chatID); err != nil {
		return nil, fmt.Errorf("delete steps: %w", err)
	}
	const q = `
insert into steps (chat_id, step_number, title, description)
values ($1, $2, $3, $4)
returning ` + stepColumns
	out := make([]steps.Step, 0, len(drafts))
	for _, d := range drafts {
		s, err := scanStep(tx.QueryRowContext(ctx, q, chatID, d.Number, d.Title, nullString(d.Description)))
		if err != nil {
			return nil, fmt.Errorf("insert step %d: %w", d.Number, err)
		}
		out = append(out, s)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func (r *StepRepo) ListByChat(ctx context.Context, chatID int64) ([]steps.Step, error) {
	rows, err := r.DB.QueryContext(ctx,
		`select `+stepColumns+` from steps where chat_id = $1 order by step_number`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []steps.Step{}
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Current returns the lowest-numbered incomplete step, or ErrNotFound.
func (r *StepRepo) Current(ctx context.Context, chatID int64) (steps.Step, error) {
	row := r.DB.QueryRowContext(ctx, `select `+stepColumns+` from steps
where chat_id = $1 and not is_completed
order by step_number limit 1`, chatID)
	return scanStep(row)
}

// Complete marks a step done. Completing it again keeps the first timestamp.
func (r *StepRepo) Complete(ctx context.Context, chatID, stepID int64) (steps.Step, error) {
	row := r.DB.QueryRowContext(ctx, `
update steps
set is_completed = true, completed_at = coalesce(completed_at, now())
where id = $1 and chat_id = $2
returning `+stepColumns, stepID, chatID)
	return scanStep(row)
}
