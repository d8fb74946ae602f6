package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Martinhdeez/plane-assistant/api/internal/history"
)

type HistoryRepo struct {
	DB *sql.DB
}

func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{DB: db} }

const historyColumns = `id, chat_id, user_id, title, summary, aircraft_info, maintenance_actions, parts_used, created_at, updated_at`

func scanHistory(row interface{ Scan(...any) error }) (history.Record, error) {
	var (
		rec                  history.Record
		info, actions, parts []byte
	)
	if err := row.Scan(&rec.ID, &rec.ChatID, &rec.UserID, &rec.Title, &rec.Summary,
		&info, &actions, &parts, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return history.Record{}, err
	}
	if len(info) > 0 && string(info) != "null" {
		var ai history.AircraftInfo
		if err := json.Unmarshal(info, &ai); err != nil {
			return history.Record{}, fmt.Errorf("history %d aircraft_info: %w", rec.ID, err)
		}
		if !ai.Empty() {
			rec.AircraftInfo = &ai
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &rec.MaintenanceActions); err != nil {
			return history.Record{}, fmt.Errorf("history %d actions: %w", rec.ID, err)
		}
	}
	if len(parts) > 0 {
		if err := json.Unmarshal(parts, &rec.PartsUsed); err != nil {
			return history.Record{}, fmt.Errorf("history %d parts: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func jsonArg(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return string(b), nil
}

// Create stores rec and fills ID and the timestamps.
func (r *HistoryRepo) Create(ctx context.Context, rec *history.Record) error {
	info, err := jsonArg(rec.AircraftInfo)
	if err != nil {
		return err
	}
	actions, err := jsonArg(rec.MaintenanceActions)
	if err != nil {
		return err
	}
	parts, err := jsonArg(rec.PartsUsed)
	if err != nil {
		return err
	}
	const q = `
insert into maintenance_histories (chat_id, user_id, title, summary, aircraft_info, maintenance_actions, parts_used)
values ($1, $2, $3, $4, $5, $6, $7)
returning id, created_at, updated_at`
	return r.DB.QueryRowContext(ctx, q,
		rec.ChatID, rec.UserID, rec.Title, rec.Summary, info, actions, parts,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

func (r *HistoryRepo) Get(ctx context.Context, id int64) (history.Record, error) {
	return scanHistory(r.DB.QueryRowContext(ctx,
		`select `+historyColumns+` from maintenance_histories where id = $1`, id))
}

// GetByChat returns the newest history generated for the chat.
func (r *HistoryRepo) GetByChat(ctx context.Context, chatID int64) (history.Record, error) {
	return scanHistory(r.DB.QueryRowContext(ctx, `select `+historyColumns+`
from maintenance_histories where chat_id = $1
order by created_at desc, id desc limit 1`, chatID))
}

func (r *HistoryRepo) ListForUser(ctx context.Context, userID int64) ([]history.Record, error) {
	return r.list(ctx, `where user_id = $1`, userID)
}

func (r *HistoryRepo) ListAll(ctx context.Context) ([]history.Record, error) {
	return r.list(ctx, ``)
}

// ListAssigned returns histories of the operators assigned to clerkID.
func (r *HistoryRepo) ListAssigned(ctx context.Context, clerkID int64) ([]history.Record, error) {
	return r.list(ctx,
		`where user_id in (select operator_id from user_assignments where clerk_id = $1)`, clerkID)
}

func (r *HistoryRepo) list(ctx context.Context, where string, args ...any) ([]history.Record, error) {
	rows, err := r.DB.QueryContext(ctx, `select `+historyColumns+`
from maintenance_histories `+where+`
order by created_at desc, id desc`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []history.Record{}
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *HistoryRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `delete from maintenance_histories where id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
