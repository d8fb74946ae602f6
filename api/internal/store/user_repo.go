package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type UserRepo struct {
	DB *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `id, username, email, hashed_password, role, division, is_active, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		u   User
		div sql.NullString
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &div, &u.IsActive, &u.CreatedAt)
	u.Division = stringPtr(div)
	return u, err
}

// Create inserts u and fills ID and CreatedAt. A taken username or email
// yields ErrConflict.
func (r *UserRepo) Create(ctx context.Context, u *User) error {
	const q = `
insert into users (username, email, hashed_password, role, division, is_active)
values ($1, $2, $3, $4, $5, $6)
returning id, created_at`
	err := r.DB.QueryRowContext(ctx, q,
		strings.TrimSpace(u.Username), strings.ToLower(strings.TrimSpace(u.Email)),
		u.PasswordHash, u.Role, nullString(u.Division), u.IsActive,
	).Scan(&u.ID, &u.CreatedAt)
	return userConflict(err)
}

// Update writes username, email, role, division and is_active of u.
func (r *UserRepo) Update(ctx context.Context, u *User) error {
	const q = `
update users set username = $2, email = $3, role = $4, division = $5, is_active = $6
where id = $1`
	res, err := r.DB.ExecContext(ctx, q, u.ID,
		strings.TrimSpace(u.Username), strings.ToLower(strings.TrimSpace(u.Email)),
		u.Role, nullString(u.Division), u.IsActive)
	if err != nil {
		return userConflict(err)
	}
	return oneRow(res)
}

func (r *UserRepo) SetPassword(ctx context.Context, id int64, hash string) error {
	res, err := r.DB.ExecContext(ctx, `update users set hashed_password = $2 where id = $1`, id, hash)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// SetActive is the soft delete: inactive users cannot log in.
func (r *UserRepo) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := r.DB.ExecContext(ctx, `update users set is_active = $2 where id = $1`, id, active)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// Divisions lists the distinct non-empty divisions, sorted.
func (r *UserRepo) Divisions(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
select distinct division from users
where division is not null and division <> ''
order by division`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func oneRow(res sql.Result) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepo) Get(ctx context.Context, id int64) (User, error) {
	row := r.DB.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.DB.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (r *UserRepo) AdminExists(ctx context.Context) (bool, error) {
	var ok bool
	err := r.DB.QueryRowContext(ctx,
		`select exists(select 1 from users where role = 'administrador')`).Scan(&ok)
	return ok, err
}

// List returns users ordered by id, filtered by role when role is not empty.
func (r *UserRepo) List(ctx context.Context, role string) ([]User, error) {
	rows, err := r.DB.QueryContext(ctx,
		`select `+userColumns+` from users where $1 = '' or role = $1 order by id`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetAssignments replaces the operators assigned to an office clerk.
func (r *UserRepo) SetAssignments(ctx context.Context, clerkID int64, operatorIDs []int64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from user_assignments where clerk_id = $1`, clerkID); err != nil {
		return fmt.Errorf("clear assignments: %w", err)
	}
	for _, op := range operatorIDs {
		if _, err := tx.ExecContext(ctx, `
insert into user_assignments (clerk_id, operator_id) values ($1, $2)
on conflict (clerk_id, operator_id) do nothing`, clerkID, op); err != nil {
			return fmt.Errorf("assign %d->%d: %w", clerkID, op, err)
		}
	}
	return tx.Commit()
}

// AssignedOperators lists the users assigned to clerkID, by id.
func (r *UserRepo) AssignedOperators(ctx context.Context, clerkID int64) ([]User, error) {
	rows, err := r.DB.QueryContext(ctx, `select u.id, u.username, u.email, u.hashed_password, u.role, u.division, u.is_active, u.created_at
from users u join user_assignments a on a.operator_id = u.id
where a.clerk_id = $1
order by u.id`, clerkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
