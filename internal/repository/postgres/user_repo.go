package postgres

import (
	"context"
	"fmt"
	"strings"

	"civicdesk/internal/models"
	"civicdesk/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepo struct{ db *pgxpool.Pool }

func NewUserRepo(db *pgxpool.Pool) repository.UserRepository { return &UserRepo{db: db} }

// Create stores the bcrypt hash in password_h alongside the profile.
func (r *UserRepo) Create(ctx context.Context, u *models.User, passwordHash string) (*models.User, error) {
	var out models.User
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (email, name, phone, role, ward_id, active, password_h)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, email, name, phone, role, ward_id, active, created_at, updated_at`,
		u.Email, u.Name, u.Phone, u.Role, u.WardID, u.Active, passwordHash).
		Scan(&out.ID, &out.Email, &out.Name, &out.Phone, &out.Role, &out.WardID,
			&out.Active, &out.CreatedAt, &out.UpdatedAt)
	return &out, err
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, string, error) {
	var u models.User
	var ph string
	err := r.db.QueryRow(ctx, `
		SELECT id, email, name, phone, role, ward_id, active, COALESCE(password_h, ''), created_at, updated_at
		FROM users WHERE email=$1`, email).
		Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.Role, &u.WardID, &u.Active,
			&ph, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, "", nil
		}
		return nil, "", err
	}
	return &u, ph, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `
		SELECT id, email, name, phone, role, ward_id, active, created_at, updated_at
		FROM users WHERE id::text=$1`, id))
}

// -----------------------------------------------------------------------------
// Admin/list/update operations
// -----------------------------------------------------------------------------

// List returns a filtered, paginated list of users and the total count.
func (r *UserRepo) List(ctx context.Context, q, role, wardID string, active *bool, limit, offset int) ([]models.User, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	clauses := []string{"1=1"}
	args := []any{}

	if s := strings.TrimSpace(q); s != "" {
		p := "%" + s + "%"
		args = append(args, p, p)
		clauses = append(clauses, "(email ILIKE $"+itoa(len(args)-1)+" OR name ILIKE $"+itoa(len(args))+")")
	}
	if s := strings.TrimSpace(role); s != "" {
		args = append(args, s)
		clauses = append(clauses, "role = $"+itoa(len(args)))
	}
	if s := strings.TrimSpace(wardID); s != "" {
		args = append(args, s)
		clauses = append(clauses, "ward_id = $"+itoa(len(args)))
	}
	if active != nil {
		args = append(args, *active)
		clauses = append(clauses, "active = $"+itoa(len(args)))
	}

	countSQL := `SELECT COUNT(*) FROM users WHERE ` + strings.Join(clauses, " AND ")
	var total int
	if err := r.db.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	listSQL := fmt.Sprintf(`
		SELECT id, email, name, phone, role, ward_id, active, created_at, updated_at
		FROM users
		WHERE %s
		ORDER BY created_at ASC
		LIMIT $%d OFFSET $%d
	`, strings.Join(clauses, " AND "), len(args)-1, len(args))
	rows, err := r.db.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.Role, &u.WardID,
			&u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (r *UserRepo) UpdateRole(ctx context.Context, id, role string) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `
		UPDATE users
		SET role=$1, updated_at=now()
		WHERE id::text=$2
		RETURNING id, email, name, phone, role, ward_id, active, created_at, updated_at
	`, role, id))
}

func (r *UserRepo) SetActive(ctx context.Context, id string, active bool) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `
		UPDATE users
		SET active=$1, updated_at=now()
		WHERE id::text=$2
		RETURNING id, email, name, phone, role, ward_id, active, created_at, updated_at
	`, active, id))
}

func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET password_h=$1, updated_at=now()
		WHERE id::text=$2
	`, passwordHash, id)
	return err
}
