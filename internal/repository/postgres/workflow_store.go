package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"civicdesk/internal/models"
	"civicdesk/internal/workflow"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WorkflowStore backs the workflow engine with PostgreSQL. Outside InTx the
// queries run auto-commit on the pool; InTx rebinds them to one transaction.
type WorkflowStore struct {
	pool *pgxpool.Pool
	queries
}

func NewWorkflowStore(pool *pgxpool.Pool) *WorkflowStore {
	return &WorkflowStore{pool: pool, queries: queries{db: pool}}
}

// SweepExpiredOTP deletes sessions past expiry plus a retention window. The
// sweep is hygiene only; expiry is already enforced by timestamp comparison
// at lookup time.
func (s *WorkflowStore) SweepExpiredOTP(ctx context.Context, retention time.Duration) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM otp_sessions WHERE expires_at < now() - $1::interval
	`, retention.String())
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *WorkflowStore) InTx(ctx context.Context, fn func(tx workflow.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(queries{db: tx})
	})
}

type queries struct{ db DBTX }

const complaintCols = `
	id, sequence_code, type, description, area, priority, status, sla_status,
	deadline, ward_id, ward_officer_id, maintenance_team_id, submitted_by,
	contact_name, contact_email, contact_phone,
	created_at, updated_at, assigned_at, resolved_at, closed_at`

func scanComplaint(row pgx.Row) (*models.Complaint, error) {
	var c models.Complaint
	err := row.Scan(
		&c.ID, &c.SequenceCode, &c.Type, &c.Description, &c.Area, &c.Priority,
		&c.Status, &c.SlaStatus, &c.Deadline, &c.WardID, &c.WardOfficerID,
		&c.MaintenanceTeamID, &c.SubmittedByID,
		&c.ContactName, &c.ContactEmail, &c.ContactPhone,
		&c.CreatedAt, &c.UpdatedAt, &c.AssignedAt, &c.ResolvedAt, &c.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (q queries) GetComplaint(ctx context.Context, id string) (*models.Complaint, error) {
	return scanComplaint(q.db.QueryRow(ctx, `
		SELECT `+complaintCols+` FROM complaints WHERE id::text = $1`, id))
}

func (q queries) GetComplaintBySequence(ctx context.Context, code string) (*models.Complaint, error) {
	return scanComplaint(q.db.QueryRow(ctx, `
		SELECT `+complaintCols+` FROM complaints WHERE sequence_code = $1`, code))
}

func (q queries) InsertComplaint(ctx context.Context, c *models.Complaint) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO complaints (
			sequence_code, type, description, area, priority, status, sla_status,
			deadline, ward_id, ward_officer_id, maintenance_team_id, submitted_by,
			contact_name, contact_email, contact_phone, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id
	`,
		c.SequenceCode, c.Type, c.Description, c.Area, c.Priority, c.Status,
		c.SlaStatus, c.Deadline, c.WardID, c.WardOfficerID, c.MaintenanceTeamID,
		c.SubmittedByID, c.ContactName, c.ContactEmail, c.ContactPhone,
		c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	return mapSequenceConflict(err)
}

func (q queries) UpdateComplaint(ctx context.Context, c *models.Complaint) error {
	ct, err := q.db.Exec(ctx, `
		UPDATE complaints SET
			status=$1, sla_status=$2, ward_officer_id=$3, maintenance_team_id=$4,
			submitted_by=$5, updated_at=$6, assigned_at=$7, resolved_at=$8, closed_at=$9
		WHERE id::text = $10
	`,
		c.Status, c.SlaStatus, c.WardOfficerID, c.MaintenanceTeamID,
		c.SubmittedByID, c.UpdatedAt, c.AssignedAt, c.ResolvedAt, c.ClosedAt, c.ID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return workflow.ErrNotFound
	}
	return nil
}

func (q queries) SequenceCodes(ctx context.Context, prefix string) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		SELECT sequence_code FROM complaints WHERE sequence_code LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

func (q queries) AppendStatusLog(ctx context.Context, e *models.StatusLogEntry) error {
	return q.db.QueryRow(ctx, `
		INSERT INTO status_log (complaint_id, from_status, to_status, actor_id, comment, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, e.ComplaintID, e.FromStatus, e.ToStatus, e.ActorID, e.Comment, e.CreatedAt).Scan(&e.ID)
}

func (q queries) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(q.db.QueryRow(ctx, `
		SELECT id, email, name, phone, role, ward_id, active, created_at, updated_at
		FROM users WHERE id::text = $1`, id))
}

func (q queries) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(q.db.QueryRow(ctx, `
		SELECT id, email, name, phone, role, ward_id, active, created_at, updated_at
		FROM users WHERE email = $1`, email))
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.Role, &u.WardID,
		&u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (q queries) CreateUser(ctx context.Context, u *models.User) error {
	return q.db.QueryRow(ctx, `
		INSERT INTO users (email, name, phone, role, ward_id, active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at, updated_at
	`, u.Email, u.Name, u.Phone, u.Role, u.WardID, u.Active).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

// AssignableStaff counts each candidate's non-terminal complaints in SQL.
// The engine re-applies the least-loaded/oldest rule on the result, so the
// ORDER BY here is a convenience, not the contract.
func (q queries) AssignableStaff(ctx context.Context, wardID, role string) ([]workflow.StaffLoad, error) {
	rows, err := q.db.Query(ctx, `
		SELECT u.id, u.email, COUNT(c.id) AS open_count, u.created_at
		FROM users u
		LEFT JOIN complaints c
		  ON (c.ward_officer_id = u.id OR c.maintenance_team_id = u.id)
		 AND c.status NOT IN ('RESOLVED','CLOSED')
		WHERE u.ward_id = $1 AND u.role = $2 AND u.active
		GROUP BY u.id, u.email, u.created_at
		ORDER BY open_count ASC, u.created_at ASC
	`, wardID, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.StaffLoad
	for rows.Next() {
		var s workflow.StaffLoad
		if err := rows.Scan(&s.UserID, &s.Email, &s.OpenCount, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q queries) InvalidateOTPSessions(ctx context.Context, email string, purpose models.OTPPurpose, asOf time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE otp_sessions
		SET expires_at = $3::timestamptz - interval '1 second'
		WHERE email = $1 AND purpose = $2 AND NOT verified AND expires_at > $3
	`, email, purpose, asOf)
	return err
}

func (q queries) InsertOTPSession(ctx context.Context, s *models.OTPSession) error {
	return q.db.QueryRow(ctx, `
		INSERT INTO otp_sessions (email, phone, code, purpose, complaint_id, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, s.Email, s.Phone, s.Code, s.Purpose, s.ComplaintID, s.ExpiresAt, s.CreatedAt).Scan(&s.ID)
}

func (q queries) LatestOTPSession(ctx context.Context, email string, purpose models.OTPPurpose) (*models.OTPSession, error) {
	var s models.OTPSession
	err := q.db.QueryRow(ctx, `
		SELECT id, email, phone, code, purpose, complaint_id, expires_at,
		       verified, verified_at, bound_user_id, created_at
		FROM otp_sessions
		WHERE email = $1 AND purpose = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, email, purpose).Scan(
		&s.ID, &s.Email, &s.Phone, &s.Code, &s.Purpose, &s.ComplaintID,
		&s.ExpiresAt, &s.Verified, &s.VerifiedAt, &s.BoundUserID, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (q queries) MarkOTPVerified(ctx context.Context, id, userID string, at time.Time) error {
	ct, err := q.db.Exec(ctx, `
		UPDATE otp_sessions
		SET verified = true, verified_at = $2, bound_user_id = $3
		WHERE id::text = $1 AND NOT verified
	`, id, at, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return workflow.ErrNotFound
	}
	return nil
}

func (q queries) SystemConfig(ctx context.Context) (*models.SystemConfig, error) {
	var cfg models.SystemConfig
	err := q.db.QueryRow(ctx, `
		SELECT sequence_prefix, sequence_start, sequence_pad, auto_assign
		FROM system_config LIMIT 1`).
		Scan(&cfg.SequencePrefix, &cfg.SequenceStart, &cfg.SequencePad, &cfg.AutoAssign)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (q queries) ComplaintType(ctx context.Context, name string) (*models.ComplaintType, error) {
	var t models.ComplaintType
	err := q.db.QueryRow(ctx, `
		SELECT id, name, sla_hours, active FROM complaint_types WHERE name = $1`, name).
		Scan(&t.ID, &t.Name, &t.SLAHours, &t.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// mapSequenceConflict turns the unique-constraint hit on sequence_code into
// the sentinel the engine's retry loop watches for. Other errors pass through.
func mapSequenceConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "complaints_sequence_code_key" {
		return workflow.ErrDuplicateSequence
	}
	return err
}
