package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"civicdesk/internal/models"
	"civicdesk/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ComplaintRepo struct{ db *pgxpool.Pool }

func NewComplaintRepo(db *pgxpool.Pool) *ComplaintRepo { return &ComplaintRepo{db: db} }

// -----------------------------------------------------------------------------
// Filtered listing with pagination + sort
// -----------------------------------------------------------------------------

// List returns a page of complaints with the total count for the same filter
// set. The stored sla_status comes back as-is; callers recompute it before
// surfacing a row.
func (r *ComplaintRepo) List(ctx context.Context, f repository.ComplaintFilter) ([]models.Complaint, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	whereSQL, args := buildComplaintWhere(f)

	countSQL := `SELECT COUNT(*) FROM complaints c ` + whereSQL
	var total int
	if err := r.db.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortCol := sanitizeSort(f.Sort, "created_at")
	sortOrd := sanitizeOrder(f.Order, "desc")

	sql := fmt.Sprintf(`
		SELECT `+complaintCols+`
		FROM complaints c
		%s
		ORDER BY c.%s %s
		LIMIT $%d OFFSET $%d
	`, whereSQL, sortCol, sortOrd, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.Complaint
	for rows.Next() {
		c, err := scanComplaintRows(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// Get resolves a public reference: sequence code first, opaque id second.
func (r *ComplaintRepo) Get(ctx context.Context, ref string) (*models.Complaint, error) {
	c, err := scanComplaint(r.db.QueryRow(ctx, `
		SELECT `+complaintCols+` FROM complaints WHERE sequence_code = $1`, ref))
	if err != nil || c != nil {
		return c, err
	}
	return scanComplaint(r.db.QueryRow(ctx, `
		SELECT `+complaintCols+` FROM complaints WHERE id::text = $1`, ref))
}

func (r *ComplaintRepo) StatusLog(ctx context.Context, complaintID string) ([]models.StatusLogEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, complaint_id, from_status, to_status, actor_id, comment, created_at
		FROM status_log
		WHERE complaint_id::text = $1
		ORDER BY created_at ASC
	`, complaintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StatusLogEntry
	for rows.Next() {
		var e models.StatusLogEntry
		if err := rows.Scan(&e.ID, &e.ComplaintID, &e.FromStatus, &e.ToStatus,
			&e.ActorID, &e.Comment, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Reporting counters (used by /api/reports)
// -----------------------------------------------------------------------------

// CountByStatus counts complaints IN or NOT IN the given statuses.
func (r *ComplaintRepo) CountByStatus(ctx context.Context, statuses []string, inclusive bool) (int, error) {
	op := "NOT IN"
	if inclusive {
		op = "IN"
	}
	sql := `SELECT COUNT(*) FROM complaints WHERE status ` + op + ` (SELECT UNNEST($1::text[]))`
	var n int
	if err := r.db.QueryRow(ctx, sql, statuses).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountResolvedSince counts complaints resolved or closed since the given time.
func (r *ComplaintRepo) CountResolvedSince(ctx context.Context, since time.Time) (int, error) {
	sql := `SELECT COUNT(*) FROM complaints WHERE status IN ('RESOLVED','CLOSED') AND updated_at >= $1`
	var n int
	if err := r.db.QueryRow(ctx, sql, since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountOverdue counts open complaints whose deadline already passed. The
// deadline comparison is the SLA source of truth, not the cached column.
func (r *ComplaintRepo) CountOverdue(ctx context.Context) (int, error) {
	sql := `SELECT COUNT(*) FROM complaints WHERE status NOT IN ('RESOLVED','CLOSED') AND deadline < now()`
	var n int
	if err := r.db.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountOpenByPriorities counts open complaints with the given priorities.
func (r *ComplaintRepo) CountOpenByPriorities(ctx context.Context, prios []string) (int, error) {
	sql := `SELECT COUNT(*) FROM complaints WHERE status NOT IN ('RESOLVED','CLOSED') AND priority = ANY($1)`
	var n int
	if err := r.db.QueryRow(ctx, sql, prios).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func buildComplaintWhere(f repository.ComplaintFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if s := strings.TrimSpace(f.Q); s != "" {
		p := "%" + s + "%"
		args = append(args, p, p, p)
		clauses = append(clauses, "(c.sequence_code ILIKE $"+itoa(len(args)-2)+
			" OR c.description ILIKE $"+itoa(len(args)-1)+
			" OR c.area ILIKE $"+itoa(len(args))+")")
	}
	exact := []struct{ col, val string }{
		{"c.status", f.Status},
		{"c.priority", f.Priority},
		{"c.type", f.Type},
		{"c.ward_id", f.WardID},
	}
	for _, e := range exact {
		if s := strings.TrimSpace(e.val); s != "" {
			args = append(args, s)
			clauses = append(clauses, e.col+" = $"+itoa(len(args)))
		}
	}
	uuids := []struct{ col, val string }{
		{"c.ward_officer_id", f.OfficerID},
		{"c.maintenance_team_id", f.Maintenance},
		{"c.submitted_by", f.SubmittedBy},
	}
	for _, e := range uuids {
		if s := strings.TrimSpace(e.val); s != "" {
			args = append(args, s)
			clauses = append(clauses, e.col+"::text = $"+itoa(len(args)))
		}
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

func sanitizeSort(s, def string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "created_at", "updated_at", "deadline", "priority":
		return strings.ToLower(strings.TrimSpace(s))
	default:
		return def
	}
}

func sanitizeOrder(o, def string) string {
	switch strings.ToLower(strings.TrimSpace(o)) {
	case "asc", "desc":
		return strings.ToLower(strings.TrimSpace(o))
	default:
		return def
	}
}

func scanComplaintRows(rows pgx.Rows) (*models.Complaint, error) {
	var c models.Complaint
	err := rows.Scan(
		&c.ID, &c.SequenceCode, &c.Type, &c.Description, &c.Area, &c.Priority,
		&c.Status, &c.SlaStatus, &c.Deadline, &c.WardID, &c.WardOfficerID,
		&c.MaintenanceTeamID, &c.SubmittedByID,
		&c.ContactName, &c.ContactEmail, &c.ContactPhone,
		&c.CreatedAt, &c.UpdatedAt, &c.AssignedAt, &c.ResolvedAt, &c.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// small helper to avoid fmt for the hot filter-building path.
func itoa(i int) string { return strconv.Itoa(i) }
