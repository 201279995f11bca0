package repository

import "context"
import "civicdesk/internal/models"

// ComplaintReader is the read surface handlers use for listing and history.
// All complaint mutation goes through the workflow engine, never through here.
type ComplaintReader interface {
	List(ctx context.Context, f ComplaintFilter) ([]models.Complaint, int, error)
	Get(ctx context.Context, ref string) (*models.Complaint, error)
	StatusLog(ctx context.Context, complaintID string) ([]models.StatusLogEntry, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *models.User, passwordHash string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, string /*passwordHash*/, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, q, role, wardID string, active *bool, limit, offset int) ([]models.User, int, error)
	UpdateRole(ctx context.Context, id, role string) (*models.User, error)
	SetActive(ctx context.Context, id string, active bool) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}
