package results

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ResultRepository persists lab results.
type ResultRepository interface {
	Create(ctx context.Context, r *LabResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error)
	Update(ctx context.Context, r *LabResult) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*LabResult, error)
	CountByOrder(ctx context.Context, orderID uuid.UUID) (int, error)
	// ListByPatientWindow returns results whose result_available_at falls in
	// [from, to).
	ListByPatientWindow(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*LabResult, error)
	// ListUnreviewedByCodes returns the patient's unreviewed results for the
	// given test codes.
	ListUnreviewedByCodes(ctx context.Context, patientID uuid.UUID, codes []string) ([]*LabResult, error)
	// ListNewCritical returns unreviewed critical results that have not yet
	// been escalated.
	ListNewCritical(ctx context.Context) ([]*LabResult, error)
}

// AuditRepository persists the append-only review ledger.
type AuditRepository interface {
	Create(ctx context.Context, a *ReviewAudit) error
	ListByResult(ctx context.Context, resultID uuid.UUID) ([]*ReviewAudit, error)
}
