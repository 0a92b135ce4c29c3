package results

import (
	"time"

	"github.com/google/uuid"
)

// Abnormal flags follow the HL7 interpretation codes the upstream lab
// gateway emits.
const (
	FlagNormal       = "N"
	FlagHigh         = "H"
	FlagLow          = "L"
	FlagCriticalHigh = "HH"
	FlagCriticalLow  = "LL"
	FlagCritical     = "CRIT"
)

var criticalFlags = map[string]bool{
	FlagCriticalHigh: true,
	FlagCriticalLow:  true,
	FlagCritical:     true,
}

// LabResult is a single discrete observation produced for a lab order.
type LabResult struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	OrderID            uuid.UUID  `db:"order_id" json:"order_id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	TestCode           string     `db:"test_code" json:"test_code"`
	TestName           string     `db:"test_name" json:"test_name"`
	ResultValue        string     `db:"result_value" json:"result_value"`
	Units              *string    `db:"units" json:"units,omitempty"`
	ReferenceRange     *string    `db:"reference_range" json:"reference_range,omitempty"`
	AbnormalFlag       string     `db:"abnormal_flag" json:"abnormal_flag"`
	ResultAvailableAt  time.Time  `db:"result_available_at" json:"result_available_at"`
	ReviewedBy         *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNote         *string    `db:"review_note" json:"review_note,omitempty"`
	CriticalNotifiedAt *time.Time `db:"critical_notified_at" json:"critical_notified_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// Reviewed reports whether the result carries a completed review.
// reviewed_by and reviewed_at are set and cleared together.
func (r *LabResult) Reviewed() bool { return r.ReviewedBy != nil }

// Critical reports whether the value is outside safety thresholds and
// requires urgent clinician notification.
func (r *LabResult) Critical() bool { return criticalFlags[r.AbnormalFlag] }

// Audit actions for the review ledger. The ledger is append-only: rows are
// inserted, never updated or deleted.
const (
	AuditReviewed   = "reviewed"
	AuditUnreviewed = "unreviewed"
	AuditCorrected  = "corrected"
)

// ReviewAudit is one entry in the append-only review ledger for a result.
type ReviewAudit struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ResultID   uuid.UUID `db:"result_id" json:"result_id"`
	Action     string    `db:"action" json:"action"`
	ActorID    string    `db:"actor_id" json:"actor_id"`
	Note       *string   `db:"note" json:"note,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}
