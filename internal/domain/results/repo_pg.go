package results

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labcore/labcore/internal/platform/db"
)

// =========== Result Repository ===========

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

func (r *resultRepoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const resultCols = `id, order_id, patient_id, test_code, test_name,
	result_value, units, reference_range, abnormal_flag, result_available_at,
	reviewed_by, reviewed_at, review_note, critical_notified_at, created_at, updated_at`

func (r *resultRepoPG) scanResult(row pgx.Row) (*LabResult, error) {
	var res LabResult
	err := row.Scan(&res.ID, &res.OrderID, &res.PatientID, &res.TestCode, &res.TestName,
		&res.ResultValue, &res.Units, &res.ReferenceRange, &res.AbnormalFlag, &res.ResultAvailableAt,
		&res.ReviewedBy, &res.ReviewedAt, &res.ReviewNote, &res.CriticalNotifiedAt,
		&res.CreatedAt, &res.UpdatedAt)
	return &res, err
}

func (r *resultRepoPG) Create(ctx context.Context, res *LabResult) error {
	res.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_result (id, order_id, patient_id, test_code, test_name,
			result_value, units, reference_range, abnormal_flag, result_available_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		res.ID, res.OrderID, res.PatientID, res.TestCode, res.TestName,
		res.ResultValue, res.Units, res.ReferenceRange, res.AbnormalFlag, res.ResultAvailableAt)
	return err
}

func (r *resultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return r.scanResult(r.conn(ctx).QueryRow(ctx,
		`SELECT `+resultCols+` FROM lab_result WHERE id = $1`, id))
}

func (r *resultRepoPG) Update(ctx context.Context, res *LabResult) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_result SET reviewed_by=$2, reviewed_at=$3, review_note=$4,
			critical_notified_at=$5, updated_at=NOW()
		WHERE id = $1`,
		res.ID, res.ReviewedBy, res.ReviewedAt, res.ReviewNote, res.CriticalNotifiedAt)
	return err
}

func (r *resultRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*LabResult, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+resultCols+` FROM lab_result WHERE order_id = $1 ORDER BY test_code`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *resultRepoPG) CountByOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM lab_result WHERE order_id = $1`, orderID).Scan(&n)
	return n, err
}

func (r *resultRepoPG) ListByPatientWindow(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*LabResult, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+resultCols+` FROM lab_result
		 WHERE patient_id = $1 AND result_available_at >= $2 AND result_available_at < $3
		 ORDER BY result_available_at`,
		patientID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *resultRepoPG) ListUnreviewedByCodes(ctx context.Context, patientID uuid.UUID, codes []string) ([]*LabResult, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+resultCols+` FROM lab_result
		 WHERE patient_id = $1 AND reviewed_by IS NULL AND test_code = ANY($2)
		 ORDER BY result_available_at`,
		patientID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *resultRepoPG) ListNewCritical(ctx context.Context) ([]*LabResult, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+resultCols+` FROM lab_result
		 WHERE reviewed_by IS NULL AND critical_notified_at IS NULL
		   AND abnormal_flag = ANY($1)
		 ORDER BY result_available_at`,
		[]string{FlagCriticalHigh, FlagCriticalLow, FlagCritical})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *resultRepoPG) collect(rows pgx.Rows) ([]*LabResult, error) {
	var items []*LabResult
	for rows.Next() {
		res, err := r.scanResult(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, res)
	}
	return items, rows.Err()
}

// =========== Audit Repository ===========

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewAuditRepoPG(pool *pgxpool.Pool) AuditRepository {
	return &auditRepoPG{pool: pool}
}

func (r *auditRepoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *auditRepoPG) Create(ctx context.Context, a *ReviewAudit) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO result_review_audit (id, result_id, action, actor_id, note, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.ResultID, a.Action, a.ActorID, a.Note, a.OccurredAt)
	return err
}

func (r *auditRepoPG) ListByResult(ctx context.Context, resultID uuid.UUID) ([]*ReviewAudit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, result_id, action, actor_id, note, occurred_at
		FROM result_review_audit WHERE result_id = $1 ORDER BY occurred_at`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ReviewAudit
	for rows.Next() {
		var a ReviewAudit
		if err := rows.Scan(&a.ID, &a.ResultID, &a.Action, &a.ActorID, &a.Note, &a.OccurredAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}
