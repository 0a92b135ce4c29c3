package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labcore/labcore/internal/platform/db"
)

// =========== Order Repository ===========

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const orderCols = `id, org_id, patient_id, encounter_id, requester_id,
	test_code, test_name, priority, delivery_method, status,
	requisition_number, external_order_id, transmitted_at, created_at, updated_at`

func (r *orderRepoPG) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrgID, &o.PatientID, &o.EncounterID, &o.RequesterID,
		&o.TestCode, &o.TestName, &o.Priority, &o.DeliveryMethod, &o.Status,
		&o.RequisitionNumber, &o.ExternalOrderID, &o.TransmittedAt, &o.CreatedAt, &o.UpdatedAt)
	return &o, err
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_order (id, org_id, patient_id, encounter_id, requester_id,
			test_code, test_name, priority, delivery_method, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.OrgID, o.PatientID, o.EncounterID, o.RequesterID,
		o.TestCode, o.TestName, o.Priority, o.DeliveryMethod, o.Status)
	return err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.scanOrder(r.conn(ctx).QueryRow(ctx,
		`SELECT `+orderCols+` FROM lab_order WHERE id = $1`, id))
}

func (r *orderRepoPG) Update(ctx context.Context, o *Order) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_order SET status=$2, requisition_number=$3, external_order_id=$4,
			transmitted_at=$5, priority=$6, updated_at=NOW()
		WHERE id = $1`,
		o.ID, o.Status, o.RequisitionNumber, o.ExternalOrderID, o.TransmittedAt, o.Priority)
	return err
}

func (r *orderRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Order, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM lab_order WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+orderCols+` FROM lab_order WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

func (r *orderRepoPG) ListByStatus(ctx context.Context, status Status) ([]*Order, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+orderCols+` FROM lab_order WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *orderRepoPG) ListResultDue(ctx context.Context, cutoff time.Time) ([]*Order, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+orderCols+` FROM lab_order
		 WHERE status = $1 AND transmitted_at <= $2 ORDER BY transmitted_at`,
		StatusTransmitted, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *orderRepoPG) collect(rows pgx.Rows) ([]*Order, error) {
	var items []*Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

// =========== Status History Repository ===========

type statusHistoryRepoPG struct{ pool *pgxpool.Pool }

func NewStatusHistoryRepoPG(pool *pgxpool.Pool) StatusHistoryRepository {
	return &statusHistoryRepoPG{pool: pool}
}

func (r *statusHistoryRepoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *statusHistoryRepoPG) Create(ctx context.Context, h *OrderStatusHistory) error {
	h.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, changed_by, changed_at, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		h.ID, h.OrderID, h.FromStatus, h.ToStatus, h.ChangedBy, h.ChangedAt, h.Reason)
	return err
}

func (r *statusHistoryRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*OrderStatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, order_id, from_status, to_status, changed_by, changed_at, reason
		FROM order_status_history WHERE order_id = $1 ORDER BY changed_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*OrderStatusHistory
	for rows.Next() {
		var h OrderStatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus,
			&h.ChangedBy, &h.ChangedAt, &h.Reason); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}
