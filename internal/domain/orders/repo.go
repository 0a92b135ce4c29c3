package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	Update(ctx context.Context, o *Order) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Order, int, error)
	ListByStatus(ctx context.Context, status Status) ([]*Order, error)
	// ListResultDue returns transmitted orders whose transmitted_at is at or
	// before cutoff, i.e. whose dwell time has elapsed.
	ListResultDue(ctx context.Context, cutoff time.Time) ([]*Order, error)
}

type StatusHistoryRepository interface {
	Create(ctx context.Context, h *OrderStatusHistory) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*OrderStatusHistory, error)
}
