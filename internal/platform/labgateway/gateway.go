// Package labgateway defines the contract with the external lab service that
// receives transmitted order batches.
package labgateway

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrGatewayUnavailable indicates the lab service could not be reached or
// rejected the batch. The caller leaves the orders approved and retries on a
// later tick.
var ErrGatewayUnavailable = errors.New("lab gateway unavailable")

// BatchOrder is a single order within a transmit batch.
type BatchOrder struct {
	OrderID           uuid.UUID `json:"order_id"`
	RequisitionNumber string    `json:"requisition_number"`
	TestCode          string    `json:"test_code"`
	TestName          string    `json:"test_name"`
	Priority          string    `json:"priority"`
}

// Batch is a group of orders for one patient/encounter transmitted together.
type Batch struct {
	OrgID          int64        `json:"org_id"`
	PatientID      uuid.UUID    `json:"patient_id"`
	EncounterID    *uuid.UUID   `json:"encounter_id,omitempty"`
	DeliveryMethod string       `json:"delivery_method"`
	Orders         []BatchOrder `json:"orders"`
}

// Gateway transmits an order batch to the external lab service and returns
// the lab's tracking id, which the order store keeps as the idempotency
// marker for the batch's orders.
type Gateway interface {
	Transmit(ctx context.Context, batch Batch) (externalID string, err error)
}
