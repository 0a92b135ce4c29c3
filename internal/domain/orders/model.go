package orders

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a lab order. Transitions only move
// forward, or sideways to cancelled/failed; see Transition.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusApproved    Status = "approved"
	StatusTransmitted Status = "transmitted"
	StatusResulted    Status = "resulted"
	StatusReviewed    Status = "reviewed"
	StatusCancelled   Status = "cancelled"
	StatusFailed      Status = "failed"
)

var validStatuses = map[Status]bool{
	StatusDraft: true, StatusApproved: true, StatusTransmitted: true,
	StatusResulted: true, StatusReviewed: true, StatusCancelled: true,
	StatusFailed: true,
}

// Delivery methods. Only lab_service orders are routed to the external lab;
// document orders exist solely to be rendered into a requisition PDF and
// terminate at approved.
const (
	DeliveryLabService = "lab_service"
	DeliveryDocument   = "document"
)

var validDeliveryMethods = map[string]bool{
	DeliveryLabService: true,
	DeliveryDocument:   true,
}

// Priorities accepted on an order.
const (
	PriorityRoutine = "routine"
	PriorityUrgent  = "urgent"
	PriorityStat    = "stat"
)

var validPriorities = map[string]bool{
	PriorityRoutine: true, PriorityUrgent: true, PriorityStat: true,
}

// Order maps to the lab_order table.
type Order struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	OrgID             int64      `db:"org_id" json:"org_id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	EncounterID       *uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	RequesterID       *uuid.UUID `db:"requester_id" json:"requester_id,omitempty"`
	TestCode          string     `db:"test_code" json:"test_code"`
	TestName          string     `db:"test_name" json:"test_name"`
	Priority          string     `db:"priority" json:"priority"`
	DeliveryMethod    string     `db:"delivery_method" json:"delivery_method"`
	Status            Status     `db:"status" json:"status"`
	RequisitionNumber *string    `db:"requisition_number" json:"requisition_number,omitempty"`
	ExternalOrderID   *string    `db:"external_order_id" json:"external_order_id,omitempty"`
	TransmittedAt     *time.Time `db:"transmitted_at" json:"transmitted_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// RequiresLabRouting reports whether the order must be transmitted to the
// external lab service.
func (o *Order) RequiresLabRouting() bool {
	return o.DeliveryMethod == DeliveryLabService
}

// Transmitted reports whether the idempotency marker is set, meaning the
// external transmission side effect already happened.
func (o *Order) Transmitted() bool {
	return o.ExternalOrderID != nil && *o.ExternalOrderID != ""
}

// OrderStatusHistory records one status transition for an order.
type OrderStatusHistory struct {
	ID         uuid.UUID `db:"id" json:"id"`
	OrderID    uuid.UUID `db:"order_id" json:"order_id"`
	FromStatus Status    `db:"from_status" json:"from_status"`
	ToStatus   Status    `db:"to_status" json:"to_status"`
	ChangedBy  string    `db:"changed_by" json:"changed_by"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
	Reason     *string   `db:"reason" json:"reason,omitempty"`
}
