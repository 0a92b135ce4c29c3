package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labcore/labcore/internal/platform/labgateway"
	"github.com/labcore/labcore/internal/platform/requisition"
)

// SystemActor is recorded in the status history for transitions driven by
// the background pipeline rather than a user.
const SystemActor = "system:poller"

// ResultGenerator creates result rows for an order that has reached its
// dwell time. Implementations must be idempotent: re-running for an order
// that already has results from the same attempt inserts nothing and
// returns created == 0.
type ResultGenerator interface {
	GenerateForOrder(ctx context.Context, o *Order) (created int, err error)
}

type Service struct {
	orders         OrderRepository
	history        StatusHistoryRepository
	allocator      requisition.Allocator
	gateway        labgateway.Gateway
	generator      ResultGenerator
	logger         zerolog.Logger
	minResultDelay time.Duration
	nowFunc        func() time.Time
}

func NewService(repo OrderRepository, history StatusHistoryRepository,
	allocator requisition.Allocator, gateway labgateway.Gateway,
	generator ResultGenerator, logger zerolog.Logger, minResultDelay time.Duration) *Service {
	return &Service{
		orders:         repo,
		history:        history,
		allocator:      allocator,
		gateway:        gateway,
		generator:      generator,
		logger:         logger,
		minResultDelay: minResultDelay,
		nowFunc:        time.Now,
	}
}

// SetClock overrides the service clock. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.nowFunc = now }

// -- CRUD used by handlers and the upstream signing workflow --

func (s *Service) CreateOrder(ctx context.Context, o *Order) error {
	if o.OrgID == 0 {
		return fmt.Errorf("org_id is required")
	}
	if o.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if o.TestCode == "" {
		return fmt.Errorf("test_code is required")
	}
	if o.TestName == "" {
		return fmt.Errorf("test_name is required")
	}
	if o.DeliveryMethod == "" {
		o.DeliveryMethod = DeliveryLabService
	}
	if !validDeliveryMethods[o.DeliveryMethod] {
		return fmt.Errorf("invalid delivery method: %s", o.DeliveryMethod)
	}
	if o.Priority == "" {
		o.Priority = PriorityRoutine
	}
	if !validPriorities[o.Priority] {
		return fmt.Errorf("invalid priority: %s", o.Priority)
	}
	if o.Status == "" {
		o.Status = StatusDraft
	}
	if !validStatuses[o.Status] {
		return fmt.Errorf("invalid status: %s", o.Status)
	}
	return s.orders.Create(ctx, o)
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) ListOrdersByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Order, int, error) {
	return s.orders.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) StatusHistory(ctx context.Context, orderID uuid.UUID) ([]*OrderStatusHistory, error) {
	return s.history.ListByOrder(ctx, orderID)
}

// ApproveOrder moves a draft order to approved. Normally driven by the
// external signing workflow.
func (s *Service) ApproveOrder(ctx context.Context, id uuid.UUID, actor string) (*Order, error) {
	return s.applyEvent(ctx, id, EventApprove, actor, "")
}

// CancelOrder cancels an order from any non-terminal state.
func (s *Service) CancelOrder(ctx context.Context, id uuid.UUID, actor, reason string) (*Order, error) {
	return s.applyEvent(ctx, id, EventCancel, actor, reason)
}

// FailOrder marks an approved order as permanently failed.
func (s *Service) FailOrder(ctx context.Context, id uuid.UUID, actor, reason string) (*Order, error) {
	return s.applyEvent(ctx, id, EventFail, actor, reason)
}

// ReviewOrder moves a resulted order to reviewed. Driven by the review
// ledger once every result on the order carries a review.
func (s *Service) ReviewOrder(ctx context.Context, id uuid.UUID, actor string) (*Order, error) {
	return s.applyEvent(ctx, id, EventReview, actor, "")
}

// UnreviewOrder moves a reviewed order back to resulted when one of its
// results is unreviewed.
func (s *Service) UnreviewOrder(ctx context.Context, id uuid.UUID, actor, reason string) (*Order, error) {
	return s.applyEvent(ctx, id, EventUnreview, actor, reason)
}

// applyEvent loads the order, validates the transition, and persists the new
// status plus a history entry. The order is untouched when the pair is
// illegal.
func (s *Service) applyEvent(ctx context.Context, id uuid.UUID, event Event, actor, reason string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, _, err := Transition(o, event, s.nowFunc(), s.minResultDelay)
	if err != nil {
		return nil, err
	}
	from := o.Status
	o.Status = next
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	s.recordHistory(ctx, o.ID, from, next, actor, reason)
	return o, nil
}

func (s *Service) recordHistory(ctx context.Context, orderID uuid.UUID, from, to Status, actor, reason string) {
	h := &OrderStatusHistory{
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  actor,
		ChangedAt:  s.nowFunc(),
	}
	if reason != "" {
		h.Reason = &reason
	}
	if err := s.history.Create(ctx, h); err != nil {
		// History is supporting evidence, not the source of truth for
		// status; a write failure must not undo the transition.
		s.logger.Error().Err(err).Stringer("order_id", orderID).Msg("record status history")
	}
}

// -- Poller stages --

type batchKey struct {
	patientID   uuid.UUID
	encounterID string
	method      string
}

// TransmitPending finds approved lab-routed orders, groups them by
// (patient, encounter, delivery method), and transmits each group as one
// batch. Orders whose idempotency marker is already set are skipped; a
// failure in one group does not stop the others. Returns the number of
// orders transmitted.
func (s *Service) TransmitPending(ctx context.Context) (int, error) {
	approved, err := s.orders.ListByStatus(ctx, StatusApproved)
	if err != nil {
		return 0, fmt.Errorf("list approved orders: %w", err)
	}

	groups := make(map[batchKey][]*Order)
	for _, o := range approved {
		if !o.RequiresLabRouting() {
			// Document-only orders terminate at approved.
			continue
		}
		if o.Transmitted() {
			// Marker already set: a previous attempt reached the gateway but
			// did not finish locally. Finish it now instead of re-sending.
			s.logger.Info().Stringer("order_id", o.ID).Msg("order already transmitted, completing local state")
			s.completeTransmission(ctx, o, *o.ExternalOrderID)
			continue
		}
		key := batchKey{patientID: o.PatientID, method: o.DeliveryMethod}
		if o.EncounterID != nil {
			key.encounterID = o.EncounterID.String()
		}
		groups[key] = append(groups[key], o)
	}

	transmitted := 0
	for _, group := range groups {
		n, err := s.transmitBatch(ctx, group)
		transmitted += n
		if err != nil {
			s.logger.Error().Err(err).Int("orders", len(group)).Msg("transmit batch")
		}
	}
	return transmitted, nil
}

// transmitBatch allocates requisition numbers, sends one gateway call for
// the group, and stamps each order. Requisition numbers are persisted before
// the gateway call so a retry after a gateway failure reuses them.
func (s *Service) transmitBatch(ctx context.Context, group []*Order) (int, error) {
	now := s.nowFunc()

	batch := labgateway.Batch{
		OrgID:          group[0].OrgID,
		PatientID:      group[0].PatientID,
		EncounterID:    group[0].EncounterID,
		DeliveryMethod: group[0].DeliveryMethod,
	}

	var sendable []*Order
	for _, o := range group {
		if _, _, err := Transition(o, EventTransmit, now, s.minResultDelay); err != nil {
			s.logger.Error().Err(err).Stringer("order_id", o.ID).Msg("order not transmittable")
			continue
		}
		if o.RequisitionNumber == nil {
			num, err := s.allocator.Allocate(ctx, o.OrgID, now.UTC())
			if err != nil {
				s.logger.Error().Err(err).Stringer("order_id", o.ID).Msg("allocate requisition")
				continue
			}
			o.RequisitionNumber = &num
			if err := s.orders.Update(ctx, o); err != nil {
				o.RequisitionNumber = nil
				s.logger.Error().Err(err).Stringer("order_id", o.ID).Msg("persist requisition")
				continue
			}
		}
		sendable = append(sendable, o)
		batch.Orders = append(batch.Orders, labgateway.BatchOrder{
			OrderID:           o.ID,
			RequisitionNumber: *o.RequisitionNumber,
			TestCode:          o.TestCode,
			TestName:          o.TestName,
			Priority:          o.Priority,
		})
	}
	if len(sendable) == 0 {
		return 0, nil
	}

	externalID, err := s.gateway.Transmit(ctx, batch)
	if err != nil {
		// Orders stay approved and are retried on a later tick.
		return 0, fmt.Errorf("gateway transmit: %w", err)
	}

	count := 0
	for _, o := range sendable {
		if s.completeTransmission(ctx, o, externalID) {
			count++
		}
	}
	return count, nil
}

// completeTransmission stamps the idempotency marker and transmitted_at,
// persists the transmitted status, and records history. transmitted_at is
// only set once so repeated attempts leave it unchanged.
func (s *Service) completeTransmission(ctx context.Context, o *Order, externalID string) bool {
	next, _, err := Transition(o, EventTransmit, s.nowFunc(), s.minResultDelay)
	if err != nil {
		s.logger.Error().Err(err).Stringer("order_id", o.ID).Msg("complete transmission")
		return false
	}
	from := o.Status
	o.Status = next
	o.ExternalOrderID = &externalID
	if o.TransmittedAt == nil {
		now := s.nowFunc()
		o.TransmittedAt = &now
	}
	if err := s.orders.Update(ctx, o); err != nil {
		s.logger.Error().Err(err).Stringer("order_id", o.ID).Msg("persist transmission")
		return false
	}
	s.recordHistory(ctx, o.ID, from, next, SystemActor, "")
	return true
}

// GenerateDueResults finds transmitted orders whose dwell time has elapsed,
// generates result rows for each, and advances them to resulted. A failure
// on one order does not stop the others. Returns the number of orders
// resulted.
func (s *Service) GenerateDueResults(ctx context.Context) (int, error) {
	now := s.nowFunc()
	due, err := s.orders.ListResultDue(ctx, now.Add(-s.minResultDelay))
	if err != nil {
		return 0, fmt.Errorf("list result-due orders: %w", err)
	}

	resulted := 0
	for _, o := range due {
		next, _, err := Transition(o, EventResult, now, s.minResultDelay)
		if err != nil {
			s.logger.Error().Err(err).Stringer("order_id", o.ID).Msg("order not resultable")
			continue
		}
		created, err := s.generator.GenerateForOrder(ctx, o)
		if err != nil {
			s.logger.Error().Err(err).Stringer("order_id", o.ID).Msg("generate results")
			continue
		}
		if created == 0 {
			s.logger.Info().Stringer("order_id", o.ID).Msg("results already generated, advancing status only")
		}
		from := o.Status
		o.Status = next
		if err := s.orders.Update(ctx, o); err != nil {
			s.logger.Error().Err(err).Stringer("order_id", o.ID).Msg("persist resulted status")
			continue
		}
		s.recordHistory(ctx, o.ID, from, next, SystemActor, "")
		resulted++
	}
	return resulted, nil
}
