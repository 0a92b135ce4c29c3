package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labcore/labcore/internal/domain/orders"
	"github.com/labcore/labcore/internal/platform/notification"
)

var (
	// ErrAlreadyReviewed is returned per id when a result already carries a
	// review. Reviewing again requires an unreview first.
	ErrAlreadyReviewed = errors.New("result already reviewed")
	// ErrNotReviewed is returned per id when unreview targets a result with
	// no review to clear.
	ErrNotReviewed = errors.New("result not reviewed")
)

// ItemError reports why one id in a batch failed.
type ItemError struct {
	ResultID uuid.UUID `json:"result_id"`
	Message  string    `json:"error"`
}

// BatchOutcome is the partial-failure result of a batch review or unreview.
// One bad id is recorded here while the rest of the batch still commits.
type BatchOutcome struct {
	SuccessCount int         `json:"success_count"`
	FailedCount  int         `json:"failed_count"`
	ProcessedIDs []uuid.UUID `json:"processed_ids"`
	Errors       []ItemError `json:"errors,omitempty"`
}

func (o *BatchOutcome) ok(id uuid.UUID) {
	o.SuccessCount++
	o.ProcessedIDs = append(o.ProcessedIDs, id)
}

func (o *BatchOutcome) fail(id uuid.UUID, err error) {
	o.FailedCount++
	o.Errors = append(o.Errors, ItemError{ResultID: id, Message: err.Error()})
}

// OrderReviewSink receives review-driven lifecycle events for the owning
// order. Implemented by the orders service; wired after construction since
// the two services reference each other.
type OrderReviewSink interface {
	ReviewOrder(ctx context.Context, orderID uuid.UUID, actor string) (*orders.Order, error)
	UnreviewOrder(ctx context.Context, orderID uuid.UUID, actor, reason string) (*orders.Order, error)
}

// TxRunner executes fn inside one storage transaction. The default runs fn
// directly; the server wires db.WithTx so a review and its ledger entry
// commit together.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	results   ResultRepository
	audit     AuditRepository
	notifier  notification.Notifier
	orderSink OrderReviewSink
	logger    zerolog.Logger
	txRun     TxRunner
	nowFunc   func() time.Time
	flagFn    func() string
}

func NewService(results ResultRepository, audit AuditRepository,
	notifier notification.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		results:  results,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		txRun:    func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) },
		nowFunc:  time.Now,
		flagFn:   defaultFlagFn,
	}
}

// SetTxRunner wires transactional execution for review ledger writes.
func (s *Service) SetTxRunner(run TxRunner) { s.txRun = run }

// SetClock overrides the service clock. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.nowFunc = now }

// SetOrderSink wires the order lifecycle callback. Called once at startup,
// after both services are constructed.
func (s *Service) SetOrderSink(sink OrderReviewSink) { s.orderSink = sink }

// SetFlagFn overrides abnormal-flag selection for generated results. Tests only.
func (s *Service) SetFlagFn(fn func() string) { s.flagFn = fn }

// GetResult returns a single result by id.
func (s *Service) GetResult(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return s.results.GetByID(ctx, id)
}

// AuditTrail returns the append-only review ledger for a result, oldest first.
func (s *Service) AuditTrail(ctx context.Context, resultID uuid.UUID) ([]*ReviewAudit, error) {
	return s.audit.ListByResult(ctx, resultID)
}

// -- Review ledger --

// PerformBatchReview marks each result reviewed by reviewerID with the given
// note. Ids that are missing or already reviewed land in the outcome's
// Errors; the rest of the batch still commits.
func (s *Service) PerformBatchReview(ctx context.Context, resultIDs []uuid.UUID, note, reviewerID string) (*BatchOutcome, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("reviewer id is required")
	}

	outcome := &BatchOutcome{}
	touched := make(map[uuid.UUID]bool)
	for _, id := range resultIDs {
		res, err := s.results.GetByID(ctx, id)
		if err != nil {
			outcome.fail(id, fmt.Errorf("result not found"))
			continue
		}
		if res.Reviewed() {
			outcome.fail(id, ErrAlreadyReviewed)
			continue
		}

		now := s.nowFunc()
		res.ReviewedBy = &reviewerID
		res.ReviewedAt = &now
		if note != "" {
			res.ReviewNote = &note
		}
		entry := &ReviewAudit{
			ResultID:   id,
			Action:     AuditReviewed,
			ActorID:    reviewerID,
			Note:       res.ReviewNote,
			OccurredAt: now,
		}
		// The review and its ledger entry commit together.
		err = s.txRun(ctx, func(ctx context.Context) error {
			if err := s.results.Update(ctx, res); err != nil {
				return err
			}
			return s.audit.Create(ctx, entry)
		})
		if err != nil {
			outcome.fail(id, err)
			continue
		}
		outcome.ok(id)
		touched[res.OrderID] = true
	}

	// An order is reviewed once every one of its results is.
	for orderID := range touched {
		if s.allReviewed(ctx, orderID) {
			s.advanceOrder(ctx, orderID, reviewerID)
		}
	}
	return outcome, nil
}

func (s *Service) allReviewed(ctx context.Context, orderID uuid.UUID) bool {
	rows, err := s.results.ListByOrder(ctx, orderID)
	if err != nil {
		s.logger.Error().Err(err).Stringer("order_id", orderID).Msg("list results for order")
		return false
	}
	for _, r := range rows {
		if !r.Reviewed() {
			return false
		}
	}
	return len(rows) > 0
}

func (s *Service) advanceOrder(ctx context.Context, orderID uuid.UUID, actor string) {
	if s.orderSink == nil {
		return
	}
	// An already-reviewed or cancelled order is a no-op, not a failure.
	_, err := s.orderSink.ReviewOrder(ctx, orderID, actor)
	if err != nil && !errors.Is(err, orders.ErrInvalidTransition) {
		s.logger.Error().Err(err).Stringer("order_id", orderID).Msg("mark order reviewed")
	}
}

func (s *Service) revertOrder(ctx context.Context, orderID uuid.UUID, actor, reason string) {
	if s.orderSink == nil {
		return
	}
	_, err := s.orderSink.UnreviewOrder(ctx, orderID, actor, reason)
	if err != nil && !errors.Is(err, orders.ErrInvalidTransition) {
		s.logger.Error().Err(err).Stringer("order_id", orderID).Msg("revert order to resulted")
	}
}

// PerformUnreview clears the review fields of each reviewed result. The
// review row itself survives: the prior reviewer, timestamp, and note are
// folded into a synthesized note on the result, and the ledger gets an
// unreviewed entry carrying the reason.
func (s *Service) PerformUnreview(ctx context.Context, resultIDs []uuid.UUID, reason, reviewerID string) (*BatchOutcome, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("reviewer id is required")
	}

	outcome := &BatchOutcome{}
	touched := make(map[uuid.UUID]bool)
	for _, id := range resultIDs {
		res, err := s.results.GetByID(ctx, id)
		if err != nil {
			outcome.fail(id, fmt.Errorf("result not found"))
			continue
		}
		if !res.Reviewed() {
			outcome.fail(id, ErrNotReviewed)
			continue
		}

		now := s.nowFunc()
		synthesized := unreviewNote(res, reason, reviewerID, now)
		res.ReviewedBy = nil
		res.ReviewedAt = nil
		res.ReviewNote = &synthesized
		entry := &ReviewAudit{
			ResultID:   id,
			Action:     AuditUnreviewed,
			ActorID:    reviewerID,
			Note:       &synthesized,
			OccurredAt: now,
		}
		err = s.txRun(ctx, func(ctx context.Context) error {
			if err := s.results.Update(ctx, res); err != nil {
				return err
			}
			return s.audit.Create(ctx, entry)
		})
		if err != nil {
			outcome.fail(id, err)
			continue
		}
		outcome.ok(id)
		touched[res.OrderID] = true
	}

	// Any unreviewed result reopens the owning order.
	for orderID := range touched {
		s.revertOrder(ctx, orderID, reviewerID, reason)
	}
	return outcome, nil
}

// unreviewNote embeds the prior review in free text so the result row keeps
// evidence of it after the structured fields are cleared.
func unreviewNote(res *LabResult, reason, actor string, now time.Time) string {
	prior := ""
	if res.ReviewNote != nil {
		prior = *res.ReviewNote
	}
	return fmt.Sprintf("[unreviewed by %s at %s] prior review by %s at %s; prior note: %q; reason: %s",
		actor, now.UTC().Format(time.RFC3339),
		*res.ReviewedBy, res.ReviewedAt.UTC().Format(time.RFC3339),
		prior, reason)
}

// -- Queries --

// GetResultsByDate returns the patient's results whose result_available_at
// falls on the given calendar day (UTC).
func (s *Service) GetResultsByDate(ctx context.Context, patientID uuid.UUID, date time.Time) ([]*LabResult, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return s.results.ListByPatientWindow(ctx, patientID, day, day.Add(24*time.Hour))
}

// GetResultsByPanel expands panel names to test codes and returns the
// patient's unreviewed results for them. Unknown panel names are rejected.
func (s *Service) GetResultsByPanel(ctx context.Context, patientID uuid.UUID, panels []string) ([]*LabResult, error) {
	if len(panels) == 0 {
		return nil, fmt.Errorf("at least one panel is required")
	}
	codes, unknown := TestCodesForPanels(panels)
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown panels: %v (known: %v)", unknown, KnownPanels())
	}
	return s.results.ListUnreviewedByCodes(ctx, patientID, codes)
}

// -- Critical escalation --

// EscalateCritical finds unreviewed critical results that have not been
// escalated yet and enqueues one notification for the batch. Each result is
// stamped only after the notifier accepts it, so a delivery failure leaves
// the stamp unset and the result is picked up again next tick. Returns the
// number of results escalated.
func (s *Service) EscalateCritical(ctx context.Context) (int, error) {
	fresh, err := s.results.ListNewCritical(ctx)
	if err != nil {
		return 0, fmt.Errorf("list new critical results: %w", err)
	}
	if len(fresh) == 0 {
		// Nothing new; still give the notifier a chance to re-deliver
		// previously failed critical notifications.
		if err := s.notifier.CheckCriticalResults(ctx); err != nil {
			s.logger.Error().Err(err).Msg("critical re-delivery sweep")
		}
		return 0, nil
	}

	ids := make([]uuid.UUID, len(fresh))
	for i, res := range fresh {
		ids[i] = res.ID
	}
	if err := s.notifier.ProcessNewResults(ctx, ids, notification.Options{Urgency: notification.UrgencyCritical}); err != nil {
		// Best-effort: the results stay unstamped and escalate next tick.
		s.logger.Error().Err(err).Int("results", len(ids)).Msg("enqueue critical notification")
		return 0, nil
	}

	stamped := 0
	now := s.nowFunc()
	for _, res := range fresh {
		res.CriticalNotifiedAt = &now
		if err := s.results.Update(ctx, res); err != nil {
			s.logger.Error().Err(err).Stringer("result_id", res.ID).Msg("stamp critical escalation")
			continue
		}
		stamped++
	}
	return stamped, nil
}
