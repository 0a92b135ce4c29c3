package results

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labcore/labcore/internal/domain/orders"
	"github.com/labcore/labcore/internal/platform/notification"
)

// -- Mock repositories --

type mockResultRepo struct {
	mu      sync.Mutex
	results map[uuid.UUID]*LabResult
	failing bool
}

func newMockResultRepo() *mockResultRepo {
	return &mockResultRepo{results: make(map[uuid.UUID]*LabResult)}
}

func (m *mockResultRepo) Create(_ context.Context, r *LabResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return fmt.Errorf("storage unavailable")
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = time.Now()
	cp := *r
	m.results[r.ID] = &cp
	return nil
}

func (m *mockResultRepo) GetByID(_ context.Context, id uuid.UUID) (*LabResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *r
	return &cp, nil
}

func (m *mockResultRepo) Update(_ context.Context, r *LabResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return fmt.Errorf("storage unavailable")
	}
	if _, ok := m.results[r.ID]; !ok {
		return fmt.Errorf("not found")
	}
	cp := *r
	m.results[r.ID] = &cp
	return nil
}

func (m *mockResultRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*LabResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*LabResult
	for _, r := range m.results {
		if r.OrderID == orderID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockResultRepo) CountByOrder(_ context.Context, orderID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.results {
		if r.OrderID == orderID {
			n++
		}
	}
	return n, nil
}

func (m *mockResultRepo) ListByPatientWindow(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*LabResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*LabResult
	for _, r := range m.results {
		if r.PatientID == patientID && !r.ResultAvailableAt.Before(from) && r.ResultAvailableAt.Before(to) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockResultRepo) ListUnreviewedByCodes(_ context.Context, patientID uuid.UUID, codes []string) ([]*LabResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool)
	for _, c := range codes {
		wanted[c] = true
	}
	var out []*LabResult
	for _, r := range m.results {
		if r.PatientID == patientID && r.ReviewedBy == nil && wanted[r.TestCode] {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockResultRepo) ListNewCritical(_ context.Context) ([]*LabResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*LabResult
	for _, r := range m.results {
		if r.ReviewedBy == nil && r.CriticalNotifiedAt == nil && r.Critical() {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockAuditRepo struct {
	mu      sync.Mutex
	entries []*ReviewAudit
}

func (m *mockAuditRepo) Create(_ context.Context, a *ReviewAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	cp := *a
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockAuditRepo) ListByResult(_ context.Context, resultID uuid.UUID) ([]*ReviewAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ReviewAudit
	for _, a := range m.entries {
		if a.ResultID == resultID {
			out = append(out, a)
		}
	}
	return out, nil
}

type mockOrderSink struct {
	mu         sync.Mutex
	reviewed   []uuid.UUID
	unreviewed []uuid.UUID
}

func (m *mockOrderSink) ReviewOrder(_ context.Context, orderID uuid.UUID, _ string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviewed = append(m.reviewed, orderID)
	return nil, nil
}

func (m *mockOrderSink) UnreviewOrder(_ context.Context, orderID uuid.UUID, _, _ string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreviewed = append(m.unreviewed, orderID)
	return nil, nil
}

// -- Fixture --

type fixture struct {
	svc    *Service
	repo   *mockResultRepo
	audit  *mockAuditRepo
	sender *notification.LogSender
	mgr    *notification.Manager
	now    time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newMockResultRepo(),
		audit:  &mockAuditRepo{},
		sender: &notification.LogSender{},
		now:    time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
	}
	f.mgr = notification.NewManager(f.sender)
	f.svc = NewService(f.repo, f.audit, f.mgr, zerolog.Nop())
	f.svc.SetClock(func() time.Time { return f.now })
	f.svc.SetFlagFn(func() string { return FlagNormal })
	return f
}

func (f *fixture) seedResult(t *testing.T, patientID uuid.UUID, code, flag string) *LabResult {
	t.Helper()
	r := &LabResult{
		OrderID:           uuid.New(),
		PatientID:         patientID,
		TestCode:          code,
		TestName:          code,
		ResultValue:       "1.0",
		AbnormalFlag:      flag,
		ResultAvailableAt: f.now,
	}
	if err := f.repo.Create(context.Background(), r); err != nil {
		t.Fatalf("seed result: %v", err)
	}
	return r
}

// -- Review ledger --

func TestBatchReview(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	a := f.seedResult(t, patient, "GLU", FlagNormal)
	b := f.seedResult(t, patient, "K", FlagHigh)

	outcome, err := f.svc.PerformBatchReview(context.Background(), []uuid.UUID{a.ID, b.ID}, "looks fine", "dr-jones")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.SuccessCount != 2 || outcome.FailedCount != 0 {
		t.Fatalf("expected 2/0, got %d/%d", outcome.SuccessCount, outcome.FailedCount)
	}

	stored, _ := f.repo.GetByID(context.Background(), a.ID)
	if stored.ReviewedBy == nil || *stored.ReviewedBy != "dr-jones" {
		t.Error("reviewed_by not set")
	}
	if stored.ReviewedAt == nil || !stored.ReviewedAt.Equal(f.now) {
		t.Error("reviewed_at not set")
	}
	if stored.ReviewNote == nil || *stored.ReviewNote != "looks fine" {
		t.Error("review note not stored")
	}

	trail, _ := f.svc.AuditTrail(context.Background(), a.ID)
	if len(trail) != 1 || trail[0].Action != AuditReviewed || trail[0].ActorID != "dr-jones" {
		t.Errorf("unexpected audit trail: %+v", trail)
	}
}

func TestBatchReview_PartialFailure(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	good := f.seedResult(t, patient, "GLU", FlagNormal)
	missing := uuid.New()

	outcome, err := f.svc.PerformBatchReview(context.Background(), []uuid.UUID{good.ID, missing}, "", "dr-jones")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.SuccessCount != 1 {
		t.Errorf("valid id must still be reviewed, success=%d", outcome.SuccessCount)
	}
	if outcome.FailedCount != 1 || len(outcome.Errors) != 1 || outcome.Errors[0].ResultID != missing {
		t.Errorf("missing id must land in errors: %+v", outcome.Errors)
	}
	if len(outcome.ProcessedIDs) != 1 || outcome.ProcessedIDs[0] != good.ID {
		t.Errorf("unexpected processed ids: %v", outcome.ProcessedIDs)
	}
}

func TestBatchReview_AlreadyReviewed(t *testing.T) {
	f := newFixture()
	r := f.seedResult(t, uuid.New(), "GLU", FlagNormal)

	if _, err := f.svc.PerformBatchReview(context.Background(), []uuid.UUID{r.ID}, "first", "dr-jones"); err != nil {
		t.Fatal(err)
	}
	outcome, err := f.svc.PerformBatchReview(context.Background(), []uuid.UUID{r.ID}, "second", "dr-smith")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.SuccessCount != 0 || outcome.FailedCount != 1 {
		t.Fatalf("expected 0/1, got %d/%d", outcome.SuccessCount, outcome.FailedCount)
	}
	if !strings.Contains(outcome.Errors[0].Message, "already reviewed") {
		t.Errorf("unexpected error message: %s", outcome.Errors[0].Message)
	}

	stored, _ := f.repo.GetByID(context.Background(), r.ID)
	if *stored.ReviewedBy != "dr-jones" {
		t.Error("prior review must be untouched")
	}
}

func TestUnreview_RoundTrip(t *testing.T) {
	f := newFixture()
	r := f.seedResult(t, uuid.New(), "GLU", FlagNormal)

	if _, err := f.svc.PerformBatchReview(context.Background(), []uuid.UUID{r.ID}, "all normal", "dr-jones"); err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(time.Hour)
	outcome, err := f.svc.PerformUnreview(context.Background(), []uuid.UUID{r.ID}, "reviewed wrong patient", "dr-smith")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.SuccessCount != 1 {
		t.Fatalf("expected unreview to succeed: %+v", outcome)
	}

	stored, _ := f.repo.GetByID(context.Background(), r.ID)
	if stored.ReviewedBy != nil || stored.ReviewedAt != nil {
		t.Error("review fields must be cleared together")
	}
	if stored.ReviewNote == nil {
		t.Fatal("synthesized note must survive the unreview")
	}
	note := *stored.ReviewNote
	for _, want := range []string{"dr-jones", "dr-smith", "all normal", "reviewed wrong patient"} {
		if !strings.Contains(note, want) {
			t.Errorf("synthesized note missing %q: %s", want, note)
		}
	}

	// The ledger keeps both entries; nothing is overwritten.
	trail, _ := f.svc.AuditTrail(context.Background(), r.ID)
	if len(trail) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(trail))
	}
	if trail[0].Action != AuditReviewed || trail[1].Action != AuditUnreviewed {
		t.Errorf("unexpected ledger order: %s, %s", trail[0].Action, trail[1].Action)
	}

	// The result is reviewable again after unreview.
	again, err := f.svc.PerformBatchReview(context.Background(), []uuid.UUID{r.ID}, "corrected", "dr-smith")
	if err != nil || again.SuccessCount != 1 {
		t.Errorf("expected re-review to succeed: %v %+v", err, again)
	}
}

func TestReview_AdvancesOrderWhenComplete(t *testing.T) {
	f := newFixture()
	sink := &mockOrderSink{}
	f.svc.SetOrderSink(sink)

	patient := uuid.New()
	orderID := uuid.New()
	a := f.seedResult(t, patient, "GLU", FlagNormal)
	b := f.seedResult(t, patient, "K", FlagNormal)
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		r, _ := f.repo.GetByID(context.Background(), id)
		r.OrderID = orderID
		if err := f.repo.Update(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}

	// One of two reviewed: the order is not done yet.
	if _, err := f.svc.PerformBatchReview(context.Background(), []uuid.UUID{a.ID}, "", "dr-jones"); err != nil {
		t.Fatal(err)
	}
	if len(sink.reviewed) != 0 {
		t.Fatal("order must not advance while a result is unreviewed")
	}

	// Both reviewed: the order advances exactly once.
	if _, err := f.svc.PerformBatchReview(context.Background(), []uuid.UUID{b.ID}, "", "dr-jones"); err != nil {
		t.Fatal(err)
	}
	if len(sink.reviewed) != 1 || sink.reviewed[0] != orderID {
		t.Fatalf("expected one order advance, got %v", sink.reviewed)
	}

	// Any unreview reopens the order.
	if _, err := f.svc.PerformUnreview(context.Background(), []uuid.UUID{a.ID}, "second look", "dr-smith"); err != nil {
		t.Fatal(err)
	}
	if len(sink.unreviewed) != 1 || sink.unreviewed[0] != orderID {
		t.Fatalf("expected one order revert, got %v", sink.unreviewed)
	}
}

func TestUnreview_NotReviewed(t *testing.T) {
	f := newFixture()
	r := f.seedResult(t, uuid.New(), "GLU", FlagNormal)

	outcome, err := f.svc.PerformUnreview(context.Background(), []uuid.UUID{r.ID}, "oops", "dr-jones")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.FailedCount != 1 || !strings.Contains(outcome.Errors[0].Message, "not reviewed") {
		t.Errorf("expected not-reviewed failure: %+v", outcome)
	}
}

// -- Queries --

func TestGetResultsByDate(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	onDay := f.seedResult(t, patient, "GLU", FlagNormal)

	f.now = time.Date(2025, 1, 11, 0, 30, 0, 0, time.UTC)
	f.seedResult(t, patient, "K", FlagNormal) // next calendar day

	items, err := f.svc.GetResultsByDate(context.Background(), patient, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != onDay.ID {
		t.Errorf("expected only the 2025-01-10 result, got %d", len(items))
	}
}

func TestGetResultsByPanel(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	glu := f.seedResult(t, patient, "GLU", FlagNormal)
	f.seedResult(t, patient, "TSH", FlagNormal)     // not in bmp
	reviewed := f.seedResult(t, patient, "K", FlagNormal)
	if _, err := f.svc.PerformBatchReview(context.Background(), []uuid.UUID{reviewed.ID}, "", "dr-jones"); err != nil {
		t.Fatal(err)
	}

	items, err := f.svc.GetResultsByPanel(context.Background(), patient, []string{"bmp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != glu.ID {
		t.Errorf("expected only the unreviewed bmp result, got %d", len(items))
	}

	if _, err := f.svc.GetResultsByPanel(context.Background(), patient, []string{"bmp", "bogus"}); err == nil {
		t.Error("expected error for unknown panel")
	}
}

// -- Critical escalation --

func TestEscalateCritical(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	crit := f.seedResult(t, patient, "K", FlagCriticalHigh)
	f.seedResult(t, patient, "GLU", FlagNormal)

	n, err := f.svc.EscalateCritical(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 escalated, got %d", n)
	}
	if got := len(f.sender.Calls()); got != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", got)
	}
	stored, _ := f.repo.GetByID(context.Background(), crit.ID)
	if stored.CriticalNotifiedAt == nil {
		t.Error("expected escalation stamp set")
	}

	// Second tick: already stamped, no further notification.
	if n, _ := f.svc.EscalateCritical(context.Background()); n != 0 {
		t.Errorf("expected 0 on second tick, got %d", n)
	}
	if got := len(f.sender.Calls()); got != 1 {
		t.Errorf("a result must escalate exactly once, got %d notifications", got)
	}
}

func TestEscalateCritical_NormalResultIgnored(t *testing.T) {
	f := newFixture()
	f.seedResult(t, uuid.New(), "GLU", FlagNormal)

	n, err := f.svc.EscalateCritical(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 || len(f.sender.Calls()) != 0 {
		t.Errorf("normal result must trigger zero notifications")
	}
}

func TestEscalateCritical_NotifierFailureLeavesStampUnset(t *testing.T) {
	f := newFixture()
	failing := &notification.FailingSender{Err: fmt.Errorf("pager gateway down")}
	f.svc.notifier = notification.NewManager(failing)
	crit := f.seedResult(t, uuid.New(), "K", FlagCriticalLow)

	n, err := f.svc.EscalateCritical(context.Background())
	if err != nil {
		t.Fatalf("delivery failure must not error the stage: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 escalated, got %d", n)
	}
	stored, _ := f.repo.GetByID(context.Background(), crit.ID)
	if stored.CriticalNotifiedAt != nil {
		t.Error("stamp must stay unset so the result is retried next tick")
	}

	// Delivery restored: the result escalates on the next tick.
	f.svc.notifier = f.mgr
	if n, _ := f.svc.EscalateCritical(context.Background()); n != 1 {
		t.Errorf("expected retry to escalate, got %d", n)
	}
}

// -- Generation --

func TestGenerateForOrder_PanelExpansion(t *testing.T) {
	f := newFixture()
	o := &orders.Order{ID: uuid.New(), PatientID: uuid.New(), TestCode: "CBC", TestName: "Complete Blood Count"}

	created, err := f.svc.GenerateForOrder(context.Background(), o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != len(panelTests["cbc"]) {
		t.Errorf("expected %d rows for the cbc panel, got %d", len(panelTests["cbc"]), created)
	}
	rows, _ := f.repo.ListByOrder(context.Background(), o.ID)
	for _, r := range rows {
		if r.PatientID != o.PatientID {
			t.Error("result must carry the order's patient")
		}
		if !r.ResultAvailableAt.Equal(f.now) {
			t.Error("result_available_at must be the generation time")
		}
	}
}

func TestGenerateForOrder_Dedup(t *testing.T) {
	f := newFixture()
	o := &orders.Order{ID: uuid.New(), PatientID: uuid.New(), TestCode: "GLU", TestName: "Glucose"}

	if created, err := f.svc.GenerateForOrder(context.Background(), o); err != nil || created != 1 {
		t.Fatalf("first run: created=%d err=%v", created, err)
	}
	created, err := f.svc.GenerateForOrder(context.Background(), o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 0 {
		t.Errorf("re-run must insert nothing, created=%d", created)
	}
	if n, _ := f.repo.CountByOrder(context.Background(), o.ID); n != 1 {
		t.Errorf("expected 1 row total, got %d", n)
	}
}

func TestGenerateForOrder_UnknownCode(t *testing.T) {
	f := newFixture()
	o := &orders.Order{ID: uuid.New(), PatientID: uuid.New(), TestCode: "XYZ-99", TestName: "Esoteric Assay"}

	created, err := f.svc.GenerateForOrder(context.Background(), o)
	if err != nil || created != 1 {
		t.Fatalf("created=%d err=%v", created, err)
	}
	rows, _ := f.repo.ListByOrder(context.Background(), o.ID)
	if rows[0].TestName != "Esoteric Assay" {
		t.Errorf("unknown code must fall back to the order's test name, got %q", rows[0].TestName)
	}
}
