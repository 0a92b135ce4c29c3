// Package notification implements the outbound notification contract for the
// order pipeline: template rendering, an in-memory request store, retry, and
// an Echo admin handler. Delivery is best-effort; a failure here never rolls
// back persisted clinical data.
package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Contract
// ---------------------------------------------------------------------------

// Urgency levels for result notifications.
const (
	UrgencyRoutine  = "routine"
	UrgencyCritical = "critical"
)

// Options controls how a batch of results is announced.
type Options struct {
	Urgency          string `json:"urgency"`
	IncludeEducation bool   `json:"include_education"`
}

// Notifier is the trigger contract the order pipeline depends on.
type Notifier interface {
	// ProcessNewResults enqueues a notification request for the given result
	// ids. Fire-and-forget from the caller's perspective.
	ProcessNewResults(ctx context.Context, resultIDs []uuid.UUID, opts Options) error
	// CheckCriticalResults asks the notification side to re-scan for critical
	// results it may have missed.
	CheckCriticalResults(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// Request is a single recorded notification request.
type Request struct {
	ID        string      `json:"id"`
	ResultIDs []uuid.UUID `json:"result_ids"`
	Urgency   string      `json:"urgency"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	SentAt    *time.Time  `json:"sent_at,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Sender delivers a rendered notification. Implementations wrap email, SMS,
// or paging integrations.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Template defines a reusable notification template using {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

var builtInTemplates = map[string]Template{
	"critical-result": {
		ID:      "critical-result",
		Subject: "CRITICAL lab result requires review",
		Body:    "{{count}} critical lab result(s) are awaiting urgent clinician review. Result ids: {{result_ids}}.",
	},
	"result-ready": {
		ID:      "result-ready",
		Subject: "New lab results available",
		Body:    "{{count}} new lab result(s) are available for review. Result ids: {{result_ids}}.",
	},
}

func render(tpl Template, data map[string]string) (subject, body string) {
	subject, body = tpl.Subject, tpl.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager implements Notifier by rendering a template per request, handing it
// to the Sender, and recording the outcome in memory.
type Manager struct {
	sender   Sender
	mu       sync.RWMutex
	requests map[string]*Request
}

func NewManager(sender Sender) *Manager {
	return &Manager{sender: sender, requests: make(map[string]*Request)}
}

func (m *Manager) ProcessNewResults(ctx context.Context, resultIDs []uuid.UUID, opts Options) error {
	if len(resultIDs) == 0 {
		return nil
	}

	tplID := "result-ready"
	if opts.Urgency == UrgencyCritical {
		tplID = "critical-result"
	}

	ids := make([]string, len(resultIDs))
	for i, id := range resultIDs {
		ids[i] = id.String()
	}
	subject, body := render(builtInTemplates[tplID], map[string]string{
		"count":      fmt.Sprintf("%d", len(resultIDs)),
		"result_ids": strings.Join(ids, ", "),
	})

	req := &Request{
		ID:        uuid.NewString(),
		ResultIDs: resultIDs,
		Urgency:   opts.Urgency,
		Subject:   subject,
		Body:      body,
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}

	sendErr := m.sender.Send(ctx, subject, body)
	if sendErr != nil {
		req.Status = "failed"
		req.Error = sendErr.Error()
	} else {
		req.Status = "sent"
		sentAt := time.Now().UTC()
		req.SentAt = &sentAt
	}

	m.mu.Lock()
	m.requests[req.ID] = req
	m.mu.Unlock()

	return sendErr
}

func (m *Manager) CheckCriticalResults(ctx context.Context) error {
	// Re-delivery sweep: retry every failed critical request.
	m.mu.RLock()
	var failed []*Request
	for _, req := range m.requests {
		if req.Status == "failed" && req.Urgency == UrgencyCritical {
			failed = append(failed, req)
		}
	}
	m.mu.RUnlock()

	for _, req := range failed {
		if err := m.Retry(ctx, req.ID); err != nil {
			return err
		}
	}
	return nil
}

// Retry re-sends a failed request. Returns an error if the request is not in
// failed status.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	req, ok := m.requests[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notification request %q not found", id)
	}
	if req.Status != "failed" {
		return fmt.Errorf("notification request %q is not in failed status (current: %s)", id, req.Status)
	}

	sendErr := m.sender.Send(ctx, req.Subject, req.Body)

	m.mu.Lock()
	if sendErr != nil {
		req.Status = "failed"
		req.Error = sendErr.Error()
	} else {
		req.Status = "sent"
		sentAt := time.Now().UTC()
		req.SentAt = &sentAt
		req.Error = ""
	}
	m.mu.Unlock()

	return sendErr
}

// Stats returns request counts grouped by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]int)
	for _, req := range m.requests {
		stats[req.Status]++
	}
	return stats
}

// Requests returns a copy of all recorded requests.
func (m *Manager) Requests() []*Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Request, 0, len(m.requests))
	for _, req := range m.requests {
		out = append(out, req)
	}
	return out
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

// LogSender is a Sender that only records; used in dev mode where no
// delivery integration is configured.
type LogSender struct {
	mu    sync.Mutex
	calls []string
}

func (s *LogSender) Send(_ context.Context, subject, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, subject)
	return nil
}

// Calls returns the subjects sent so far.
func (s *LogSender) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// FailingSender always fails; test double for delivery outages.
type FailingSender struct{ Err error }

func (s *FailingSender) Send(context.Context, string, string) error { return s.Err }

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes notification admin operations over HTTP via Echo.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.List)
	g.GET("/notifications/stats", h.GetStats)
	g.POST("/notifications/:id/retry", h.Retry)
}

func (h *Handler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Requests())
}

func (h *Handler) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats())
}

func (h *Handler) Retry(c echo.Context) error {
	if err := h.manager.Retry(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
