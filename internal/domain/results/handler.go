package results

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labcore/labcore/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "lab_tech"))
	readGroup.GET("/results/:id", h.GetResult)
	readGroup.GET("/results/:id/audit", h.GetAuditTrail)
	readGroup.GET("/patients/:id/results", h.GetResultsByDate)
	readGroup.GET("/patients/:id/results/panels", h.GetResultsByPanel)

	reviewGroup := api.Group("", auth.RequireRole("admin", "physician"))
	reviewGroup.POST("/results/review", h.BatchReview)
	reviewGroup.POST("/results/unreview", h.BatchUnreview)
}

type reviewRequest struct {
	ResultIDs []uuid.UUID `json:"result_ids"`
	Note      string      `json:"note"`
}

type unreviewRequest struct {
	ResultIDs []uuid.UUID `json:"result_ids"`
	Reason    string      `json:"reason"`
}

func (h *Handler) BatchReview(c echo.Context) error {
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.ResultIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "result_ids is required")
	}
	reviewer := auth.UserIDFromContext(c.Request().Context())
	outcome, err := h.svc.PerformBatchReview(c.Request().Context(), req.ResultIDs, req.Note, reviewer)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(batchStatus(outcome), outcome)
}

func (h *Handler) BatchUnreview(c echo.Context) error {
	var req unreviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.ResultIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "result_ids is required")
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}
	reviewer := auth.UserIDFromContext(c.Request().Context())
	outcome, err := h.svc.PerformUnreview(c.Request().Context(), req.ResultIDs, req.Reason, reviewer)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(batchStatus(outcome), outcome)
}

// batchStatus maps a partial-failure outcome onto an HTTP status. A batch
// with any success is never presented as an outright failure.
func batchStatus(o *BatchOutcome) int {
	switch {
	case o.FailedCount == 0:
		return http.StatusOK
	case o.SuccessCount > 0:
		return http.StatusMultiStatus
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *Handler) GetResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid result id")
	}
	res, err := h.svc.GetResult(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "result not found")
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetAuditTrail(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid result id")
	}
	trail, err := h.svc.AuditTrail(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, trail)
}

func (h *Handler) GetResultsByDate(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	date, err := time.Parse("2006-01-02", c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	items, err := h.svc.GetResultsByDate(c.Request().Context(), patientID, date)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetResultsByPanel(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	raw := c.QueryParam("panels")
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "panels is required (comma-separated)")
	}
	var panels []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(strings.ToLower(p)); p != "" {
			panels = append(panels, p)
		}
	}
	items, err := h.svc.GetResultsByPanel(c.Request().Context(), patientID, panels)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}
