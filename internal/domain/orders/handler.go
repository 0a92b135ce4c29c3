package orders

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labcore/labcore/internal/platform/auth"
	"github.com/labcore/labcore/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "lab_tech"))
	readGroup.GET("/orders", h.ListOrders)
	readGroup.GET("/orders/:id", h.GetOrder)
	readGroup.GET("/orders/:id/status-history", h.GetStatusHistory)

	writeGroup := api.Group("", auth.RequireRole("admin", "physician"))
	writeGroup.POST("/orders", h.CreateOrder)
	writeGroup.POST("/orders/:id/approve", h.ApproveOrder)
	writeGroup.POST("/orders/:id/cancel", h.CancelOrder)
	writeGroup.POST("/orders/:id/fail", h.FailOrder)
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var o Order
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateOrder(c.Request().Context(), &o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, &o)
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	o, err := h.svc.GetOrder(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListOrders(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListOrdersByPatient(c.Request().Context(), patientID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	history, err := h.svc.StatusHistory(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, history)
}

type eventRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) ApproveOrder(c echo.Context) error {
	return h.applyEvent(c, func(c echo.Context, id uuid.UUID, actor string, _ eventRequest) (*Order, error) {
		return h.svc.ApproveOrder(c.Request().Context(), id, actor)
	})
}

func (h *Handler) CancelOrder(c echo.Context) error {
	return h.applyEvent(c, func(c echo.Context, id uuid.UUID, actor string, req eventRequest) (*Order, error) {
		return h.svc.CancelOrder(c.Request().Context(), id, actor, req.Reason)
	})
}

func (h *Handler) FailOrder(c echo.Context) error {
	return h.applyEvent(c, func(c echo.Context, id uuid.UUID, actor string, req eventRequest) (*Order, error) {
		return h.svc.FailOrder(c.Request().Context(), id, actor, req.Reason)
	})
}

func (h *Handler) applyEvent(c echo.Context,
	apply func(echo.Context, uuid.UUID, string, eventRequest) (*Order, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	var req eventRequest
	_ = c.Bind(&req) // body is optional

	actor := auth.UserIDFromContext(c.Request().Context())
	o, err := apply(c, id, actor, req)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	return c.JSON(http.StatusOK, o)
}
