package cashier

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dentalcare/clinic/internal/platform/auth"
	"github.com/dentalcare/clinic/internal/platform/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/cashier", auth.RequireRole(auth.RoleCashier))
	g.POST("/sessions", h.OpenSession)
	g.GET("/sessions/open", h.FetchOpenSession)
	g.GET("/sessions/:id", h.GetSession)
	g.GET("/sessions/:id/pending", h.FetchPending)
	g.POST("/sessions/:id/payments", h.RegisterPayment)
	g.GET("/sessions/:id/payments", h.ListPayments)
	g.POST("/sessions/:id/close", h.CloseSession)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) OpenSession(c echo.Context) error {
	var req OpenSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	sess, err := h.svc.OpenSession(ctx, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

// FetchOpenSession answers 404 when no session is open.
func (h *Handler) FetchOpenSession(c echo.Context) error {
	sess, err := h.svc.FetchOpenSession(c.Request().Context())
	if err != nil {
		return middleware.HTTPError(err)
	}
	if sess == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no open cashier session")
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.GetSession(c.Request().Context(), id)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) FetchPending(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pending, err := h.svc.FetchPending(c.Request().Context(), id)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pending)
}

func (h *Handler) RegisterPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req RegisterPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	p, err := h.svc.RegisterPayment(ctx, id, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListPayments(c.Request().Context(), id)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CloseSession(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CloseSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.CloseSession(c.Request().Context(), id, req)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sess)
}
