package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dentalcare/clinic/internal/platform/auth"
	"github.com/dentalcare/clinic/internal/platform/middleware"
	"github.com/dentalcare/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, billing, cashier
	readGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleCashier))
	readGroup.GET("/invoices", h.ListInvoices)
	readGroup.GET("/invoices/:id", h.GetInvoice)
	readGroup.GET("/invoices/:id/items", h.ListLineItems)
	readGroup.GET("/invoices/:id/installments", h.ListInstallments)
	readGroup.GET("/invoices/:id/payments", h.ListDirectPayments)

	// Write endpoints – admin, billing
	writeGroup := api.Group("", auth.RequireRole(auth.RoleBilling))
	writeGroup.POST("/invoices", h.CreateInvoice)
	writeGroup.POST("/invoices/:id/items", h.AddItem)
	writeGroup.POST("/invoices/:id/installments", h.GenerateInstallments)

	// Payment endpoints – admin, billing, cashier
	payGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleCashier))
	payGroup.POST("/invoices/:id/payments", h.PayDirect)
	payGroup.POST("/installments/:id/payment", h.PayInstallment)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/invoices/:id/cancel", h.CancelInvoice)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Invoice Handlers --

func (h *Handler) CreateInvoice(c echo.Context) error {
	var req CreateInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, created, err := h.svc.CreateInvoice(c.Request().Context(), req)
	if err != nil {
		return middleware.HTTPError(err)
	}
	if !created {
		return c.JSON(http.StatusOK, inv)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	var f ListFilter
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}
	f.Type = InvoiceType(c.QueryParam("type"))
	f.Status = InvoiceStatus(c.QueryParam("status"))

	p := pagination.FromContext(c)
	items, total, err := h.svc.ListInvoices(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) ListLineItems(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.LineItems(c.Request().Context(), id)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddItem(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req AddItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	li, err := h.svc.AddItem(c.Request().Context(), id, req)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, li)
}

func (h *Handler) CancelInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.CancelInvoice(c.Request().Context(), id)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

// -- Installment Handlers --

type generateInstallmentsRequest struct {
	Installments []InstallmentDefinition `json:"installments"`
}

func (h *Handler) GenerateInstallments(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req generateInstallmentsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.svc.GenerateInstallments(c.Request().Context(), id, req.Installments)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, items)
}

func (h *Handler) ListInstallments(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListInstallments(c.Request().Context(), id)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) PayInstallment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req PayInstallmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in, err := h.svc.PayInstallment(c.Request().Context(), id, req)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, in)
}

// -- Direct Payment Handlers --

func (h *Handler) PayDirect(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req DirectPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.PayDirect(c.Request().Context(), id, req)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListDirectPayments(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListDirectPayments(c.Request().Context(), id)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}
