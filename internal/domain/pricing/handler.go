package pricing

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
	readGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleCashier))
	readGroup.GET("/prices", h.GetPrice)
}

func (h *Handler) GetPrice(c echo.Context) error {
	articleID, err := uuid.Parse(c.QueryParam("article_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "article_id is required")
	}
	entityID, err := uuid.Parse(c.QueryParam("entity_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "entity_id is required")
	}
	p, err := h.svc.Get(c.Request().Context(), articleID, entityID)
	if err != nil {
		return middleware.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}
