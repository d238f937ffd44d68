package payment

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telehealth/telehealth/internal/platform/apperr"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/httpx"
	"github.com/telehealth/telehealth/pkg/pagination"
)

// WebhookHashHeader carries the shared secret on provider callbacks.
const WebhookHashHeader = "verif-hash"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the payment endpoints. chargeMW wraps the charge
// route only, typically with idempotency so a retried request cannot charge
// twice.
func (h *Handler) RegisterRoutes(api *echo.Group, chargeMW ...echo.MiddlewareFunc) {
	api.POST("/payments/mobile-money", h.Initiate, chargeMW...)
	api.POST("/payments/webhook", h.Webhook)
	api.POST("/payments/:id/verify", h.Verify)
	api.GET("/payments", h.List)
	api.GET("/payments/:id", h.Get)
}

func (h *Handler) Initiate(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	var req InitiateRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.Initiate(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return httpx.Created(c, res)
}

func (h *Handler) Verify(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	pid, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Verify(c.Request().Context(), id, pid)
	if err != nil {
		return err
	}
	return httpx.OK(c, p)
}

func (h *Handler) Webhook(c echo.Context) error {
	var ev WebhookEvent
	if err := c.Bind(&ev); err != nil {
		return apperr.New(apperr.ErrValidation, "invalid webhook payload")
	}
	if err := h.svc.HandleWebhook(c.Request().Context(), c.Request().Header.Get(WebhookHashHeader), ev); err != nil {
		return err
	}
	return httpx.OK(c, map[string]bool{"received": true})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	pid, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id, pid)
	if err != nil {
		return err
	}
	return httpx.OK(c, p)
}

func (h *Handler) List(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := ListFilter{Status: Status(c.QueryParam("status")), Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("userId"); v != "" {
		uid, err := uuid.Parse(v)
		if err != nil {
			return apperr.New(apperr.ErrValidation, "invalid userId")
		}
		f.UserID = &uid
	}
	items, total, err := h.svc.List(c.Request().Context(), id, f)
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewPage(items, total, pg))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.ErrValidation, "invalid payment id")
	}
	return id, nil
}
