package messaging

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telehealth/telehealth/internal/platform/apperr"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/httpx"
	"github.com/telehealth/telehealth/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/appointments/:id/messages", h.Send)
	api.GET("/appointments/:id/messages", h.List)
	api.GET("/messages/:id", h.Get)
	api.DELETE("/messages/:id", h.Delete)
	api.POST("/messages/:id/read", h.MarkRead)
}

type sendRequest struct {
	Content string `json:"content" validate:"required"`
}

func (h *Handler) Send(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	aid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.New(apperr.ErrValidation, "invalid appointment id")
	}
	var req sendRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	m, err := h.svc.Send(c.Request().Context(), id, aid, req.Content)
	if err != nil {
		return err
	}
	return httpx.Created(c, m)
}

func (h *Handler) List(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	aid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.New(apperr.ErrValidation, "invalid appointment id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), id, aid, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewPage(items, total, pg))
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	mid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.New(apperr.ErrValidation, "invalid message id")
	}
	m, err := h.svc.MarkRead(c.Request().Context(), id, mid)
	if err != nil {
		return err
	}
	return httpx.OK(c, m)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	mid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.New(apperr.ErrValidation, "invalid message id")
	}
	m, err := h.svc.Get(c.Request().Context(), id, mid)
	if err != nil {
		return err
	}
	return httpx.OK(c, m)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	mid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.New(apperr.ErrValidation, "invalid message id")
	}
	if err := h.svc.Delete(c.Request().Context(), id, mid); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
