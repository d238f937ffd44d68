package notification

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telehealth/telehealth/internal/platform/apperr"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/httpx"
	"github.com/telehealth/telehealth/pkg/pagination"
)

// Handler exposes the caller's own notifications.
type Handler struct {
	store Store
	now   func() time.Time
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.List)
	g.GET("/notifications/:id", h.Get)
	g.DELETE("/notifications/:id", h.Delete)
	g.POST("/notifications/:id/read", h.MarkRead)
}

func (h *Handler) List(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.store.ListByRecipient(c.Request().Context(), id.UserID, ListFilter{
		UnreadOnly: c.QueryParam("unread") == "true",
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	})
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewPage(items, total, pg))
}

// target returns the caller and the notification id in the path.
func target(c echo.Context) (auth.Identity, uuid.UUID, error) {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return auth.Identity{}, uuid.Nil, err
	}
	nid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return auth.Identity{}, uuid.Nil, apperr.New(apperr.ErrValidation, "invalid notification id")
	}
	return id, nid, nil
}

func (h *Handler) Get(c echo.Context) error {
	id, nid, err := target(c)
	if err != nil {
		return err
	}
	n, err := h.store.Get(c.Request().Context(), nid, id.UserID)
	if err != nil {
		return err
	}
	return httpx.OK(c, n)
}

func (h *Handler) Delete(c echo.Context) error {
	id, nid, err := target(c)
	if err != nil {
		return err
	}
	if err := h.store.Delete(c.Request().Context(), nid, id.UserID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, nid, err := target(c)
	if err != nil {
		return err
	}
	n, err := h.store.MarkRead(c.Request().Context(), nid, id.UserID, h.now().UTC())
	if err != nil {
		return err
	}
	return httpx.OK(c, n)
}
