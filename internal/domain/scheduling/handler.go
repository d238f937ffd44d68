package scheduling

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telehealth/telehealth/internal/platform/apperr"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/httpx"
	"github.com/telehealth/telehealth/pkg/pagination"
)

type Handler struct {
	ledger *Ledger
	engine *Engine
	gate   *Gate
}

func NewHandler(ledger *Ledger, engine *Engine, gate *Gate) *Handler {
	return &Handler{ledger: ledger, engine: engine, gate: gate}
}

// RegisterRoutes mounts availability and appointment routes on api.
// initiateMW wraps only the booking endpoint (idempotency).
func (h *Handler) RegisterRoutes(api *echo.Group, initiateMW ...echo.MiddlewareFunc) {
	api.GET("/availability", h.ListSlots)
	api.GET("/availability/:id", h.GetSlot)

	// Doctors manage their own slots; admins pass RequireRole too.
	doctorOnly := auth.RequireRole(auth.RoleDoctor)
	api.POST("/availability", h.CreateSlot, doctorOnly)
	api.PUT("/availability/:id", h.UpdateSlot, doctorOnly)
	api.DELETE("/availability/:id", h.DeleteSlot, doctorOnly)

	api.POST("/appointments/initiate", h.Initiate, initiateMW...)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments/:id/confirm", h.Confirm)
	api.POST("/appointments/:id/cancel", h.Cancel)
	api.POST("/appointments/:id/complete", h.Complete)
	api.POST("/appointments/:id/join", h.Join)
}

// -- Availability Handlers --

type slotRequest struct {
	DoctorID  *uuid.UUID `json:"doctorId,omitempty"`
	StartTime time.Time  `json:"startTime" validate:"required"`
	EndTime   time.Time  `json:"endTime" validate:"required"`
}

func (h *Handler) CreateSlot(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	var req slotRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}

	doctorID := id.UserID
	if id.IsAdmin() {
		if req.DoctorID == nil {
			return apperr.New(apperr.ErrValidation, "doctorId is required when an admin creates a slot")
		}
		doctorID = *req.DoctorID
	} else if req.DoctorID != nil && *req.DoctorID != id.UserID {
		return apperr.New(apperr.ErrForbidden, "doctors can only create their own availability")
	}

	slot, err := h.ledger.CreateSlot(c.Request().Context(), doctorID, req.StartTime, req.EndTime)
	if err != nil {
		return err
	}
	return httpx.Created(c, slot)
}

func (h *Handler) GetSlot(c echo.Context) error {
	sid, err := parseID(c, "availability")
	if err != nil {
		return err
	}
	slot, err := h.ledger.GetSlot(c.Request().Context(), sid)
	if err != nil {
		return err
	}
	return httpx.OK(c, slot)
}

func (h *Handler) ListSlots(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := SlotFilter{
		Status: SlotStatus(c.QueryParam("status")),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	}
	if v := c.QueryParam("doctorId"); v != "" {
		did, err := uuid.Parse(v)
		if err != nil {
			return apperr.New(apperr.ErrValidation, "invalid doctorId")
		}
		f.DoctorID = &did
	}
	var err error
	if f.From, err = parseTimeParam(c, "from"); err != nil {
		return err
	}
	if f.To, err = parseTimeParam(c, "to"); err != nil {
		return err
	}

	items, total, err := h.ledger.ListSlots(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewPage(items, total, pg))
}

func (h *Handler) UpdateSlot(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	sid, err := parseID(c, "availability")
	if err != nil {
		return err
	}
	var req slotRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	if err := h.checkSlotOwner(c, id, sid); err != nil {
		return err
	}
	slot, err := h.ledger.UpdateSlot(c.Request().Context(), sid, req.StartTime, req.EndTime)
	if err != nil {
		return err
	}
	return httpx.OK(c, slot)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	sid, err := parseID(c, "availability")
	if err != nil {
		return err
	}
	if err := h.checkSlotOwner(c, id, sid); err != nil {
		return err
	}
	if err := h.ledger.DeleteSlot(c.Request().Context(), sid); err != nil {
		return err
	}
	return httpx.OK(c, map[string]string{"id": sid.String()})
}

func (h *Handler) checkSlotOwner(c echo.Context, id auth.Identity, slotID uuid.UUID) error {
	if id.IsAdmin() {
		return nil
	}
	slot, err := h.ledger.GetSlot(c.Request().Context(), slotID)
	if err != nil {
		return err
	}
	if slot.DoctorID != id.UserID {
		return apperr.Newf(apperr.ErrForbidden, "slot %s belongs to another doctor", slotID)
	}
	return nil
}

// -- Appointment Handlers --

func (h *Handler) Initiate(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	var req InitiateRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	appt, err := h.engine.Initiate(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return httpx.Created(c, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := AppointmentFilter{
		Status: Status(c.QueryParam("status")),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	}
	for param, dst := range map[string]**uuid.UUID{"patientId": &f.PatientID, "doctorId": &f.DoctorID} {
		if v := c.QueryParam(param); v != "" {
			u, err := uuid.Parse(v)
			if err != nil {
				return apperr.Newf(apperr.ErrValidation, "invalid %s", param)
			}
			*dst = &u
		}
	}

	items, total, err := h.engine.List(c.Request().Context(), id, f)
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewPage(items, total, pg))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	aid, err := parseID(c, "appointment")
	if err != nil {
		return err
	}
	appt, err := h.engine.Get(c.Request().Context(), id, aid)
	if err != nil {
		return err
	}
	return httpx.OK(c, appt)
}

func (h *Handler) Confirm(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	aid, err := parseID(c, "appointment")
	if err != nil {
		return err
	}
	appt, err := h.engine.Confirm(c.Request().Context(), id, aid)
	if err != nil {
		return err
	}
	return httpx.OK(c, appt)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	aid, err := parseID(c, "appointment")
	if err != nil {
		return err
	}
	var req cancelRequest
	if c.Request().ContentLength != 0 {
		if err := httpx.Bind(c, &req); err != nil {
			return err
		}
	}
	appt, err := h.engine.Cancel(c.Request().Context(), id, aid, req.Reason)
	if err != nil {
		return err
	}
	return httpx.OK(c, appt)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	aid, err := parseID(c, "appointment")
	if err != nil {
		return err
	}
	appt, err := h.engine.Complete(c.Request().Context(), id, aid)
	if err != nil {
		return err
	}
	return httpx.OK(c, appt)
}

func (h *Handler) Join(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	aid, err := parseID(c, "appointment")
	if err != nil {
		return err
	}
	res, err := h.gate.Join(c.Request().Context(), id, aid)
	if err != nil {
		return err
	}
	return httpx.OK(c, res)
}

func parseID(c echo.Context, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.ErrValidation, "invalid %s id", what)
	}
	return id, nil
}

func parseTimeParam(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperr.Newf(apperr.ErrValidation, "%s must be an RFC3339 timestamp", name)
	}
	return &t, nil
}
