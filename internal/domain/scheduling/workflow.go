package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/events"
)

// Transactor runs fn inside a database transaction carried by ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier delivers templated notifications to a user.
type Notifier interface {
	NotifyTemplate(ctx context.Context, recipientID uuid.UUID, templateID string, data, metadata map[string]string)
}

// EventEmitter publishes domain events after commit.
type EventEmitter interface {
	Emit(ctx context.Context, typ, aggregateID string, data interface{})
}

type WorkflowConfig struct {
	CancellationWindow time.Duration
	DefaultDuration    int // minutes
}

// Deps are the collaborators of the workflow engine.
type Deps struct {
	Tx       Transactor
	Ledger   *Ledger
	Appts    AppointmentRepository
	Doctors  DoctorLookup
	Policy   Policy
	Notifier Notifier
	Events   EventEmitter
	Logger   zerolog.Logger
	Now      func() time.Time
	Config   WorkflowConfig
}

// Engine drives the appointment lifecycle PENDING -> CONFIRMED -> COMPLETED,
// with CANCELLED reachable from both active states.
type Engine struct {
	tx       Transactor
	ledger   *Ledger
	appts    AppointmentRepository
	doctors  DoctorLookup
	policy   Policy
	notifier Notifier
	events   EventEmitter
	logger   zerolog.Logger
	now      func() time.Time
	cfg      WorkflowConfig
}

func NewEngine(d Deps) *Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Config.CancellationWindow <= 0 {
		d.Config.CancellationWindow = 24 * time.Hour
	}
	if d.Config.DefaultDuration <= 0 {
		d.Config.DefaultDuration = 30
	}
	return &Engine{
		tx:       d.Tx,
		ledger:   d.Ledger,
		appts:    d.Appts,
		doctors:  d.Doctors,
		policy:   d.Policy,
		notifier: d.Notifier,
		events:   d.Events,
		logger:   d.Logger,
		now:      d.Now,
		cfg:      d.Config,
	}
}

type InitiateRequest struct {
	DoctorID         uuid.UUID         `json:"doctorId" validate:"required"`
	AvailabilityID   uuid.UUID         `json:"availabilityId" validate:"required"`
	Type             AppointmentType   `json:"type" validate:"required,oneof=IN_PERSON VIRTUAL"`
	ConsultationType *ConsultationType `json:"consultationType,omitempty"`
	Duration         *int              `json:"duration,omitempty"`
}

func (r InitiateRequest) validate() error {
	if r.DoctorID == uuid.Nil || r.AvailabilityID == uuid.Nil {
		return fmt.Errorf("doctorId and availabilityId are required: %w", ErrInvalidRequest)
	}
	switch r.Type {
	case TypeVirtual:
		if r.ConsultationType == nil || !r.ConsultationType.Valid() {
			return fmt.Errorf("virtual appointments need consultationType VIDEO, AUDIO or TEXT: %w", ErrInvalidRequest)
		}
		if r.Duration != nil && *r.Duration <= 0 {
			return fmt.Errorf("duration must be positive minutes: %w", ErrInvalidRequest)
		}
	case TypeInPerson:
		// duration is ignored for in-person visits
	default:
		return fmt.Errorf("unknown appointment type %q: %w", r.Type, ErrInvalidRequest)
	}
	return nil
}

// Initiate books availabilityID for the calling patient. The slot reservation
// and the appointment insert commit together or not at all.
func (e *Engine) Initiate(ctx context.Context, actor auth.Identity, req InitiateRequest) (*Appointment, error) {
	if err := e.policy.CanInitiate(actor); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.DoctorID == actor.UserID {
		return nil, ErrSelfBooking
	}
	exists, err := e.doctors.DoctorExists(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("doctor %s: %w", req.DoctorID, ErrDoctorNotFound)
	}

	var appt *Appointment
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		slot, err := e.ledger.Reserve(ctx, req.AvailabilityID, req.DoctorID)
		if err != nil {
			return err
		}
		appt = &Appointment{
			PatientID:      actor.UserID,
			DoctorID:       req.DoctorID,
			AvailabilityID: slot.ID,
			ScheduledAt:    slot.StartTime,
			Type:           req.Type,
			Status:         StatusPending,
		}
		if req.Type == TypeVirtual {
			ct := *req.ConsultationType
			dur := e.cfg.DefaultDuration
			if req.Duration != nil {
				dur = *req.Duration
			}
			sid := uuid.NewString()
			appt.ConsultationType = &ct
			appt.Duration = &dur
			appt.SessionID = &sid
		}
		return e.appts.Create(ctx, appt)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("availability_id", appt.AvailabilityID.String()).
		Str("type", string(appt.Type)).
		Msg("appointment initiated")
	e.announce(ctx, appt, events.AppointmentInitiated, "appointment-initiated", nil)
	return appt, nil
}

func (e *Engine) Confirm(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Appointment, error) {
	appt, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.policy.Authorize(ActionConfirm, actor, appt); err != nil {
		return nil, err
	}
	if appt.Status != StatusPending {
		return nil, e.transitionError(appt, StatusPending)
	}

	updated, err := e.appts.Transition(ctx, id, StatusChange{
		From: StatusPending,
		To:   StatusConfirmed,
		At:   e.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("appointment_id", id.String()).Msg("appointment confirmed")
	e.announce(ctx, updated, events.AppointmentConfirmed, "appointment-confirmed", nil)
	return updated, nil
}

// Cancel moves an active appointment to CANCELLED and frees its slot. The
// cut-off is CancellationWindow before the scheduled start.
func (e *Engine) Cancel(ctx context.Context, actor auth.Identity, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.policy.Authorize(ActionCancel, actor, appt); err != nil {
		return nil, err
	}
	if !appt.Status.Active() {
		return nil, e.transitionError(appt, StatusPending, StatusConfirmed)
	}
	now := e.now().UTC()
	if now.After(appt.ScheduledAt.Add(-e.cfg.CancellationWindow)) {
		return nil, fmt.Errorf("%w %s before appointment", ErrCancellationClosed, formatWindow(e.cfg.CancellationWindow))
	}

	ch := StatusChange{
		From:        appt.Status,
		To:          StatusCancelled,
		CancelledAt: &now,
		At:          now,
	}
	if reason != "" {
		ch.CancellationReason = &reason
	}
	var updated *Appointment
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = e.appts.Transition(ctx, id, ch)
		if err != nil {
			return err
		}
		return e.ledger.Release(ctx, updated.AvailabilityID)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().Str("appointment_id", id.String()).Msg("appointment cancelled")
	e.announce(ctx, updated, events.AppointmentCancelled, "appointment-cancelled", map[string]string{"reason": reason})
	return updated, nil
}

// Complete closes a CONFIRMED appointment once its start time has passed.
func (e *Engine) Complete(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Appointment, error) {
	appt, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.policy.Authorize(ActionComplete, actor, appt); err != nil {
		return nil, err
	}
	if appt.Status != StatusConfirmed {
		return nil, e.transitionError(appt, StatusConfirmed)
	}
	now := e.now().UTC()
	if now.Before(appt.ScheduledAt) {
		return nil, fmt.Errorf("appointment %s starts at %s: %w", appt.ID, appt.ScheduledAt.Format(time.RFC3339), ErrNotStarted)
	}

	updated, err := e.appts.Transition(ctx, id, StatusChange{
		From: StatusConfirmed,
		To:   StatusCompleted,
		At:   now,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("appointment_id", id.String()).Msg("appointment completed")
	e.announce(ctx, updated, events.AppointmentCompleted, "appointment-completed", nil)
	return updated, nil
}

// Get returns an appointment visible to actor: its participants and admins.
func (e *Engine) Get(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Appointment, error) {
	appt, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !appt.IsParticipant(actor.UserID) {
		return nil, ErrForbidden
	}
	return appt, nil
}

// List returns appointments visible to actor. Non-admins only ever see their
// own.
func (e *Engine) List(ctx context.Context, actor auth.Identity, f AppointmentFilter) ([]*Appointment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("unknown status %q: %w", f.Status, ErrInvalidRequest)
	}
	if !actor.IsAdmin() {
		uid := actor.UserID
		f.ParticipantID = &uid
	}
	return e.appts.List(ctx, f)
}

func (e *Engine) load(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return e.appts.GetByID(ctx, id)
}

func (e *Engine) transitionError(appt *Appointment, expected ...Status) error {
	want := string(expected[0])
	for _, s := range expected[1:] {
		want += " or " + string(s)
	}
	return fmt.Errorf("appointment %s is %s, expected %s: %w", appt.ID, appt.Status, want, ErrInvalidTransition)
}

// announce notifies both participants and emits the lifecycle event. Neither
// can fail the committed operation.
func (e *Engine) announce(ctx context.Context, appt *Appointment, eventType, templateID string, extra map[string]string) {
	data := map[string]string{
		"date":   appt.ScheduledAt.UTC().Format("2006-01-02"),
		"time":   appt.ScheduledAt.UTC().Format("15:04 MST"),
		"reason": "",
	}
	for k, v := range extra {
		data[k] = v
	}
	md := map[string]string{
		"appointmentId": appt.ID.String(),
		"status":        string(appt.Status),
	}
	if e.notifier != nil {
		e.notifier.NotifyTemplate(ctx, appt.PatientID, templateID, data, md)
		e.notifier.NotifyTemplate(ctx, appt.DoctorID, templateID, data, md)
	}
	if e.events != nil {
		e.events.Emit(ctx, eventType, appt.ID.String(), appt)
	}
}

func formatWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}
