package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/media"
)

const inPersonMessage = "In-person appointment. No virtual session required."

// JoinResult is what a participant needs to enter the session. Exactly one of
// Message, SessionID (TEXT) or Media (VIDEO/AUDIO) is populated.
type JoinResult struct {
	AppointmentID    uuid.UUID        `json:"appointmentId"`
	Type             AppointmentType  `json:"type"`
	ConsultationType ConsultationType `json:"consultationType,omitempty"`
	Message          string           `json:"message,omitempty"`
	SessionID        string           `json:"sessionId,omitempty"`
	Media            *media.Token     `json:"media,omitempty"`
	WindowEndsAt     time.Time        `json:"windowEndsAt"`
}

// Gate decides whether a confirmed appointment may be joined now. It never
// writes.
type Gate struct {
	appts           AppointmentRepository
	provider        media.Provider
	tokenTTL        time.Duration
	defaultDuration time.Duration
	now             func() time.Time
}

// NewGate builds a Gate. provider may be nil when media credentials are not
// configured; VIDEO and AUDIO joins then fail with a configuration error.
func NewGate(appts AppointmentRepository, provider media.Provider, tokenTTL, defaultDuration time.Duration, now func() time.Time) *Gate {
	if tokenTTL <= 0 {
		tokenTTL = media.DefaultTTL
	}
	if defaultDuration <= 0 {
		defaultDuration = 30 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{
		appts:           appts,
		provider:        provider,
		tokenTTL:        tokenTTL,
		defaultDuration: defaultDuration,
		now:             now,
	}
}

func (g *Gate) Join(ctx context.Context, actor auth.Identity, id uuid.UUID) (*JoinResult, error) {
	appt, err := g.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !appt.IsParticipant(actor.UserID) {
		return nil, ErrForbidden
	}
	if appt.Status != StatusConfirmed {
		return nil, fmt.Errorf("appointment %s is %s, expected %s: %w", appt.ID, appt.Status, StatusConfirmed, ErrInvalidTransition)
	}

	now := g.now()
	end := appt.ScheduledAt.Add(appt.SessionLength(g.defaultDuration))
	if now.Before(appt.ScheduledAt) {
		return nil, fmt.Errorf("appointment %s starts at %s: %w", appt.ID, appt.ScheduledAt.UTC().Format(time.RFC3339), ErrNotStarted)
	}
	if now.After(end) {
		return nil, fmt.Errorf("appointment %s window ended at %s: %w", appt.ID, end.UTC().Format(time.RFC3339), ErrWindowExpired)
	}

	res := &JoinResult{
		AppointmentID:    appt.ID,
		Type:             appt.Type,
		ConsultationType: appt.Consultation(),
		WindowEndsAt:     end.UTC(),
	}
	if appt.Type == TypeInPerson {
		res.Message = inPersonMessage
		return res, nil
	}
	if appt.SessionID == nil {
		return nil, fmt.Errorf("virtual appointment %s has no session id", appt.ID)
	}

	switch appt.Consultation() {
	case ConsultationText:
		res.SessionID = *appt.SessionID
	case ConsultationVideo, ConsultationAudio:
		if g.provider == nil {
			return nil, media.ErrNotConfigured
		}
		role := media.RolePublisher
		if !appt.IsParticipant(actor.UserID) {
			role = media.RoleSubscriber
		}
		tok, err := g.provider.MintToken(*appt.SessionID, actor.UserID, role, g.tokenTTL)
		if err != nil {
			return nil, err
		}
		res.SessionID = *appt.SessionID
		res.Media = tok
	default:
		return nil, fmt.Errorf("appointment %s has consultation type %q: %w", appt.ID, appt.Consultation(), ErrInvalidRequest)
	}
	return res, nil
}
