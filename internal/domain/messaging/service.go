package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/domain/scheduling"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/websocket"
)

const previewLength = 80

// AppointmentLookup resolves the appointment a conversation belongs to.
type AppointmentLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	GetBySessionID(ctx context.Context, sessionID string) (*scheduling.Appointment, error)
}

// Broadcaster fans an event out to a websocket room.
type Broadcaster interface {
	Broadcast(topic string, event websocket.Event)
}

// Service persists consultation messages and relays them to the room named by
// the appointment's session id. It also implements websocket.RoomService.
type Service struct {
	messages Repository
	appts    AppointmentLookup
	rooms    Broadcaster
	notifier scheduling.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(messages Repository, appts AppointmentLookup, rooms Broadcaster, notifier scheduling.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		messages: messages,
		appts:    appts,
		rooms:    rooms,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

var _ websocket.RoomService = (*Service)(nil)

// Send stores a message from sender to the other participant.
func (s *Service) Send(ctx context.Context, sender auth.Identity, appointmentID uuid.UUID, content string) (*Message, error) {
	appt, err := s.appts.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, sender, appt, content)
}

func (s *Service) send(ctx context.Context, sender auth.Identity, appt *scheduling.Appointment, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, ErrContentTooLong
	}
	receiver, ok := appt.Counterpart(sender.UserID)
	if !ok {
		return nil, ErrNotParticipant
	}
	if err := checkTextSession(appt); err != nil {
		return nil, err
	}

	m := &Message{
		AppointmentID: appt.ID,
		SenderID:      sender.UserID,
		ReceiverID:    receiver,
		Content:       content,
		SentAt:        s.now().UTC(),
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}

	s.rooms.Broadcast(*appt.SessionID, websocket.NewEvent(websocket.EventReceiveMessage, *appt.SessionID, m))
	if s.notifier != nil {
		s.notifier.NotifyTemplate(ctx, receiver, "new-message",
			map[string]string{"preview": preview(content)},
			map[string]string{"appointmentId": appt.ID.String(), "messageId": m.ID.String()})
	}
	s.logger.Debug().
		Str("appointment_id", appt.ID.String()).
		Str("message_id", m.ID.String()).
		Msg("message sent")
	return m, nil
}

// List returns an appointment's messages, oldest first, to its participants
// and admins.
func (s *Service) List(ctx context.Context, caller auth.Identity, appointmentID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	appt, err := s.appts.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, 0, err
	}
	if !caller.IsAdmin() && !appt.IsParticipant(caller.UserID) {
		return nil, 0, ErrNotParticipant
	}
	return s.messages.ListByAppointment(ctx, appointmentID, limit, offset)
}

func (s *Service) MarkRead(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Message, error) {
	m, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.ReceiverID != caller.UserID {
		return nil, ErrNotReceiver
	}
	return s.messages.MarkRead(ctx, id, s.now().UTC())
}

// Get returns a message to its sender, its receiver or an admin.
func (s *Service) Get(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Message, error) {
	m, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && m.SenderID != caller.UserID && m.ReceiverID != caller.UserID {
		return nil, ErrNotVisible
	}
	return m, nil
}

// Delete removes a message. Only its sender may delete it.
func (s *Service) Delete(ctx context.Context, caller auth.Identity, id uuid.UUID) error {
	m, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if m.SenderID != caller.UserID {
		return ErrNotSender
	}
	if err := s.messages.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Debug().
		Str("appointment_id", m.AppointmentID.String()).
		Str("message_id", id.String()).
		Msg("message deleted")
	return nil
}

// CanJoin admits the patient and doctor of a confirmed TEXT consultation to
// its room.
func (s *Service) CanJoin(ctx context.Context, caller auth.Identity, room string) error {
	appt, err := s.appts.GetBySessionID(ctx, room)
	if err != nil {
		return err
	}
	if !appt.IsParticipant(caller.UserID) {
		return ErrNotParticipant
	}
	return checkTextSession(appt)
}

// SendToRoom persists and broadcasts a message sent over the websocket.
func (s *Service) SendToRoom(ctx context.Context, caller auth.Identity, room, content string) error {
	appt, err := s.appts.GetBySessionID(ctx, room)
	if err != nil {
		return err
	}
	_, err = s.send(ctx, caller, appt, content)
	return err
}

func checkTextSession(appt *scheduling.Appointment) error {
	if appt.Type != scheduling.TypeVirtual || appt.Consultation() != scheduling.ConsultationText || appt.SessionID == nil {
		return fmt.Errorf("appointment %s: %w", appt.ID, ErrNotTextSession)
	}
	if appt.Status != scheduling.StatusConfirmed {
		return fmt.Errorf("appointment %s is %s: %w", appt.ID, appt.Status, ErrNotConfirmed)
	}
	return nil
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	r := []rune(content)
	return string(r[:previewLength]) + "…"
}
