package messaging

import (
	"time"

	"github.com/google/uuid"

	"github.com/telehealth/telehealth/internal/platform/apperr"
)

const MaxContentLength = 1000

// Message is one chat line in a TEXT consultation. Only ReadAt changes after
// creation.
type Message struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointmentId"`
	SenderID      uuid.UUID  `json:"senderId"`
	ReceiverID    uuid.UUID  `json:"receiverId"`
	Content       string     `json:"content"`
	SentAt        time.Time  `json:"sentAt"`
	ReadAt        *time.Time `json:"readAt,omitempty"`
}

var (
	ErrMessageNotFound = apperr.New(apperr.ErrNotFound, "message not found")
	ErrEmptyContent    = apperr.New(apperr.ErrValidation, "message content is required")
	ErrContentTooLong  = apperr.Newf(apperr.ErrValidation, "message content exceeds %d characters", MaxContentLength)
	ErrNotParticipant  = apperr.New(apperr.ErrForbidden, "only the appointment's patient and doctor can message")
	ErrNotReceiver     = apperr.New(apperr.ErrForbidden, "only the receiver can mark a message as read")
	ErrNotSender       = apperr.New(apperr.ErrForbidden, "only the sender can delete a message")
	ErrNotVisible      = apperr.New(apperr.ErrForbidden, "you can only view messages you sent or received")
	ErrNotTextSession  = apperr.New(apperr.ErrInvalidState, "messaging is only available for virtual TEXT consultations")
	ErrNotConfirmed    = apperr.New(apperr.ErrInvalidState, "messaging requires a confirmed appointment")
)
