package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]*Message, int, error)
	// MarkRead sets read_at once; a second call returns the row unchanged.
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (*Message, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
