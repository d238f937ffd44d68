package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SlotRepository interface {
	Create(ctx context.Context, a *Availability) error
	GetByID(ctx context.Context, id uuid.UUID) (*Availability, error)
	UpdateTimes(ctx context.Context, id uuid.UUID, start, end time.Time) (*Availability, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// FindOverlapping returns the doctor's slots intersecting [start, end),
	// ignoring excludeID.
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]*Availability, error)
	// CompareAndSetStatus flips status from -> to and reports whether a row
	// matched.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to SlotStatus) (bool, error)
	SetStatus(ctx context.Context, id uuid.UUID, status SlotStatus) error
	List(ctx context.Context, f SlotFilter) ([]*Availability, int, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Appointment, error)
	// Transition applies ch only while the row is still in ch.From and
	// returns the updated row. ErrStaleStatus when nothing matched.
	Transition(ctx context.Context, id uuid.UUID, ch StatusChange) (*Appointment, error)
	CountBySlot(ctx context.Context, availabilityID uuid.UUID) (int, error)
	List(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error)
	ListStartingBetween(ctx context.Context, status Status, from, to time.Time) ([]*Appointment, error)
}

// DoctorLookup answers whether a doctor profile exists.
type DoctorLookup interface {
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
}
