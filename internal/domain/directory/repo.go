package directory

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, f UserFilter) ([]*User, int, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id uuid.UUID) error
	Dependents(ctx context.Context, id uuid.UUID) (UserDependents, error)
}

type DoctorRepository interface {
	// Create inserts the profile row; the user row must already exist.
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	List(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error)
	// Update writes the profile and the name and phone on its user row.
	Update(ctx context.Context, d *Doctor) error
	// Delete removes the doctor's account, cascading to profile and slots.
	Delete(ctx context.Context, id uuid.UUID) error
	Dependents(ctx context.Context, id uuid.UUID) (DoctorDependents, error)
}

type HospitalRepository interface {
	Create(ctx context.Context, h *Hospital) error
	GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error)
	Update(ctx context.Context, h *Hospital) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f HospitalFilter) ([]*Hospital, int, error)
}
