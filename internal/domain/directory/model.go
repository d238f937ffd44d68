package directory

import (
	"time"

	"github.com/google/uuid"

	"github.com/telehealth/telehealth/internal/platform/apperr"
	"github.com/telehealth/telehealth/internal/platform/auth"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Phone        *string   `json:"phone,omitempty"`
	Role         auth.Role `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// Doctor is a doctor profile joined with its user account.
type Doctor struct {
	ID         uuid.UUID  `json:"id"`
	Specialty  string     `json:"specialty"`
	HospitalID *uuid.UUID `json:"hospitalId,omitempty"`
	Bio        *string    `json:"bio,omitempty"`
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	Email      string     `json:"email"`
	Phone      *string    `json:"phone,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type Hospital struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	Phone        *string   `json:"phone,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Services     []string  `json:"services"`
	ContactEmail *string   `json:"contactEmail,omitempty"`
	Rating       *float64  `json:"rating,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type UserFilter struct {
	Role   auth.Role
	Limit  int
	Offset int
}

type DoctorFilter struct {
	Specialty  string
	HospitalID *uuid.UUID
	Limit      int
	Offset     int
}

// HospitalFilter matches Search against the name (substring) or an exact
// service.
type HospitalFilter struct {
	Search  string
	Service string
	Limit   int
	Offset  int
}

// UserDependents counts the open records that block deleting an account.
type UserDependents struct {
	ActiveAppointments int
	PendingPayments    int
}

// DoctorDependents counts the open records that block deleting a doctor.
type DoctorDependents struct {
	ActiveAppointments int
	AvailableSlots     int
}

var (
	ErrUserNotFound     = apperr.New(apperr.ErrNotFound, "user not found")
	ErrDoctorNotFound   = apperr.New(apperr.ErrNotFound, "doctor not found")
	ErrHospitalNotFound = apperr.New(apperr.ErrNotFound, "hospital not found")

	ErrEmailTaken         = apperr.New(apperr.ErrConflict, "email is already registered")
	ErrInvalidCredentials = apperr.New(apperr.ErrValidation, "invalid email or password")
	ErrWeakPassword       = apperr.New(apperr.ErrValidation, "password must be at least 8 characters")
	ErrInvalidRating      = apperr.New(apperr.ErrValidation, "rating must be between 0 and 5")
	ErrBlankName          = apperr.New(apperr.ErrValidation, "first and last name must not be blank")
	ErrDoctorRole         = apperr.New(apperr.ErrValidation, "doctor accounts are managed through the doctor endpoints")

	ErrNotAccountOwner = apperr.New(apperr.ErrForbidden, "you can only access your own account")
	ErrRoleChange      = apperr.New(apperr.ErrForbidden, "only admins can change roles")

	ErrUserActive            = apperr.New(apperr.ErrConflict, "cannot delete user with pending or confirmed appointments or pending payments")
	ErrUserHasHistory        = apperr.New(apperr.ErrConflict, "user is referenced by appointment, message or payment records")
	ErrDoctorHasAppointments = apperr.New(apperr.ErrConflict, "cannot delete doctor with pending or confirmed appointments")
	ErrDoctorHasSlots        = apperr.New(apperr.ErrConflict, "cannot delete doctor with available slots")
	ErrDoctorHasHistory      = apperr.New(apperr.ErrConflict, "doctor is referenced by past appointments")
)
