package scheduling

import "github.com/telehealth/telehealth/internal/platform/apperr"

var (
	ErrSlotNotFound        = apperr.New(apperr.ErrNotFound, "availability slot not found")
	ErrAppointmentNotFound = apperr.New(apperr.ErrNotFound, "appointment not found")
	ErrDoctorNotFound      = apperr.New(apperr.ErrNotFound, "doctor not found")

	ErrInvalidRange   = apperr.New(apperr.ErrValidation, "start time must be before end time")
	ErrSlotNotFuture  = apperr.New(apperr.ErrValidation, "slot must start in the future")
	ErrSelfBooking    = apperr.New(apperr.ErrValidation, "doctors cannot book appointments with themselves")
	ErrInvalidRequest = apperr.New(apperr.ErrValidation, "invalid appointment request")

	ErrOverlap            = apperr.New(apperr.ErrConflict, "slot overlaps an existing slot")
	ErrLinked             = apperr.New(apperr.ErrConflict, "slot is referenced by an appointment")
	ErrSlotUnavailable    = apperr.New(apperr.ErrConflict, "slot is not available")
	ErrSlotDoctorMismatch = apperr.New(apperr.ErrConflict, "slot belongs to a different doctor")
	ErrStaleStatus        = apperr.New(apperr.ErrConflict, "status changed concurrently")

	ErrSlotStarted        = apperr.New(apperr.ErrInvalidState, "slot has already started")
	ErrSlotBooked         = apperr.New(apperr.ErrInvalidState, "booked slots cannot be modified")
	ErrInvalidTransition  = apperr.New(apperr.ErrInvalidState, "invalid status transition")
	ErrCancellationClosed = apperr.New(apperr.ErrInvalidState, "cancellation window closed")
	ErrNotStarted         = apperr.New(apperr.ErrInvalidState, "session has not started yet")
	ErrWindowExpired      = apperr.New(apperr.ErrInvalidState, "session window has expired")

	ErrForbidden = apperr.New(apperr.ErrForbidden, "not allowed to access this appointment")
)
