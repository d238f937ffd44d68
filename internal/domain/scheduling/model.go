package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotBooked    SlotStatus = "BOOKED"
)

func (s SlotStatus) Valid() bool {
	return s == SlotAvailable || s == SlotBooked
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Active reports whether an appointment in this status holds its slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

type AppointmentType string

const (
	TypeInPerson AppointmentType = "IN_PERSON"
	TypeVirtual  AppointmentType = "VIRTUAL"
)

type ConsultationType string

const (
	ConsultationVideo ConsultationType = "VIDEO"
	ConsultationAudio ConsultationType = "AUDIO"
	ConsultationText  ConsultationType = "TEXT"
)

func (c ConsultationType) Valid() bool {
	return c == ConsultationVideo || c == ConsultationAudio || c == ConsultationText
}

// Availability is a bookable interval [StartTime, EndTime) declared by a
// doctor.
type Availability struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctorId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   time.Time  `json:"endTime"`
	Status    SlotStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Overlaps applies the half-open interval test.
func (a *Availability) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}

type Appointment struct {
	ID                 uuid.UUID         `json:"id"`
	PatientID          uuid.UUID         `json:"patientId"`
	DoctorID           uuid.UUID         `json:"doctorId"`
	AvailabilityID     uuid.UUID         `json:"availabilityId"`
	ScheduledAt        time.Time         `json:"scheduledAt"`
	Type               AppointmentType   `json:"type"`
	ConsultationType   *ConsultationType `json:"consultationType,omitempty"`
	Duration           *int              `json:"duration,omitempty"`
	Status             Status            `json:"status"`
	SessionID          *string           `json:"sessionId,omitempty"`
	CancellationReason *string           `json:"cancellationReason,omitempty"`
	CancelledAt        *time.Time        `json:"cancelledAt,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// IsParticipant reports whether userID is the patient or the doctor.
func (a *Appointment) IsParticipant(userID uuid.UUID) bool {
	return a.PatientID == userID || a.DoctorID == userID
}

// Counterpart returns the other participant, or false when userID is not a
// participant.
func (a *Appointment) Counterpart(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case a.PatientID:
		return a.DoctorID, true
	case a.DoctorID:
		return a.PatientID, true
	}
	return uuid.Nil, false
}

// SessionLength returns the joinable window length, falling back to def
// when no duration is stored.
func (a *Appointment) SessionLength(def time.Duration) time.Duration {
	if a.Duration != nil && *a.Duration > 0 {
		return time.Duration(*a.Duration) * time.Minute
	}
	return def
}

// Consultation returns the consultation type or "" for in-person visits.
func (a *Appointment) Consultation() ConsultationType {
	if a.ConsultationType == nil {
		return ""
	}
	return *a.ConsultationType
}

// SlotFilter narrows ListSlots.
type SlotFilter struct {
	DoctorID *uuid.UUID
	From     *time.Time
	To       *time.Time
	Status   SlotStatus
	Limit    int
	Offset   int
}

// AppointmentFilter narrows List. ParticipantID restricts results to
// appointments where that user is patient or doctor.
type AppointmentFilter struct {
	PatientID     *uuid.UUID
	DoctorID      *uuid.UUID
	ParticipantID *uuid.UUID
	Status        Status
	Limit         int
	Offset        int
}

// StatusChange describes a guarded status transition.
type StatusChange struct {
	From               Status
	To                 Status
	CancellationReason *string
	CancelledAt        *time.Time
	At                 time.Time
}
