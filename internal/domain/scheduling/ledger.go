package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger owns availability slots and their AVAILABLE/BOOKED state. A slot is
// BOOKED exactly while an active appointment references it.
type Ledger struct {
	slots   SlotRepository
	appts   AppointmentRepository
	doctors DoctorLookup
	now     func() time.Time
}

func NewLedger(slots SlotRepository, appts AppointmentRepository, doctors DoctorLookup, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{slots: slots, appts: appts, doctors: doctors, now: now}
}

// Reserve books the slot for doctorID. It must run inside the caller's
// transaction; the conditional status update is the only guard against a
// concurrent booking.
func (l *Ledger) Reserve(ctx context.Context, availabilityID, doctorID uuid.UUID) (*Availability, error) {
	slot, err := l.slots.GetByID(ctx, availabilityID)
	if err != nil {
		return nil, err
	}
	if slot.DoctorID != doctorID {
		return nil, fmt.Errorf("slot %s belongs to doctor %s, not %s: %w", slot.ID, slot.DoctorID, doctorID, ErrSlotDoctorMismatch)
	}
	if slot.Status != SlotAvailable {
		return nil, fmt.Errorf("slot %s is %s, expected %s: %w", slot.ID, slot.Status, SlotAvailable, ErrSlotUnavailable)
	}
	if !slot.StartTime.After(l.now()) {
		return nil, fmt.Errorf("slot %s started at %s: %w", slot.ID, slot.StartTime.Format(time.RFC3339), ErrSlotStarted)
	}

	ok, err := l.slots.CompareAndSetStatus(ctx, slot.ID, SlotAvailable, SlotBooked)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("slot %s was booked concurrently: %w", slot.ID, ErrSlotUnavailable)
	}
	slot.Status = SlotBooked
	return slot, nil
}

// Release makes the slot bookable again. Releasing an AVAILABLE slot is a
// no-op.
func (l *Ledger) Release(ctx context.Context, availabilityID uuid.UUID) error {
	slot, err := l.slots.GetByID(ctx, availabilityID)
	if err != nil {
		return err
	}
	if slot.Status == SlotAvailable {
		return nil
	}
	return l.slots.SetStatus(ctx, availabilityID, SlotAvailable)
}

func (l *Ledger) CreateSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Availability, error) {
	if !start.Before(end) {
		return nil, ErrInvalidRange
	}
	if !start.After(l.now()) {
		return nil, ErrSlotNotFuture
	}
	exists, err := l.doctors.DoctorExists(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("doctor %s: %w", doctorID, ErrDoctorNotFound)
	}
	if err := l.checkOverlap(ctx, doctorID, start, end, uuid.Nil); err != nil {
		return nil, err
	}

	slot := &Availability{
		DoctorID:  doctorID,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		Status:    SlotAvailable,
	}
	if err := l.slots.Create(ctx, slot); err != nil {
		return nil, err
	}
	return slot, nil
}

// UpdateSlot moves an AVAILABLE slot to a new interval.
func (l *Ledger) UpdateSlot(ctx context.Context, id uuid.UUID, start, end time.Time) (*Availability, error) {
	if !start.Before(end) {
		return nil, ErrInvalidRange
	}
	if !start.After(l.now()) {
		return nil, ErrSlotNotFuture
	}
	slot, err := l.slots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot.Status != SlotAvailable {
		return nil, fmt.Errorf("slot %s is %s: %w", slot.ID, slot.Status, ErrSlotBooked)
	}
	if err := l.checkOverlap(ctx, slot.DoctorID, start, end, slot.ID); err != nil {
		return nil, err
	}
	return l.slots.UpdateTimes(ctx, id, start.UTC(), end.UTC())
}

func (l *Ledger) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	if _, err := l.slots.GetByID(ctx, id); err != nil {
		return err
	}
	n, err := l.appts.CountBySlot(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("slot %s has %d appointment(s): %w", id, n, ErrLinked)
	}
	return l.slots.Delete(ctx, id)
}

func (l *Ledger) GetSlot(ctx context.Context, id uuid.UUID) (*Availability, error) {
	return l.slots.GetByID(ctx, id)
}

func (l *Ledger) ListSlots(ctx context.Context, f SlotFilter) ([]*Availability, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("unknown slot status %q: %w", f.Status, ErrInvalidRequest)
	}
	return l.slots.List(ctx, f)
}

func (l *Ledger) checkOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) error {
	clashes, err := l.slots.FindOverlapping(ctx, doctorID, start, end, excludeID)
	if err != nil {
		return err
	}
	if len(clashes) > 0 {
		c := clashes[0]
		return fmt.Errorf("[%s, %s) overlaps slot %s [%s, %s): %w",
			start.Format(time.RFC3339), end.Format(time.RFC3339),
			c.ID, c.StartTime.Format(time.RFC3339), c.EndTime.Format(time.RFC3339), ErrOverlap)
	}
	return nil
}
