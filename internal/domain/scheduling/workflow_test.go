package scheduling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telehealth/telehealth/internal/platform/apperr"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/events"
)

func TestEngine_Initiate_Virtual(t *testing.T) {
	f := newFixture()
	slot := f.slotAt(at(9, 0), at(10, 0))

	appt, err := f.engine.Initiate(context.Background(), f.patient, f.virtualRequest(slot, ConsultationVideo))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if appt.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", appt.Status)
	}
	if !appt.ScheduledAt.Equal(slot.StartTime) {
		t.Errorf("expected scheduledAt %s, got %s", slot.StartTime, appt.ScheduledAt)
	}
	if appt.SessionID == nil || *appt.SessionID == "" {
		t.Error("expected a session id for a virtual appointment")
	}
	if appt.Duration == nil || *appt.Duration != 30 {
		t.Errorf("expected default duration 30, got %v", appt.Duration)
	}
	if f.slotStatus(slot.ID) != SlotBooked {
		t.Error("expected slot to be BOOKED")
	}
	if got := f.notifier.byTemplate("appointment-initiated"); len(got) != 2 {
		t.Errorf("expected 2 initiated notifications, got %d", len(got))
	}
	if types := f.emitter.Types(); len(types) != 1 || types[0] != events.AppointmentInitiated {
		t.Errorf("expected appointment.initiated event, got %v", types)
	}
}

func TestEngine_Initiate_InPersonDropsVirtualFields(t *testing.T) {
	f := newFixture()
	slot := f.slotAt(at(9, 0), at(10, 0))
	dur := 45

	appt, err := f.engine.Initiate(context.Background(), f.patient, InitiateRequest{
		DoctorID:         f.doctor.UserID,
		AvailabilityID:   slot.ID,
		Type:             TypeInPerson,
		ConsultationType: consultation(ConsultationVideo),
		Duration:         &dur,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if appt.SessionID != nil || appt.ConsultationType != nil || appt.Duration != nil {
		t.Errorf("expected in-person appointment without session fields, got %+v", appt)
	}
}

func TestEngine_Initiate_Validation(t *testing.T) {
	f := newFixture()
	slot := f.slotAt(at(9, 0), at(10, 0))
	zero := 0

	tests := []struct {
		name  string
		actor auth.Identity
		req   InitiateRequest
		want  error
	}{
		{
			name:  "virtual without consultation type",
			actor: f.patient,
			req:   InitiateRequest{DoctorID: f.doctor.UserID, AvailabilityID: slot.ID, Type: TypeVirtual},
			want:  apperr.ErrValidation,
		},
		{
			name:  "unknown type",
			actor: f.patient,
			req:   InitiateRequest{DoctorID: f.doctor.UserID, AvailabilityID: slot.ID, Type: "HOME_VISIT"},
			want:  apperr.ErrValidation,
		},
		{
			name:  "non-positive duration",
			actor: f.patient,
			req: InitiateRequest{DoctorID: f.doctor.UserID, AvailabilityID: slot.ID, Type: TypeVirtual,
				ConsultationType: consultation(ConsultationText), Duration: &zero},
			want: apperr.ErrValidation,
		},
		{
			name:  "unknown doctor",
			actor: f.patient,
			req:   InitiateRequest{DoctorID: uuid.New(), AvailabilityID: slot.ID, Type: TypeInPerson},
			want:  ErrDoctorNotFound,
		},
		{
			name:  "unknown slot",
			actor: f.patient,
			req:   InitiateRequest{DoctorID: f.doctor.UserID, AvailabilityID: uuid.New(), Type: TypeInPerson},
			want:  ErrSlotNotFound,
		},
		{
			name:  "doctor role may not initiate",
			actor: f.doctor,
			req:   InitiateRequest{DoctorID: f.doctor.UserID, AvailabilityID: slot.ID, Type: TypeInPerson},
			want:  apperr.ErrForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Initiate(context.Background(), tt.actor, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if f.slotStatus(slot.ID) != SlotAvailable {
		t.Error("rejected requests must leave the slot AVAILABLE")
	}
}

func TestEngine_Initiate_InPersonIgnoresDuration(t *testing.T) {
	f := newFixture()
	slot := f.slotAt(at(9, 0), at(10, 0))
	zero := 0

	appt, err := f.engine.Initiate(context.Background(), f.patient, InitiateRequest{
		DoctorID:       f.doctor.UserID,
		AvailabilityID: slot.ID,
		Type:           TypeInPerson,
		Duration:       &zero,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if appt.Duration != nil {
		t.Errorf("expected no duration on an in-person appointment, got %d", *appt.Duration)
	}
}

func TestEngine_Initiate_SelfBooking(t *testing.T) {
	f := newFixture()
	slot := f.slotAt(at(9, 0), at(10, 0))
	policy, err := NewPolicy([]string{"PATIENT", "DOCTOR"}, []string{"DOCTOR"}, []string{"PATIENT"}, []string{"DOCTOR"})
	if err != nil {
		t.Fatal(err)
	}
	f.engine.policy = policy

	_, err = f.engine.Initiate(context.Background(), f.doctor, InitiateRequest{
		DoctorID: f.doctor.UserID, AvailabilityID: slot.ID, Type: TypeInPerson,
	})
	if !errors.Is(err, ErrSelfBooking) {
		t.Errorf("expected ErrSelfBooking, got %v", err)
	}
}

func TestEngine_Initiate_ConcurrentOneWins(t *testing.T) {
	f := newFixture()
	slot := f.slotAt(at(9, 0), at(10, 0))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patient := auth.Identity{UserID: uuid.New(), Role: auth.RolePatient}
			_, errs[i] = f.engine.Initiate(context.Background(), patient, f.virtualRequest(slot, ConsultationText))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, apperr.ErrConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	n2, _ := f.appts.CountBySlot(context.Background(), slot.ID)
	if n2 != 1 {
		t.Errorf("expected one appointment on the slot, got %d", n2)
	}
}

func TestEngine_Initiate_RollsBackWhenInsertFails(t *testing.T) {
	f := newFixture()
	slot := f.slotAt(at(9, 0), at(10, 0))
	// An orphan active appointment makes the insert fail after the reservation.
	f.store.appts[uuid.New()] = Appointment{AvailabilityID: slot.ID, Status: StatusPending}

	_, err := f.engine.Initiate(context.Background(), f.patient, f.virtualRequest(slot, ConsultationText))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if f.slotStatus(slot.ID) != SlotAvailable {
		t.Error("reservation must roll back with the failed insert")
	}
}

func TestEngine_CancelThenRebook(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	slot := f.slotAt(at(9, 0), at(10, 0))

	appt, err := f.engine.Initiate(ctx, f.patient, f.virtualRequest(slot, ConsultationText))
	if err != nil {
		t.Fatal(err)
	}
	cancelled, err := f.engine.Cancel(ctx, f.patient, appt.ID, "feeling better")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}
	if cancelled.CancellationReason == nil || *cancelled.CancellationReason != "feeling better" {
		t.Errorf("expected reason to be stored, got %v", cancelled.CancellationReason)
	}
	if cancelled.CancelledAt == nil {
		t.Error("expected cancelledAt to be set")
	}
	if f.slotStatus(slot.ID) != SlotAvailable {
		t.Error("expected slot released")
	}

	other := auth.Identity{UserID: uuid.New(), Role: auth.RolePatient}
	if _, err := f.engine.Initiate(ctx, other, f.virtualRequest(slot, ConsultationText)); err != nil {
		t.Fatalf("rebook: %v", err)
	}
	sent := f.notifier.byTemplate("appointment-cancelled")
	if len(sent) != 2 || sent[0].Data["reason"] != "feeling better" {
		t.Errorf("expected cancellation notifications with the bare reason, got %+v", sent)
	}
}

func TestEngine_Cancel_WindowClosed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	slot := f.slotAt(at(9, 0), at(10, 0))
	appt, err := f.engine.Initiate(ctx, f.patient, f.virtualRequest(slot, ConsultationText))
	if err != nil {
		t.Fatal(err)
	}

	// 23 hours before the start is inside the 24h cut-off.
	f.clock.Set(at(9, 0).Add(-23 * time.Hour))
	for _, actor := range []auth.Identity{f.patient, f.admin} {
		_, err := f.engine.Cancel(ctx, actor, appt.ID, "")
		if !errors.Is(err, ErrCancellationClosed) {
			t.Fatalf("expected ErrCancellationClosed for %s, got %v", actor.Role, err)
		}
		if err.Error() != "cancellation window closed 24 hours before appointment" {
			t.Errorf("unexpected message: %q", err.Error())
		}
	}
	if f.slotStatus(slot.ID) != SlotBooked {
		t.Error("slot must stay BOOKED")
	}
}

func TestEngine_Cancel_ExactCutoffAllowed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	slot := f.slotAt(at(9, 0), at(10, 0))
	appt, err := f.engine.Initiate(ctx, f.patient, f.virtualRequest(slot, ConsultationText))
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Set(at(9, 0).Add(-24 * time.Hour))
	if _, err := f.engine.Cancel(ctx, f.patient, appt.ID, ""); err != nil {
		t.Fatalf("cancel at the cut-off: %v", err)
	}
}

func TestEngine_Cancel_Rules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	slot := f.slotAt(at(9, 0), at(10, 0))
	appt, err := f.engine.Initiate(ctx, f.patient, f.virtualRequest(slot, ConsultationText))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.Cancel(ctx, f.doctor, appt.ID, ""); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("doctor cancel: expected forbidden, got %v", err)
	}
	stranger := auth.Identity{UserID: uuid.New(), Role: auth.RolePatient}
	if _, err := f.engine.Cancel(ctx, stranger, appt.ID, ""); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("stranger cancel: expected forbidden, got %v", err)
	}
	if _, err := f.engine.Cancel(ctx, f.admin, appt.ID, ""); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	_, err = f.engine.Cancel(ctx, f.patient, appt.ID, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second cancel: expected invalid transition, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "CANCELLED") {
		t.Errorf("expected current status in message, got %q", err.Error())
	}
}

func TestEngine_Confirm(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	slot := f.slotAt(at(9, 0), at(10, 0))
	appt, err := f.engine.Initiate(ctx, f.patient, f.virtualRequest(slot, ConsultationVideo))
	if err != nil {
		t.Fatal(err)
	}

	otherDoctor := auth.Identity{UserID: uuid.New(), Role: auth.RoleDoctor}
	if _, err := f.engine.Confirm(ctx, otherDoctor, appt.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("other doctor: expected forbidden, got %v", err)
	}
	if _, err := f.engine.Confirm(ctx, f.patient, appt.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("patient: expected forbidden, got %v", err)
	}

	got, err := f.engine.Confirm(ctx, f.doctor, appt.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Errorf("expected CONFIRMED, got %s", got.Status)
	}

	_, err = f.engine.Confirm(ctx, f.doctor, appt.ID)
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state on re-confirm, got %v", err)
	}
	if !strings.Contains(err.Error(), "expected PENDING") {
		t.Errorf("expected expected-state in message, got %q", err.Error())
	}
	if _, err := f.engine.Confirm(ctx, f.doctor, uuid.New()); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestEngine_Complete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	slot := f.slotAt(at(9, 0), at(10, 0))
	appt, err := f.engine.Initiate(ctx, f.patient, f.virtualRequest(slot, ConsultationAudio))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.Complete(ctx, f.patient, appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("complete from PENDING: expected invalid transition, got %v", err)
	}
	if _, err := f.engine.Confirm(ctx, f.doctor, appt.ID); err != nil {
		t.Fatal(err)
	}

	f.clock.Set(at(8, 59))
	if _, err := f.engine.Complete(ctx, f.doctor, appt.ID); !errors.Is(err, ErrNotStarted) {
		t.Errorf("complete before start: expected not started, got %v", err)
	}

	f.clock.Set(at(9, 0))
	got, err := f.engine.Complete(ctx, f.doctor, appt.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
	if f.slotStatus(slot.ID) != SlotBooked {
		t.Error("completion keeps the slot BOOKED")
	}
}

// staleAppointments serves reads from a snapshot taken before another
// request moved the stored row on.
type staleAppointments struct {
	mockAppointmentRepo
	snapshot map[uuid.UUID]Appointment
}

func (r staleAppointments) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if a, ok := r.snapshot[id]; ok {
		return &a, nil
	}
	return r.mockAppointmentRepo.GetByID(ctx, id)
}

func TestEngine_StaleStatusIsConflict(t *testing.T) {
	tests := []struct {
		name     string
		snapshot Status
		stored   Status
		clock    time.Time
		run      func(f *fixture, id uuid.UUID) (*Appointment, error)
	}{
		{
			name:     "confirm",
			snapshot: StatusPending,
			stored:   StatusConfirmed,
			clock:    baseTime,
			run: func(f *fixture, id uuid.UUID) (*Appointment, error) {
				return f.engine.Confirm(context.Background(), f.doctor, id)
			},
		},
		{
			name:     "cancel",
			snapshot: StatusPending,
			stored:   StatusConfirmed,
			clock:    baseTime,
			run: func(f *fixture, id uuid.UUID) (*Appointment, error) {
				return f.engine.Cancel(context.Background(), f.patient, id, "")
			},
		},
		{
			name:     "complete",
			snapshot: StatusConfirmed,
			stored:   StatusCancelled,
			clock:    at(9, 30),
			run: func(f *fixture, id uuid.UUID) (*Appointment, error) {
				return f.engine.Complete(context.Background(), f.doctor, id)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			slot := f.slotAt(at(9, 0), at(10, 0))
			appt, err := f.engine.Initiate(context.Background(), f.patient, f.virtualRequest(slot, ConsultationVideo))
			if err != nil {
				t.Fatal(err)
			}

			snap := f.store.appts[appt.ID]
			snap.Status = tt.snapshot
			stored := f.store.appts[appt.ID]
			stored.Status = tt.stored
			f.store.appts[appt.ID] = stored
			f.engine.appts = staleAppointments{
				mockAppointmentRepo: f.appts,
				snapshot:            map[uuid.UUID]Appointment{appt.ID: snap},
			}
			f.clock.Set(tt.clock)
			before := len(f.emitter.Types())

			_, err = tt.run(f, appt.ID)
			if !errors.Is(err, ErrStaleStatus) {
				t.Fatalf("expected ErrStaleStatus, got %v", err)
			}
			if !errors.Is(err, apperr.ErrConflict) {
				t.Errorf("expected conflict kind, got %v", err)
			}
			if got := f.store.appts[appt.ID].Status; got != tt.stored {
				t.Errorf("stored status changed to %s", got)
			}
			if f.slotStatus(slot.ID) != SlotBooked {
				t.Error("expected slot to stay BOOKED")
			}
			if got := len(f.emitter.Types()); got != before {
				t.Errorf("expected no event for a stale transition, got %d new", got-before)
			}
		})
	}
}

func TestEngine_GetAndList(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.slotAt(at(11, 0), at(12, 0))
	second := f.slotAt(at(9, 0), at(10, 0))

	mine, err := f.engine.Initiate(ctx, f.patient, f.virtualRequest(first, ConsultationText))
	if err != nil {
		t.Fatal(err)
	}
	other := auth.Identity{UserID: uuid.New(), Role: auth.RolePatient}
	theirs, err := f.engine.Initiate(ctx, other, f.virtualRequest(second, ConsultationText))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.Get(ctx, f.patient, theirs.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	if _, err := f.engine.Get(ctx, f.admin, mine.ID); err != nil {
		t.Errorf("admin get: %v", err)
	}

	items, total, err := f.engine.List(ctx, f.patient, AppointmentFilter{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || items[0].ID != mine.ID {
		t.Errorf("patient should see only their appointment, got %d", total)
	}

	items, total, err = f.engine.List(ctx, f.doctor, AppointmentFilter{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || !items[0].ScheduledAt.Before(items[1].ScheduledAt) {
		t.Errorf("doctor should see both ordered by scheduledAt, got %d", total)
	}

	pid := other.UserID
	_, total, err = f.engine.List(ctx, f.admin, AppointmentFilter{PatientID: &pid, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("admin patient filter: expected 1, got %d", total)
	}

	if _, _, err := f.engine.List(ctx, f.admin, AppointmentFilter{Status: "LATE"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
}

func TestEngine_EndToEndVideo(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	slot := f.slotAt(at(9, 0), at(10, 0))

	appt, err := f.engine.Initiate(ctx, f.patient, f.virtualRequest(slot, ConsultationVideo))
	if err != nil {
		t.Fatal(err)
	}
	if appt.Status != StatusPending || f.slotStatus(slot.ID) != SlotBooked {
		t.Fatalf("expected PENDING with BOOKED slot")
	}
	if _, err := f.engine.Confirm(ctx, f.doctor, appt.ID); err != nil {
		t.Fatal(err)
	}

	f.clock.Set(at(9, 0))
	res, err := f.gate.Join(ctx, f.patient, appt.ID)
	if err != nil {
		t.Fatalf("join at start: %v", err)
	}
	if res.Media == nil || res.Media.Channel != *appt.SessionID {
		t.Fatalf("expected media token for channel %s, got %+v", *appt.SessionID, res.Media)
	}

	f.clock.Set(at(10, 5))
	if _, err := f.gate.Join(ctx, f.patient, appt.ID); !errors.Is(err, ErrWindowExpired) {
		t.Errorf("expected window expired, got %v", err)
	}

	f.clock.Set(at(10, 1))
	done, err := f.engine.Complete(ctx, f.patient, appt.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", done.Status)
	}

	want := []string{events.AppointmentInitiated, events.AppointmentConfirmed, events.AppointmentCompleted}
	got := f.emitter.Types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestFormatWindow(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{24 * time.Hour, "24 hours"},
		{time.Hour, "1 hour"},
		{90 * time.Minute, "1h30m0s"},
	}
	for _, tt := range tests {
		if got := formatWindow(tt.in); got != tt.want {
			t.Errorf("formatWindow(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
