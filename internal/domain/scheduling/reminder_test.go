package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestReminder_NotifiesUpcomingOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	due := f.confirmed(t, func(s *Availability) InitiateRequest { return f.virtualRequest(s, ConsultationVideo) })

	// A second confirmed appointment well outside the window.
	late := f.slotAt(at(14, 0), at(15, 0))
	appt, err := f.engine.Initiate(ctx, f.patient, f.virtualRequest(late, ConsultationText))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Confirm(ctx, f.doctor, appt.ID); err != nil {
		t.Fatal(err)
	}

	r := NewReminder(f.appts, f.notifier, NewMemoryReminderMarker(), zerolog.Nop(), f.clock.Now)

	f.clock.Set(due.ScheduledAt.Add(-60 * time.Minute))
	n, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reminded appointment, got %d", n)
	}
	sent := f.notifier.byTemplate("appointment-reminder")
	if len(sent) != 2 {
		t.Fatalf("expected reminders to both parties, got %d", len(sent))
	}
	if sent[0].Data["kind"] != "video" {
		t.Errorf("expected kind video, got %q", sent[0].Data["kind"])
	}

	// Overlapping run five minutes later must not repeat.
	f.clock.Set(due.ScheduledAt.Add(-58 * time.Minute))
	if n, _ := r.Run(ctx); n != 0 {
		t.Errorf("expected no duplicate reminders, got %d", n)
	}

	got, _ := f.appts.GetByID(ctx, due.ID)
	if got.Status != StatusConfirmed {
		t.Error("reminders must not change state")
	}
}

func TestReminder_WindowBounds(t *testing.T) {
	f := newFixture()
	due := f.confirmed(t, func(s *Availability) InitiateRequest { return f.virtualRequest(s, ConsultationText) })
	r := NewReminder(f.appts, f.notifier, nil, zerolog.Nop(), f.clock.Now)

	tests := []struct {
		lead time.Duration
		want int
	}{
		{54 * time.Minute, 0},
		{65 * time.Minute, 0},
		{55 * time.Minute, 1},
	}
	for _, tt := range tests {
		f.clock.Set(due.ScheduledAt.Add(-tt.lead))
		n, err := r.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if n != tt.want {
			t.Errorf("lead %s: expected %d, got %d", tt.lead, tt.want, n)
		}
	}
}

func TestMemoryReminderMarker_Expires(t *testing.T) {
	m := NewMemoryReminderMarker()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := m.Mark(ctx, "a", time.Hour); !ok {
		t.Fatal("first mark should succeed")
	}
	if ok, _ := m.Mark(ctx, "a", time.Hour); ok {
		t.Fatal("second mark should be rejected")
	}
	now = now.Add(2 * time.Hour)
	if ok, _ := m.Mark(ctx, "a", time.Hour); !ok {
		t.Error("mark should succeed after expiry")
	}
}
