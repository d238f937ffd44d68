package scheduling

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	reminderLead   = 55 * time.Minute
	reminderWindow = 10 * time.Minute
	reminderTTL    = 2 * time.Hour
)

// ReminderMarker records which appointments were already reminded so
// overlapping cron runs notify once.
type ReminderMarker interface {
	// Mark returns true the first time key is seen.
	Mark(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type MemoryReminderMarker struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryReminderMarker() *MemoryReminderMarker {
	return &MemoryReminderMarker{seen: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryReminderMarker) Mark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, exp := range m.seen {
		if now.After(exp) {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)
	return true, nil
}

type RedisReminderMarker struct {
	client *redis.Client
	prefix string
}

func NewRedisReminderMarker(client *redis.Client) *RedisReminderMarker {
	return &RedisReminderMarker{client: client, prefix: "reminder:"}
}

func (m *RedisReminderMarker) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := m.client.SetNX(ctx, m.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark reminder: %w", err)
	}
	return ok, nil
}

// Reminder notifies both participants of CONFIRMED appointments starting
// within [now+55m, now+65m). It never changes appointment state.
type Reminder struct {
	appts    AppointmentRepository
	notifier Notifier
	marker   ReminderMarker
	logger   zerolog.Logger
	now      func() time.Time
}

func NewReminder(appts AppointmentRepository, notifier Notifier, marker ReminderMarker, logger zerolog.Logger, now func() time.Time) *Reminder {
	if marker == nil {
		marker = NewMemoryReminderMarker()
	}
	if now == nil {
		now = time.Now
	}
	return &Reminder{appts: appts, notifier: notifier, marker: marker, logger: logger, now: now}
}

// Run sends due reminders and returns how many appointments were reminded.
func (r *Reminder) Run(ctx context.Context) (int, error) {
	from := r.now().UTC().Add(reminderLead)
	to := from.Add(reminderWindow)
	due, err := r.appts.ListStartingBetween(ctx, StatusConfirmed, from, to)
	if err != nil {
		return 0, fmt.Errorf("list upcoming appointments: %w", err)
	}

	sent := 0
	for _, appt := range due {
		first, err := r.marker.Mark(ctx, appt.ID.String(), reminderTTL)
		if err != nil {
			r.logger.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("reminder marker unavailable")
			continue
		}
		if !first {
			continue
		}
		kind := "in-person"
		if appt.Type == TypeVirtual {
			kind = strings.ToLower(string(appt.Consultation()))
		}
		data := map[string]string{
			"kind": kind,
			"date": appt.ScheduledAt.UTC().Format("2006-01-02"),
			"time": appt.ScheduledAt.UTC().Format("15:04 MST"),
		}
		md := map[string]string{"appointmentId": appt.ID.String()}
		r.notifier.NotifyTemplate(ctx, appt.PatientID, "appointment-reminder", data, md)
		r.notifier.NotifyTemplate(ctx, appt.DoctorID, "appointment-reminder", data, md)
		sent++
	}
	if sent > 0 {
		r.logger.Info().Int("count", sent).Msg("appointment reminders sent")
	}
	return sent, nil
}

// Job adapts Run to the cron scheduler.
func (r *Reminder) Job(ctx context.Context) error {
	_, err := r.Run(ctx)
	return err
}
