package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/media"
)

// -- In-memory store --

// memStore backs both repositories so the transactor can snapshot and roll
// back slots and appointments together.
type memStore struct {
	mu      sync.Mutex
	slots   map[uuid.UUID]Availability
	appts   map[uuid.UUID]Appointment
	doctors map[uuid.UUID]bool
}

func newMemStore() *memStore {
	return &memStore{
		slots:   make(map[uuid.UUID]Availability),
		appts:   make(map[uuid.UUID]Appointment),
		doctors: make(map[uuid.UUID]bool),
	}
}

type mockSlotRepo struct{ s *memStore }

func (m mockSlotRepo) Create(_ context.Context, a *Availability) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, other := range m.s.slots {
		if other.DoctorID == a.DoctorID && other.Overlaps(a.StartTime, a.EndTime) {
			return ErrOverlap
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.s.slots[a.ID] = *a
	return nil
}

func (m mockSlotRepo) GetByID(_ context.Context, id uuid.UUID) (*Availability, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &a, nil
}

func (m mockSlotRepo) UpdateTimes(_ context.Context, id uuid.UUID, start, end time.Time) (*Availability, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if a.Status != SlotAvailable {
		return nil, ErrStaleStatus
	}
	a.StartTime, a.EndTime = start, end
	m.s.slots[id] = a
	return &a, nil
}

func (m mockSlotRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.slots[id]; !ok {
		return ErrSlotNotFound
	}
	delete(m.s.slots, id)
	return nil
}

func (m mockSlotRepo) FindOverlapping(_ context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]*Availability, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*Availability
	for id, a := range m.s.slots {
		if id == excludeID || a.DoctorID != doctorID {
			continue
		}
		if a.Overlaps(start, end) {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

func (m mockSlotRepo) CompareAndSetStatus(_ context.Context, id uuid.UUID, from, to SlotStatus) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.slots[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	m.s.slots[id] = a
	return true, nil
}

func (m mockSlotRepo) SetStatus(_ context.Context, id uuid.UUID, status SlotStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	a.Status = status
	m.s.slots[id] = a
	return nil
}

func (m mockSlotRepo) List(_ context.Context, f SlotFilter) ([]*Availability, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*Availability
	for _, a := range m.s.slots {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.From != nil && a.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && a.EndTime.After(*f.To) {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, len(out), nil
}

type mockAppointmentRepo struct{ s *memStore }

func (m mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, other := range m.s.appts {
		if other.AvailabilityID == a.AvailabilityID && other.Status.Active() {
			return ErrSlotUnavailable
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.s.appts[a.ID] = *a
	return nil
}

func (m mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m mockAppointmentRepo) GetBySessionID(_ context.Context, sessionID string) (*Appointment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, a := range m.s.appts {
		if a.SessionID != nil && *a.SessionID == sessionID {
			a := a
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (m mockAppointmentRepo) Transition(_ context.Context, id uuid.UUID, ch StatusChange) (*Appointment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.appts[id]
	if !ok || a.Status != ch.From {
		return nil, ErrStaleStatus
	}
	a.Status = ch.To
	if ch.CancellationReason != nil {
		a.CancellationReason = ch.CancellationReason
	}
	if ch.CancelledAt != nil {
		a.CancelledAt = ch.CancelledAt
	}
	a.UpdatedAt = ch.At
	m.s.appts[id] = a
	return &a, nil
}

func (m mockAppointmentRepo) CountBySlot(_ context.Context, availabilityID uuid.UUID) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n := 0
	for _, a := range m.s.appts {
		if a.AvailabilityID == availabilityID {
			n++
		}
	}
	return n, nil
}

func (m mockAppointmentRepo) List(_ context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*Appointment
	for _, a := range m.s.appts {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.ParticipantID != nil && !a.IsParticipant(*f.ParticipantID) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, len(out), nil
}

func (m mockAppointmentRepo) ListStartingBetween(_ context.Context, status Status, from, to time.Time) ([]*Appointment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*Appointment
	for _, a := range m.s.appts {
		if a.Status == status && !a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

type mockDoctors struct{ s *memStore }

func (m mockDoctors) DoctorExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.doctors[id], nil
}

// mockTx serializes transactions and restores the snapshot when fn fails.
type mockTx struct {
	mu sync.Mutex
	s  *memStore
}

func (m *mockTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.s.mu.Lock()
	slots := make(map[uuid.UUID]Availability, len(m.s.slots))
	for k, v := range m.s.slots {
		slots[k] = v
	}
	appts := make(map[uuid.UUID]Appointment, len(m.s.appts))
	for k, v := range m.s.appts {
		appts[k] = v
	}
	m.s.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.s.mu.Lock()
		m.s.slots, m.s.appts = slots, appts
		m.s.mu.Unlock()
		return err
	}
	return nil
}

// -- Collaborators --

type sentNotification struct {
	Recipient uuid.UUID
	Template  string
	Data      map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) NotifyTemplate(_ context.Context, recipientID uuid.UUID, templateID string, data, _ map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Recipient: recipientID, Template: templateID, Data: data})
}

func (n *recordingNotifier) byTemplate(id string) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, s := range n.sent {
		if s.Template == id {
			out = append(out, s)
		}
	}
	return out
}

type recordingEmitter struct {
	mu    sync.Mutex
	types []string
}

func (e *recordingEmitter) Emit(_ context.Context, typ, _ string, _ interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, typ)
}

func (e *recordingEmitter) Types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.types...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// -- Fixture --

type fixture struct {
	store    *memStore
	slots    mockSlotRepo
	appts    mockAppointmentRepo
	clock    *fakeClock
	notifier *recordingNotifier
	emitter  *recordingEmitter
	ledger   *Ledger
	engine   *Engine
	gate     *Gate
	provider *media.TokenProvider

	doctor  auth.Identity
	patient auth.Identity
	admin   auth.Identity
}

// baseTime is the fixture's "now": 08:00 UTC two days before the test day.
var baseTime = time.Date(2030, 3, 10, 8, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	s := newMemStore()
	f := &fixture{
		store:    s,
		slots:    mockSlotRepo{s},
		appts:    mockAppointmentRepo{s},
		clock:    &fakeClock{t: baseTime},
		notifier: &recordingNotifier{},
		emitter:  &recordingEmitter{},
		doctor:   auth.Identity{UserID: uuid.New(), Role: auth.RoleDoctor},
		patient:  auth.Identity{UserID: uuid.New(), Role: auth.RolePatient},
		admin:    auth.Identity{UserID: uuid.New(), Role: auth.RoleAdmin},
	}
	s.doctors[f.doctor.UserID] = true

	f.ledger = NewLedger(f.slots, f.appts, mockDoctors{s}, f.clock.Now)
	f.engine = NewEngine(Deps{
		Tx:       &mockTx{s: s},
		Ledger:   f.ledger,
		Appts:    f.appts,
		Doctors:  mockDoctors{s},
		Policy:   DefaultPolicy(),
		Notifier: f.notifier,
		Events:   f.emitter,
		Logger:   zerolog.Nop(),
		Now:      f.clock.Now,
		Config:   WorkflowConfig{CancellationWindow: 24 * time.Hour, DefaultDuration: 30},
	})
	f.provider = media.NewTokenProvider("app-id", "certificate-secret").WithClock(f.clock.Now)
	f.gate = NewGate(f.appts, f.provider, time.Hour, 30*time.Minute, f.clock.Now)
	return f
}

// slotAt creates a slot for the fixture doctor directly in the store.
func (f *fixture) slotAt(start, end time.Time) *Availability {
	a := &Availability{DoctorID: f.doctor.UserID, StartTime: start, EndTime: end, Status: SlotAvailable}
	if err := f.slots.Create(context.Background(), a); err != nil {
		panic(err)
	}
	return a
}

func (f *fixture) slotStatus(id uuid.UUID) SlotStatus {
	a, err := f.slots.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return a.Status
}

func consultation(c ConsultationType) *ConsultationType { return &c }

func (f *fixture) virtualRequest(slot *Availability, c ConsultationType) InitiateRequest {
	return InitiateRequest{
		DoctorID:         f.doctor.UserID,
		AvailabilityID:   slot.ID,
		Type:             TypeVirtual,
		ConsultationType: consultation(c),
	}
}

// at returns a time on the fixture's test day (two days after baseTime).
func at(hour, min int) time.Time {
	return time.Date(2030, 3, 12, hour, min, 0, 0, time.UTC)
}
