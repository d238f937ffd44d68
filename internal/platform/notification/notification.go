// Package notification records and delivers state-change notifications.
// Delivery is fire-and-forget: Notify returns immediately and failures are
// only logged.
package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telehealth/telehealth/internal/platform/apperr"
)

// Status is the delivery state of a notification record.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
)

// Notification types.
const (
	TypeAppointment = "APPOINTMENT"
	TypeReminder    = "REMINDER"
	TypeMessage     = "MESSAGE"
	TypePayment     = "PAYMENT"
	TypeGeneral     = "GENERAL"
)

var ErrNotificationNotFound = apperr.New(apperr.ErrNotFound, "notification not found")

// Notification is a persisted side-effect record of a state change.
type Notification struct {
	ID          uuid.UUID         `json:"id"`
	RecipientID uuid.UUID         `json:"recipientId"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Type        string            `json:"notificationType"`
	Status      Status            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ReadAt      *time.Time        `json:"readAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	SentAt      *time.Time        `json:"sentAt,omitempty"`
}

// ListFilter narrows a recipient's notifications.
type ListFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Store persists notification records.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkRead sets read_at on a notification owned by recipientID.
	MarkRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) (*Notification, error)
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, f ListFilter) ([]*Notification, int, error)
	// Get and Delete only see notifications owned by recipientID; others
	// report ErrNotificationNotFound.
	Get(ctx context.Context, id, recipientID uuid.UUID) (*Notification, error)
	Delete(ctx context.Context, id, recipientID uuid.UUID) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*Notification)}
}

func (s *MemoryStore) Create(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	cp := *n
	s.items[n.ID] = &cp
	return nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Status = StatusSent
	n.SentAt = &at
	return nil
}

func (s *MemoryStore) MarkRead(_ context.Context, id, recipientID uuid.UUID, at time.Time) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.RecipientID != recipientID {
		return nil, ErrNotificationNotFound
	}
	if n.ReadAt == nil {
		n.ReadAt = &at
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) Get(_ context.Context, id, recipientID uuid.UUID) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.items[id]
	if !ok || n.RecipientID != recipientID {
		return nil, ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, id, recipientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.RecipientID != recipientID {
		return ErrNotificationNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) ListByRecipient(_ context.Context, recipientID uuid.UUID, f ListFilter) ([]*Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Notification
	for _, n := range s.items {
		if n.RecipientID != recipientID {
			continue
		}
		if f.UnreadOnly && n.ReadAt != nil {
			continue
		}
		cp := *n
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset >= total {
		return []*Notification{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

// All returns every stored notification, newest first.
func (s *MemoryStore) All() []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Notification, 0, len(s.items))
	for _, n := range s.items {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
