// Package events publishes domain lifecycle events to an external stream.
// Publication is best-effort and happens after the owning transaction
// commits.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types.
const (
	AppointmentInitiated = "appointment.initiated"
	AppointmentConfirmed = "appointment.confirmed"
	AppointmentCancelled = "appointment.cancelled"
	AppointmentCompleted = "appointment.completed"
	PaymentCompleted     = "payment.completed"
	PaymentFailed        = "payment.failed"
)

// Event is the wire envelope for every published event. AggregateID is used
// as the partition key so events for one appointment stay ordered.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregateId"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Data        json.RawMessage `json:"data"`
}

// New builds an Event with a marshalled payload.
func New(typ, aggregateID string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:          uuid.New(),
		Type:        typ,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
		Data:        raw,
	}, nil
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info().
		Str("event_id", evt.ID.String()).
		Str("event_type", evt.Type).
		Str("aggregate_id", evt.AggregateID).
		RawJSON("data", evt.Data).
		Msg("domain event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher keeps published events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(_ context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Types returns the type of every published event in order.
func (p *MemoryPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

const publishTimeout = 10 * time.Second

// Emitter publishes in the background so callers never wait on the broker.
type Emitter struct {
	pub    Publisher
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func NewEmitter(pub Publisher, logger zerolog.Logger) *Emitter {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Emitter{pub: pub, logger: logger}
}

// Emit builds and publishes an event on a context detached from ctx.
// Failures are logged.
func (e *Emitter) Emit(ctx context.Context, typ, aggregateID string, data interface{}) {
	evt, err := New(typ, aggregateID, data)
	if err != nil {
		e.logger.Error().Err(err).Str("event_type", typ).Msg("build event")
		return
	}

	bg := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		pctx, cancel := context.WithTimeout(bg, publishTimeout)
		defer cancel()
		if err := e.pub.Publish(pctx, evt); err != nil {
			e.logger.Warn().Err(err).
				Str("event_type", evt.Type).
				Str("aggregate_id", evt.AggregateID).
				Msg("event publication failed")
		}
	}()
}

// Wait blocks until in-flight publications finish.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

// Close waits for in-flight publications and closes the publisher.
func (e *Emitter) Close() error {
	e.wg.Wait()
	return e.pub.Close()
}
