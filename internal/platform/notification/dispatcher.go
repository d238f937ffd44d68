package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const deliveryTimeout = 15 * time.Second

// Dispatcher stores a notification and fans it out to every channel in the
// background.
type Dispatcher struct {
	store     Store
	directory Directory
	channels  []Channel
	templates *TemplateEngine
	logger    zerolog.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewDispatcher(store Store, directory Directory, templates *TemplateEngine, logger zerolog.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		store:     store,
		directory: directory,
		channels:  channels,
		templates: templates,
		logger:    logger,
		now:       time.Now,
	}
}

// Notify records and delivers a notification without blocking the caller.
// The work runs on a context detached from ctx's cancellation.
func (d *Dispatcher) Notify(ctx context.Context, recipientID uuid.UUID, title, body string, metadata map[string]string) {
	typ := metadata["type"]
	if typ == "" {
		typ = TypeGeneral
	}
	n := &Notification{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Title:       title,
		Body:        body,
		Type:        typ,
		Status:      StatusPending,
		Metadata:    metadata,
		CreatedAt:   d.now().UTC(),
	}

	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		dctx, cancel := context.WithTimeout(bg, deliveryTimeout)
		defer cancel()
		d.deliver(dctx, n)
	}()
}

// NotifyTemplate renders templateID with data and notifies recipientID.
func (d *Dispatcher) NotifyTemplate(ctx context.Context, recipientID uuid.UUID, templateID string, data, metadata map[string]string) {
	t, err := d.templates.Render(templateID, data)
	if err != nil {
		d.logger.Error().Err(err).Str("template", templateID).Msg("render notification")
		return
	}
	md := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	if md["type"] == "" {
		md["type"] = t.Type
	}
	d.Notify(ctx, recipientID, t.Title, t.Body, md)
}

func (d *Dispatcher) deliver(ctx context.Context, n *Notification) {
	log := d.logger.With().
		Str("notification_id", n.ID.String()).
		Str("recipient_id", n.RecipientID.String()).
		Logger()

	if err := d.store.Create(ctx, n); err != nil {
		log.Error().Err(err).Msg("store notification")
		return
	}

	var contact Contact
	if d.directory != nil {
		c, err := d.directory.ContactFor(ctx, n.RecipientID)
		if err != nil {
			log.Warn().Err(err).Msg("resolve notification contact")
		} else {
			contact = c
		}
	}

	delivered := false
	for _, ch := range d.channels {
		if err := ch.Deliver(ctx, n, contact); err != nil {
			log.Warn().Err(err).Str("channel", ch.Name()).Msg("notification delivery failed")
			continue
		}
		delivered = true
	}
	if !delivered {
		return
	}
	if err := d.store.MarkSent(ctx, n.ID, d.now().UTC()); err != nil {
		log.Warn().Err(err).Msg("mark notification sent")
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
