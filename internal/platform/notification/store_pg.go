package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telehealth/telehealth/internal/platform/db"
)

type pgStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) Store { return &pgStore{pool: pool} }

func (s *pgStore) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const notificationCols = `id, recipient_id, title, body, notification_type, status, metadata,
	read_at, created_at, sent_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Body, &n.Type, &n.Status, &n.Metadata,
		&n.ReadAt, &n.CreatedAt, &n.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	return &n, err
}

func (s *pgStore) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, title, body, notification_type, status, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.RecipientID, n.Title, n.Body, n.Type, n.Status, metadata, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *pgStore) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE notifications SET status = $2, sent_at = $3 WHERE id = $1`, id, StatusSent, at)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *pgStore) MarkRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) (*Notification, error) {
	return scanNotification(s.conn(ctx).QueryRow(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationCols, id, recipientID, at))
}

func (s *pgStore) Get(ctx context.Context, id, recipientID uuid.UUID) (*Notification, error) {
	return scanNotification(s.conn(ctx).QueryRow(ctx,
		`SELECT `+notificationCols+` FROM notifications WHERE id = $1 AND recipient_id = $2`, id, recipientID))
}

func (s *pgStore) Delete(ctx context.Context, id, recipientID uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *pgStore) ListByRecipient(ctx context.Context, recipientID uuid.UUID, f ListFilter) ([]*Notification, int, error) {
	where := ` WHERE recipient_id = $1`
	if f.UnreadOnly {
		where += ` AND read_at IS NULL`
	}

	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM notifications`+where, recipientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := s.conn(ctx).Query(ctx, `SELECT `+notificationCols+` FROM notifications`+where+
		` ORDER BY created_at DESC LIMIT $2 OFFSET $3`, recipientID, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := []*Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}
