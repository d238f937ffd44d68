package messaging

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

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &messageRepoPG{pool: pool} }

func (r *messageRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const msgCols = `id, appointment_id, sender_id, receiver_id, content, sent_at, read_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.AppointmentID, &m.SenderID, &m.ReceiverID, &m.Content, &m.SentAt, &m.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO messages (id, appointment_id, sender_id, receiver_id, content, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING sent_at`,
		m.ID, m.AppointmentID, m.SenderID, m.ReceiverID, m.Content, m.SentAt).Scan(&m.SentAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return scanMessage(r.conn(ctx).QueryRow(ctx, `SELECT `+msgCols+` FROM messages WHERE id = $1`, id))
}

func (r *messageRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE appointment_id = $1`, appointmentID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+msgCols+` FROM messages WHERE appointment_id = $1
		ORDER BY sent_at ASC, id ASC LIMIT $2 OFFSET $3`, appointmentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *messageRepoPG) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (*Message, error) {
	return scanMessage(r.conn(ctx).QueryRow(ctx, `
		UPDATE messages SET read_at = COALESCE(read_at, $2)
		WHERE id = $1
		RETURNING `+msgCols, id, at))
}

func (r *messageRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}
