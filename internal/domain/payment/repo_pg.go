package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telehealth/telehealth/internal/platform/db"
)

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const paymentCols = `id, user_id, appointment_id, amount, currency, payment_method, payment_type,
	phone, email, tx_ref, gateway_ref, status, paid_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.UserID, &p.AppointmentID, &p.Amount, &p.Currency, &p.PaymentMethod, &p.PaymentType,
		&p.Phone, &p.Email, &p.TxRef, &p.GatewayRef, &p.Status, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, user_id, appointment_id, amount, currency, payment_method, payment_type,
			phone, email, tx_ref, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.AppointmentID, p.Amount, p.Currency, p.PaymentMethod, p.PaymentType,
		p.Phone, p.Email, p.TxRef, p.Status).Scan(&p.CreatedAt, &p.UpdatedAt)
	switch {
	case db.IsPgError(err, db.CodeForeignKeyViolation):
		return fmt.Errorf("payment references unknown user or appointment: %w", err)
	case err != nil:
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE id = $1`, id))
}

func (r *paymentRepoPG) GetByTxRef(ctx context.Context, txRef string) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE tx_ref = $1`, txRef))
}

func (r *paymentRepoPG) SetGatewayRef(ctx context.Context, id uuid.UUID, ref string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE payments SET gateway_ref = $2, updated_at = NOW() WHERE id = $1`, id, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepoPG) Settle(ctx context.Context, id uuid.UUID, s Settlement) (*Payment, bool, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx, `
		UPDATE payments
		SET status = $2, gateway_ref = COALESCE($3, gateway_ref), paid_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+paymentCols, id, s.Status, s.GatewayRef, s.PaidAt))
	if errors.Is(err, ErrPaymentNotFound) {
		current, gerr := r.GetByID(ctx, id)
		if gerr != nil {
			return nil, false, gerr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (r *paymentRepoPG) List(ctx context.Context, f ListFilter) ([]*Payment, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	idx := 1
	if f.UserID != nil {
		where += fmt.Sprintf(" AND user_id = $%d", idx)
		args = append(args, *f.UserID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + paymentCols + ` FROM payments` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
