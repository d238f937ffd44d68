package payment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByTxRef(ctx context.Context, txRef string) (*Payment, error)
	SetGatewayRef(ctx context.Context, id uuid.UUID, ref string) error
	// Settle applies s only while the payment is still PENDING. It reports
	// false, with the current row, when another caller settled it first.
	Settle(ctx context.Context, id uuid.UUID, s Settlement) (*Payment, bool, error)
	List(ctx context.Context, f ListFilter) ([]*Payment, int, error)
}
