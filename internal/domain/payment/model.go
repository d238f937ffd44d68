package payment

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/telehealth/telehealth/internal/platform/apperr"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type Method string

const (
	MethodMTN    Method = "MTN"
	MethodAirtel Method = "AIRTEL"
)

const TypeMobileMoney = "MOBILE_MONEY"

// Currencies accepted for mobile money charges, mapped to the gateway's
// charge type.
var chargeTypes = map[string]string{
	"UGX": "mobile_money_uganda",
	"KES": "mpesa",
}

// Payment is a mobile money charge. Amount is in minor units of Currency;
// UGX and KES are both quoted whole so minor and major units coincide.
type Payment struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"userId"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	PaymentMethod Method     `json:"paymentMethod"`
	PaymentType   string     `json:"paymentType"`
	Phone         string     `json:"phone"`
	Email         *string    `json:"email,omitempty"`
	TxRef         string     `json:"txRef"`
	GatewayRef    *string    `json:"gatewayRef,omitempty"`
	Status        Status     `json:"status"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (p *Payment) templateData() map[string]string {
	return map[string]string{
		"amount":   strconv.FormatInt(p.Amount, 10),
		"currency": p.Currency,
		"tx_ref":   p.TxRef,
	}
}

// Settlement moves a PENDING payment to its final status.
type Settlement struct {
	Status     Status
	GatewayRef *string
	PaidAt     *time.Time
}

type ListFilter struct {
	UserID *uuid.UUID
	Status Status
	Limit  int
	Offset int
}

var (
	ErrPaymentNotFound   = apperr.New(apperr.ErrNotFound, "payment not found")
	ErrNotOwner          = apperr.New(apperr.ErrForbidden, "payment belongs to another user")
	ErrUnsupportedMethod = apperr.New(apperr.ErrValidation, "payment method must be MTN or AIRTEL")
	ErrUnsupportedCcy    = apperr.New(apperr.ErrValidation, "currency must be UGX or KES")
	ErrInvalidAmount     = apperr.New(apperr.ErrValidation, "amount must be positive")
	ErrNoGatewayRef      = apperr.New(apperr.ErrInvalidState, "payment has no gateway reference yet")
	ErrBadWebhookHash    = apperr.New(apperr.ErrForbidden, "invalid webhook signature")
	ErrGatewayDisabled   = apperr.New(apperr.ErrConfiguration, "payment gateway is not configured")
)
