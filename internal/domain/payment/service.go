package payment

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/domain/scheduling"
	"github.com/telehealth/telehealth/internal/platform/apperr"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/events"
	"github.com/telehealth/telehealth/internal/platform/notification"
)

// AppointmentLookup resolves the appointment a payment is for.
type AppointmentLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

type Deps struct {
	Payments     Repository
	Gateway      Gateway
	Appointments AppointmentLookup
	Contacts     notification.Directory
	Notifier     scheduling.Notifier
	Events       scheduling.EventEmitter
	Logger       zerolog.Logger
	// WebhookHash is the shared secret the provider sends in the verif-hash
	// header.
	WebhookHash string
	Now         func() time.Time
}

type Service struct {
	payments    Repository
	gateway     Gateway
	appts       AppointmentLookup
	contacts    notification.Directory
	notifier    scheduling.Notifier
	events      scheduling.EventEmitter
	logger      zerolog.Logger
	webhookHash string
	now         func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		payments:    d.Payments,
		gateway:     d.Gateway,
		appts:       d.Appointments,
		contacts:    d.Contacts,
		notifier:    d.Notifier,
		events:      d.Events,
		logger:      d.Logger,
		webhookHash: d.WebhookHash,
		now:         d.Now,
	}
}

type InitiateRequest struct {
	AppointmentID *uuid.UUID `json:"appointmentId"`
	Amount        int64      `json:"amount" validate:"required"`
	Currency      string     `json:"currency" validate:"required"`
	PaymentMethod Method     `json:"paymentMethod" validate:"required"`
	Phone         string     `json:"phone" validate:"required"`
	Email         *string    `json:"email" validate:"omitempty,email"`
}

func (r *InitiateRequest) validate() error {
	if r.Amount <= 0 {
		return ErrInvalidAmount
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if _, ok := chargeTypes[r.Currency]; !ok {
		return ErrUnsupportedCcy
	}
	r.PaymentMethod = Method(strings.ToUpper(string(r.PaymentMethod)))
	if r.PaymentMethod != MethodMTN && r.PaymentMethod != MethodAirtel {
		return ErrUnsupportedMethod
	}
	r.Phone = strings.TrimSpace(r.Phone)
	return nil
}

type InitiateResult struct {
	Payment     *Payment `json:"payment"`
	Message     string   `json:"message,omitempty"`
	RedirectURL string   `json:"redirectUrl,omitempty"`
}

// Initiate records a PENDING payment and asks the gateway to push a mobile
// money prompt to the payer's phone. A gateway rejection settles the payment
// as FAILED.
func (s *Service) Initiate(ctx context.Context, caller auth.Identity, req InitiateRequest) (*InitiateResult, error) {
	if s.gateway == nil {
		return nil, ErrGatewayDisabled
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.AppointmentID != nil && s.appts != nil {
		appt, err := s.appts.GetByID(ctx, *req.AppointmentID)
		if err != nil {
			return nil, err
		}
		if !caller.IsAdmin() && appt.PatientID != caller.UserID {
			return nil, apperr.New(apperr.ErrForbidden, "only the appointment's patient can pay for it")
		}
	}

	contact := notification.Contact{}
	if s.contacts != nil {
		c, err := s.contacts.ContactFor(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		contact = c
	}
	email := req.Email
	if email == nil && contact.Email != "" {
		email = &contact.Email
	}

	p := &Payment{
		UserID:        caller.UserID,
		AppointmentID: req.AppointmentID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		PaymentType:   TypeMobileMoney,
		Phone:         req.Phone,
		Email:         email,
		TxRef:         newTxRef(),
		Status:        StatusPending,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	charge := ChargeRequest{
		TxRef:    p.TxRef,
		Amount:   p.Amount,
		Currency: p.Currency,
		Phone:    p.Phone,
		FullName: contact.Name,
		Network:  p.PaymentMethod,
	}
	if p.Email != nil {
		charge.Email = *p.Email
	}
	res, err := s.gateway.Charge(ctx, charge)
	if err != nil {
		s.logger.Warn().Err(err).Str("tx_ref", p.TxRef).Msg("mobile money charge rejected")
		if _, serr := s.settle(ctx, p, Settlement{Status: StatusFailed}); serr != nil {
			s.logger.Error().Err(serr).Str("tx_ref", p.TxRef).Msg("failed to mark payment failed")
		}
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			return nil, apperr.Newf(apperr.ErrInvalidState, "payment %s failed: %s", p.TxRef, gwErr.Message)
		}
		return nil, fmt.Errorf("charge %s: %w", p.TxRef, err)
	}
	if res.GatewayRef != "" {
		if err := s.payments.SetGatewayRef(ctx, p.ID, res.GatewayRef); err != nil {
			return nil, err
		}
		ref := res.GatewayRef
		p.GatewayRef = &ref
	}

	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("tx_ref", p.TxRef).
		Int64("amount", p.Amount).
		Str("currency", p.Currency).
		Msg("mobile money charge initiated")
	return &InitiateResult{Payment: p, Message: res.Message, RedirectURL: res.RedirectURL}, nil
}

// Verify asks the gateway for the charge's outcome and settles the payment
// when it is final.
func (s *Service) Verify(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Payment, error) {
	p, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return p, nil
	}
	if s.gateway == nil {
		return nil, ErrGatewayDisabled
	}
	if p.GatewayRef == nil {
		return nil, ErrNoGatewayRef
	}
	tx, err := s.gateway.Verify(ctx, *p.GatewayRef)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", p.TxRef, err)
	}
	return s.reconcile(ctx, p, tx)
}

// WebhookEvent is the provider's charge notification.
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID       int64  `json:"id"`
		TxRef    string `json:"tx_ref"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// HandleWebhook settles the payment named by the event's tx_ref. The event
// is only trusted as a hint: when a gateway is configured the outcome is
// re-read from it. Unknown references are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, hash string, ev WebhookEvent) error {
	if s.webhookHash == "" {
		return ErrGatewayDisabled
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(s.webhookHash)) != 1 {
		return ErrBadWebhookHash
	}
	p, err := s.payments.GetByTxRef(ctx, ev.Data.TxRef)
	if errors.Is(err, ErrPaymentNotFound) {
		s.logger.Warn().Str("tx_ref", ev.Data.TxRef).Msg("webhook for unknown payment")
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status != StatusPending {
		return nil
	}

	tx := &Transaction{
		GatewayRef: fmt.Sprintf("%d", ev.Data.ID),
		TxRef:      ev.Data.TxRef,
		Status:     ev.Data.Status,
		Amount:     ev.Data.Amount,
		Currency:   ev.Data.Currency,
	}
	if s.gateway != nil && ev.Data.ID != 0 {
		verified, err := s.gateway.Verify(ctx, tx.GatewayRef)
		if err != nil {
			return fmt.Errorf("verify %s: %w", p.TxRef, err)
		}
		tx = verified
	}
	_, err = s.reconcile(ctx, p, tx)
	return err
}

func (s *Service) reconcile(ctx context.Context, p *Payment, tx *Transaction) (*Payment, error) {
	var ref *string
	if tx.GatewayRef != "" && tx.GatewayRef != "0" {
		r := tx.GatewayRef
		ref = &r
	}
	switch {
	case tx.Successful():
		if (tx.TxRef != "" && tx.TxRef != p.TxRef) || tx.Amount < p.Amount || !strings.EqualFold(tx.Currency, p.Currency) {
			s.logger.Warn().
				Str("tx_ref", p.TxRef).
				Int64("expected_amount", p.Amount).
				Int64("paid_amount", tx.Amount).
				Str("paid_currency", tx.Currency).
				Msg("gateway transaction does not match payment")
			return s.settle(ctx, p, Settlement{Status: StatusFailed, GatewayRef: ref})
		}
		paidAt := s.now().UTC()
		return s.settle(ctx, p, Settlement{Status: StatusCompleted, GatewayRef: ref, PaidAt: &paidAt})
	case tx.Failed():
		return s.settle(ctx, p, Settlement{Status: StatusFailed, GatewayRef: ref})
	default:
		return p, nil
	}
}

func (s *Service) settle(ctx context.Context, p *Payment, st Settlement) (*Payment, error) {
	settled, changed, err := s.payments.Settle(ctx, p.ID, st)
	if err != nil {
		return nil, err
	}
	if !changed {
		return settled, nil
	}

	template, event := "payment-completed", events.PaymentCompleted
	if settled.Status == StatusFailed {
		template, event = "payment-failed", events.PaymentFailed
	}
	if s.notifier != nil {
		s.notifier.NotifyTemplate(ctx, settled.UserID, template, settled.templateData(),
			map[string]string{"paymentId": settled.ID.String()})
	}
	if s.events != nil {
		s.events.Emit(ctx, event, settled.ID.String(), settled)
	}
	s.logger.Info().
		Str("payment_id", settled.ID.String()).
		Str("tx_ref", settled.TxRef).
		Str("status", string(settled.Status)).
		Msg("payment settled")
	return settled, nil
}

// Get returns a payment to its payer or an admin.
func (s *Service) Get(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && p.UserID != caller.UserID {
		return nil, ErrNotOwner
	}
	return p, nil
}

// List scopes non-admin callers to their own payments.
func (s *Service) List(ctx context.Context, caller auth.Identity, f ListFilter) ([]*Payment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Newf(apperr.ErrValidation, "unknown payment status %q", f.Status)
	}
	if !caller.IsAdmin() {
		uid := caller.UserID
		f.UserID = &uid
	}
	return s.payments.List(ctx, f)
}

func newTxRef() string {
	return "TH-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
