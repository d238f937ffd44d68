package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Gateway is the mobile money provider.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Verify(ctx context.Context, gatewayRef string) (*Transaction, error)
}

type ChargeRequest struct {
	TxRef    string
	Amount   int64
	Currency string
	Phone    string
	Email    string
	FullName string
	Network  Method
}

type ChargeResult struct {
	GatewayRef string
	Status     string
	Message    string
	// RedirectURL is set when the provider needs the payer to authorize in
	// a browser before the prompt is pushed to their phone.
	RedirectURL string
}

// Transaction is the provider's view of a charge.
type Transaction struct {
	GatewayRef string
	TxRef      string
	Status     string
	Amount     int64
	Currency   string
}

// Successful reports whether the provider settled the charge.
func (t *Transaction) Successful() bool { return strings.EqualFold(t.Status, "successful") }

// Failed reports a terminal failure; anything else is still pending.
func (t *Transaction) Failed() bool {
	s := strings.ToLower(t.Status)
	return s == "failed" || s == "cancelled"
}

// HTTPGateway talks to a Flutterwave-compatible v3 REST API.
type HTTPGateway struct {
	BaseURL     string
	SecretKey   string
	RedirectURL string
	Client      *http.Client
}

func NewHTTPGateway(baseURL, secretKey string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type chargeBody struct {
	TxRef       string `json:"tx_ref"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number"`
	FullName    string `json:"fullname,omitempty"`
	Network     string `json:"network,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Narration   string `json:"narration,omitempty"`
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    struct {
		Authorization struct {
			Redirect string `json:"redirect"`
			Mode     string `json:"mode"`
		} `json:"authorization"`
	} `json:"meta"`
}

type txData struct {
	ID       int64  `json:"id"`
	TxRef    string `json:"tx_ref"`
	FlwRef   string `json:"flw_ref"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	chargeType, ok := chargeTypes[req.Currency]
	if !ok {
		return nil, ErrUnsupportedCcy
	}
	body := chargeBody{
		TxRef:       req.TxRef,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Email:       req.Email,
		PhoneNumber: req.Phone,
		FullName:    req.FullName,
		Network:     string(req.Network),
		RedirectURL: g.RedirectURL,
		Narration:   "Appointment Payment",
	}
	env, err := g.do(ctx, http.MethodPost, "/charges?type="+url.QueryEscape(chargeType), body)
	if err != nil {
		return nil, err
	}
	res := &ChargeResult{Status: env.Status, Message: env.Message, RedirectURL: env.Meta.Authorization.Redirect}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		var d txData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode charge response: %w", err)
		}
		if d.ID != 0 {
			res.GatewayRef = fmt.Sprintf("%d", d.ID)
		}
		if d.Status != "" {
			res.Status = d.Status
		}
	}
	return res, nil
}

func (g *HTTPGateway) Verify(ctx context.Context, gatewayRef string) (*Transaction, error) {
	env, err := g.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(gatewayRef)+"/verify", nil)
	if err != nil {
		return nil, err
	}
	var d txData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	return &Transaction{
		GatewayRef: fmt.Sprintf("%d", d.ID),
		TxRef:      d.TxRef,
		Status:     d.Status,
		Amount:     d.Amount,
		Currency:   d.Currency,
	}, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, payload interface{}) (*envelope, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal gateway request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.SecretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	if resp.StatusCode >= 300 || strings.EqualFold(env.Status, "error") {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	return &env, nil
}

// GatewayError is a rejection reported by the provider.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway rejected request (%d): %s", e.StatusCode, e.Message)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
