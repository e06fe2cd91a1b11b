package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// GATEWAY - the payment processor as a black box
// =============================================================================

// Gateway status values the reconciler maps. Anything else falls through
// to the conservative default.
const (
	GatewayApproved    = "approved"
	GatewayPending     = "pending"
	GatewayInProcess   = "in_process"
	GatewayRefunded    = "refunded"
	GatewayChargedBack = "charged_back"
)

// Payment is the gateway's view of one payment, fetched by ID.
type Payment struct {
	ID                string
	Status            string
	ExternalReference string // must match our appointment ID
	TransactionAmount decimal.Decimal
	DateApproved      *time.Time
}

// Gateway fetches payment status by ID using a tenant's credential.
type Gateway interface {
	GetPayment(ctx context.Context, accessToken, paymentID string) (*Payment, error)
}

// =============================================================================
// HTTP GATEWAY - the real remote API
// =============================================================================

// HTTPGateway calls a hosted payment API of the Mercado Pago shape:
// GET {base}/v1/payments/{id} with a bearer token.
type HTTPGateway struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type gatewayPaymentJSON struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	ExternalReference string      `json:"external_reference"`
	TransactionAmount json.Number `json:"transaction_amount"`
	DateApproved      string      `json:"date_approved"`
}

func (g *HTTPGateway) GetPayment(ctx context.Context, accessToken, paymentID string) (*Payment, error) {
	url := fmt.Sprintf("%s/v1/payments/%s", g.BaseURL, paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, &GatewayError{PaymentID: paymentID, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &GatewayError{
			PaymentID: paymentID,
			Cause:     fmt.Errorf("gateway returned status %d", resp.StatusCode),
		}
	}

	var body gatewayPaymentJSON
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &GatewayError{PaymentID: paymentID, Cause: err}
	}

	p := &Payment{
		ID:                body.ID.String(),
		Status:            body.Status,
		ExternalReference: body.ExternalReference,
	}
	if amt, err := decimal.NewFromString(body.TransactionAmount.String()); err == nil {
		p.TransactionAmount = amt
	}
	if body.DateApproved != "" {
		if t, err := time.Parse(time.RFC3339, body.DateApproved); err == nil {
			p.DateApproved = &t
		}
	}
	return p, nil
}

// GatewayError wraps a failed status fetch. Always retryable: the
// notification sender is expected to redeliver.
type GatewayError struct {
	PaymentID string
	Cause     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway fetch for payment %s failed: %v", e.PaymentID, e.Cause)
}

func (e *GatewayError) Unwrap() error { return ErrTransientGateway }

// IsRetryable reports whether the caller should redeliver the notification.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientGateway)
}
