package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/convocart/convocart/checkout"
	"github.com/convocart/convocart/core"
)

// PaymentClient talks to the payment processor. It satisfies
// checkout.PaymentBackend.
type PaymentClient struct {
	*httpClient
}

// NewPaymentClient creates a payment client.
func NewPaymentClient(baseURL string, timeout time.Duration, logger core.Logger) *PaymentClient {
	return &PaymentClient{httpClient: newHTTPClient(baseURL, timeout, logger)}
}

func idempotencyHeader(key string) http.Header {
	if key == "" {
		return nil
	}
	return http.Header{"Idempotency-Key": {key}}
}

// CreateCardIntent opens a payment intent on the merchant's sub-account.
func (p *PaymentClient) CreateCardIntent(ctx context.Context, req checkout.CardIntentRequest) (checkout.CardIntent, error) {
	var out checkout.CardIntent
	err := p.doJSON(ctx, http.MethodPost, "/v1/intents", nil, idempotencyHeader(req.IdempotencyKey), req, &out)
	if err != nil {
		return checkout.CardIntent{}, err
	}
	return out, nil
}

// ConfirmCardIntent confirms an intent with a tokenized card. A decline is a
// result, not an error; the processor's message rides along in the result.
func (p *PaymentClient) ConfirmCardIntent(ctx context.Context, req checkout.ConfirmCardRequest) (checkout.PaymentResult, error) {
	var out checkout.PaymentResult
	path := "/v1/intents/" + url.PathEscape(req.IntentID) + "/confirm"
	if err := p.doJSON(ctx, http.MethodPost, path, nil, nil, req, &out); err != nil {
		return checkout.PaymentResult{}, err
	}
	return out, nil
}

// CreateCryptoOrder materializes an order from a submitted transfer hash.
func (p *PaymentClient) CreateCryptoOrder(ctx context.Context, req checkout.CryptoOrderRequest) (string, error) {
	var out struct {
		OrderID string `json:"order_id"`
	}
	err := p.doJSON(ctx, http.MethodPost, "/v1/orders/crypto", nil, idempotencyHeader(req.IdempotencyKey), req, &out)
	if err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("crypto order response missing order id: %w", core.ErrRequestFailed)
	}
	return out.OrderID, nil
}

// CreateCashOrder places a pay-on-delivery order.
func (p *PaymentClient) CreateCashOrder(ctx context.Context, req checkout.CashOrderRequest) (string, error) {
	var out struct {
		OrderID string `json:"order_id"`
	}
	err := p.doJSON(ctx, http.MethodPost, "/v1/orders/cash", nil, idempotencyHeader(req.IdempotencyKey), req, &out)
	if err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("cash order response missing order id: %w", core.ErrRequestFailed)
	}
	return out.OrderID, nil
}

// OrderStatus reads the processor's view of an order.
func (p *PaymentClient) OrderStatus(ctx context.Context, orderID string) (checkout.PaymentResult, error) {
	var out checkout.PaymentResult
	path := "/v1/orders/" + url.PathEscape(orderID) + "/status"
	if err := p.doJSON(ctx, http.MethodGet, path, nil, nil, nil, &out); err != nil {
		return checkout.PaymentResult{}, err
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}
	return out, nil
}
