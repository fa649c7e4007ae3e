package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/convocart/convocart/cart"
	"github.com/convocart/convocart/catalog"
	"github.com/convocart/convocart/core"
	"github.com/convocart/convocart/resilience"
)

// PaymentBackend is the remote payment processor surface the executor needs.
// The services package provides the HTTP implementation.
type PaymentBackend interface {
	CreateCardIntent(ctx context.Context, req CardIntentRequest) (CardIntent, error)
	ConfirmCardIntent(ctx context.Context, req ConfirmCardRequest) (PaymentResult, error)
	CreateCryptoOrder(ctx context.Context, req CryptoOrderRequest) (string, error)
	CreateCashOrder(ctx context.Context, req CashOrderRequest) (string, error)
	OrderStatus(ctx context.Context, orderID string) (PaymentResult, error)
}

// CardIntentRequest creates a processor payment intent scoped to the
// merchant's sub-account.
type CardIntentRequest struct {
	AmountMinor    int64  `json:"amount"`
	Currency       string `json:"currency"`
	Account        string `json:"account"`
	IdempotencyKey string `json:"idempotency_key"`
}

// CardIntent is the processor's handle for a pending card payment.
type CardIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// ConfirmCardRequest confirms an intent with the tokenized card collected by
// the processor's hosted field in the browser.
type ConfirmCardRequest struct {
	IntentID  string `json:"intent_id"`
	CardToken string `json:"card_token"`
}

// CryptoOrderRequest materializes an order from an on-chain transfer.
type CryptoOrderRequest struct {
	TransactionHash string       `json:"transaction_hash"`
	TokenAmount     string       `json:"token_amount"`
	AmountMinor     int64        `json:"amount"`
	Details         OrderDetails `json:"details"`
	Lines           []cart.Line  `json:"lines"`
	MerchantID      int64        `json:"merchant_id"`
	IdempotencyKey  string       `json:"idempotency_key"`
}

// CashOrderRequest places a pay-on-delivery order.
type CashOrderRequest struct {
	AmountMinor    int64        `json:"amount"`
	Details        OrderDetails `json:"details"`
	Lines          []cart.Line  `json:"lines"`
	MerchantID     int64        `json:"merchant_id"`
	IdempotencyKey string       `json:"idempotency_key"`
}

// PaymentResult is a processor status snapshot.
type PaymentResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"` // "succeeded", "failed", "pending", "requires_action"
	Message string `json:"message,omitempty"`
}

// Terminal reports whether the status will not change on its own.
func (r PaymentResult) Terminal() bool {
	return r.Status == "succeeded" || r.Status == "failed"
}

// Wallet is the browser-reported state of the shopper's connected wallet.
// Connection and the transfer itself happen client-side; the engine only
// validates chain and hash.
type Wallet struct {
	Connected       bool   `json:"connected"`
	ChainID         int64  `json:"chain_id"`
	TransactionHash string `json:"transaction_hash,omitempty"`
}

// Instrument carries the method-specific inputs for one submission.
type Instrument struct {
	CardToken string  `json:"card_token,omitempty"`
	Wallet    *Wallet `json:"wallet,omitempty"`
}

// Confirmation describes a completed payment.
type Confirmation struct {
	OrderID     string `json:"order_id"`
	Method      Method `json:"method"`
	Total       string `json:"total"`
	TokenAmount string `json:"token_amount,omitempty"`
}

// Processor executes payments for an active checkout session.
type Processor struct {
	backend PaymentBackend
	config  core.PaymentsConfig
	logger  core.Logger
}

// NewProcessor creates a payment processor.
func NewProcessor(backend PaymentBackend, config core.PaymentsConfig, logger core.Logger) *Processor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Processor{backend: backend, config: config, logger: logger}
}

// Pay runs the selected method to a terminal state. On success the caller
// clears the cart, resets the session and refreshes order history; on
// failure the session stays at the payment step so the shopper can retry.
//
// One submission per session at a time: a second call while the first is
// pending returns ErrPaymentInFlight.
func (p *Processor) Pay(ctx context.Context, sess *Session, c *cart.Cart, merchant *catalog.Merchant, inst Instrument) (*Confirmation, error) {
	if sess.Step != StepPayment {
		return nil, fmt.Errorf("payment at step %q: %w", sess.Step, core.ErrCheckoutStepViolation)
	}
	if sess.PaymentPending {
		return nil, core.ErrPaymentInFlight
	}
	if c.IsEmpty() {
		return nil, core.ErrEmptyCart
	}

	sess.PaymentPending = true
	defer func() { sess.PaymentPending = false }()

	p.logger.Info("Executing payment", map[string]interface{}{
		"operation": "payment_execute",
		"method":    string(sess.Method),
		"amount":    c.Total(),
		"merchant":  merchant.Name,
	})

	var (
		conf *Confirmation
		err  error
	)
	switch sess.Method {
	case MethodCard:
		conf, err = p.payCard(ctx, sess, c, merchant, inst)
	case MethodCrypto:
		conf, err = p.payCrypto(ctx, sess, c, merchant, inst)
	case MethodCash:
		conf, err = p.payCash(ctx, sess, c, merchant)
	default:
		return nil, fmt.Errorf("no payment method selected: %w", core.ErrCheckoutStepViolation)
	}

	if err != nil {
		p.logger.Error("Payment failed", map[string]interface{}{
			"operation": "payment_execute",
			"method":    string(sess.Method),
			"error":     err.Error(),
		})
		return nil, err
	}

	p.logger.Info("Payment succeeded", map[string]interface{}{
		"operation": "payment_execute",
		"method":    string(sess.Method),
		"order_id":  conf.OrderID,
	})
	return conf, nil
}

func (p *Processor) payCard(ctx context.Context, sess *Session, c *cart.Cart, merchant *catalog.Merchant, inst Instrument) (*Confirmation, error) {
	intent, err := p.backend.CreateCardIntent(ctx, CardIntentRequest{
		AmountMinor:    c.TotalMinor(),
		Currency:       "aed",
		Account:        merchant.PaymentAccount,
		IdempotencyKey: sess.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create card intent: %w", err)
	}

	result, err := p.backend.ConfirmCardIntent(ctx, ConfirmCardRequest{
		IntentID:  intent.ID,
		CardToken: inst.CardToken,
	})
	if err != nil {
		return nil, fmt.Errorf("confirm card intent: %w", err)
	}
	if result.Status != "succeeded" {
		return nil, fmt.Errorf("%s: %w", result.Message, core.ErrPaymentDeclined)
	}

	return &Confirmation{OrderID: result.OrderID, Method: MethodCard, Total: c.Total()}, nil
}

func (p *Processor) payCrypto(ctx context.Context, sess *Session, c *cart.Cart, merchant *catalog.Merchant, inst Instrument) (*Confirmation, error) {
	w := inst.Wallet
	if w == nil || !w.Connected {
		return nil, core.ErrWalletNotConnected
	}
	if w.ChainID != p.config.CryptoChainID {
		return nil, fmt.Errorf("chain %d, expected %d: %w", w.ChainID, p.config.CryptoChainID, core.ErrWrongChain)
	}
	if w.TransactionHash == "" {
		return nil, fmt.Errorf("transfer hash missing: %w", core.ErrRequestFailed)
	}

	tokens := TokenAmount(c.TotalMinor(), p.config.TokenPerAED)

	orderID, err := p.backend.CreateCryptoOrder(ctx, CryptoOrderRequest{
		TransactionHash: w.TransactionHash,
		TokenAmount:     tokens,
		AmountMinor:     c.TotalMinor(),
		Details:         sess.Details,
		Lines:           c.Lines,
		MerchantID:      merchant.ID,
		IdempotencyKey:  sess.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create crypto order: %w", err)
	}

	// The transfer is already on chain; wait for the backend to confirm it
	// against the merchant's deposit address.
	var final PaymentResult
	err = resilience.Poll(ctx, p.config.PollInterval, p.config.PollMaxAttempts, func(ctx context.Context) (bool, error) {
		result, err := p.backend.OrderStatus(ctx, orderID)
		if err != nil {
			return false, fmt.Errorf("order status: %w", err)
		}
		if result.Terminal() {
			final = result
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		if errors.Is(err, core.ErrMaxRetriesExceeded) {
			return nil, fmt.Errorf("order %s still pending: %w", orderID, core.ErrVerificationTimeout)
		}
		return nil, err
	}
	if final.Status != "succeeded" {
		return nil, fmt.Errorf("%s: %w", final.Message, core.ErrPaymentDeclined)
	}

	return &Confirmation{OrderID: orderID, Method: MethodCrypto, Total: c.Total(), TokenAmount: tokens}, nil
}

func (p *Processor) payCash(ctx context.Context, sess *Session, c *cart.Cart, merchant *catalog.Merchant) (*Confirmation, error) {
	orderID, err := p.backend.CreateCashOrder(ctx, CashOrderRequest{
		AmountMinor:    c.TotalMinor(),
		Details:        sess.Details,
		Lines:          c.Lines,
		MerchantID:     merchant.ID,
		IdempotencyKey: sess.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create cash order: %w", err)
	}
	return &Confirmation{OrderID: orderID, Method: MethodCash, Total: c.Total()}, nil
}

// TokenAmount converts an AED minor-unit total to a stablecoin amount at a
// fixed rate, rendered with six decimal places.
func TokenAmount(totalMinor int64, tokenPerAED float64) string {
	tokens := float64(totalMinor) / 100.0 * tokenPerAED
	return strconv.FormatFloat(tokens, 'f', 6, 64)
}
