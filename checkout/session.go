// Package checkout implements the order placement flow: a small step machine
// that collects delivery details, a payment method choice, and the three
// payment execution paths (card, stablecoin, cash).
package checkout

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/convocart/convocart/cart"
	"github.com/convocart/convocart/core"
)

// Step is the checkout machine's current position. The zero value means no
// checkout is in progress.
type Step string

const (
	StepNone    Step = ""
	StepDetails Step = "details"
	StepPayment Step = "payment"
)

// Method is the chosen payment instrument.
type Method string

const (
	MethodNone   Method = ""
	MethodCard   Method = "card"
	MethodCrypto Method = "crypto"
	MethodCash   Method = "cash"
)

// Field names the order-detail fields collected before payment.
type Field string

const (
	FieldName    Field = "name"
	FieldAddress Field = "address"
	FieldPhone   Field = "phone"
	FieldNone    Field = ""
)

// OrderDetails are the delivery fields required before payment.
type OrderDetails struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// Complete reports whether every field is filled.
func (d OrderDetails) Complete() bool {
	return d.Name != "" && d.Address != "" && d.Phone != ""
}

// Session is one checkout attempt. It is owned by the conversation session
// and, like the cart, has a single writer; it carries no locking of its own.
//
// IdempotencyKey identifies the current attempt to the payment backend.
// Retrying a failed submission reuses the key so the processor can
// de-duplicate; editing the cart or switching method rotates it, because
// either changes what is being bought.
type Session struct {
	Step           Step         `json:"step"`
	Details        OrderDetails `json:"details"`
	Method         Method       `json:"method"`
	IdempotencyKey string       `json:"idempotency_key"`
	PaymentPending bool         `json:"payment_pending"`
}

// Active reports whether a checkout is in progress.
func (s *Session) Active() bool {
	return s.Step != StepNone
}

// Start enters the details step. The cart must be non-empty, and the user
// must have at least one saved address; without one the caller should open
// address capture instead, and the step does not advance.
//
// The first saved address auto-fills the detail fields.
func (s *Session) Start(c *cart.Cart, user *core.UserRecord) error {
	if s.Active() {
		return fmt.Errorf("checkout already at %q: %w", s.Step, core.ErrCheckoutStepViolation)
	}
	if c == nil || c.IsEmpty() {
		return core.ErrEmptyCart
	}
	if user == nil || len(user.Addresses) == 0 {
		return core.ErrNoSavedAddress
	}

	first := user.Addresses[0]
	s.Step = StepDetails
	s.Details = OrderDetails{
		Name:    first.Name,
		Address: first.Line,
		Phone:   first.Phone,
	}
	s.Method = MethodNone
	s.IdempotencyKey = uuid.NewString()
	s.PaymentPending = false
	return nil
}

// MissingField returns the first unfilled detail field, in the order the
// legacy free-text flow prompts for them: name, then address, then phone.
func (s *Session) MissingField() Field {
	switch {
	case s.Details.Name == "":
		return FieldName
	case s.Details.Address == "":
		return FieldAddress
	case s.Details.Phone == "":
		return FieldPhone
	default:
		return FieldNone
	}
}

// CaptureField fills one detail field from a free-text reply.
func (s *Session) CaptureField(field Field, value string) error {
	if s.Step != StepDetails {
		return fmt.Errorf("capture %q at step %q: %w", field, s.Step, core.ErrCheckoutStepViolation)
	}
	switch field {
	case FieldName:
		s.Details.Name = value
	case FieldAddress:
		s.Details.Address = value
	case FieldPhone:
		s.Details.Phone = value
	default:
		return fmt.Errorf("unknown field %q: %w", field, core.ErrCheckoutStepViolation)
	}
	return nil
}

// SetDetails replaces the detail fields wholesale (structured form path).
func (s *Session) SetDetails(d OrderDetails) error {
	if s.Step != StepDetails {
		return fmt.Errorf("set details at step %q: %w", s.Step, core.ErrCheckoutStepViolation)
	}
	s.Details = d
	return nil
}

// AdvanceToPayment moves details -> payment. All three fields must be
// filled; the error reports which one is missing so the caller can prompt
// for it.
func (s *Session) AdvanceToPayment() error {
	if s.Step != StepDetails {
		return fmt.Errorf("advance at step %q: %w", s.Step, core.ErrCheckoutStepViolation)
	}
	if f := s.MissingField(); f != FieldNone {
		return fmt.Errorf("field %q is empty: %w", f, core.ErrMissingOrderDetails)
	}
	s.Step = StepPayment
	return nil
}

// SelectMethod records the payment instrument. Selecting a method does not
// change the step. Switching to a different method rotates the idempotency
// key: the previous attempt is dead. While a payment attempt is in flight
// the method is locked.
func (s *Session) SelectMethod(m Method) error {
	if s.Step != StepPayment {
		return fmt.Errorf("select method at step %q: %w", s.Step, core.ErrCheckoutStepViolation)
	}
	if s.PaymentPending {
		return fmt.Errorf("method locked by pending payment: %w", core.ErrPaymentInFlight)
	}
	switch m {
	case MethodCard, MethodCrypto, MethodCash:
	default:
		return fmt.Errorf("unknown method %q: %w", m, core.ErrCheckoutStepViolation)
	}
	if s.Method != MethodNone && s.Method != m {
		s.IdempotencyKey = uuid.NewString()
	}
	s.Method = m
	return nil
}

// RotateKey starts a fresh payment attempt. Called when the cart is edited
// mid-checkout.
func (s *Session) RotateKey() {
	s.IdempotencyKey = uuid.NewString()
}

// Complete resets after a successful payment.
func (s *Session) Complete() {
	*s = Session{}
}

// Abandon resets without side effects. Navigating away or clearing the cart
// mid-checkout discards the attempt.
func (s *Session) Abandon() {
	*s = Session{}
}
