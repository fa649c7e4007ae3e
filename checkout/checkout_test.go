package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convocart/convocart/cart"
	"github.com/convocart/convocart/catalog"
	"github.com/convocart/convocart/core"
)

func testCart(t *testing.T) *cart.Cart {
	t.Helper()
	c := cart.New()
	require.NoError(t, c.AddItem(catalog.Item{
		ID: 1, MerchantID: 7, MerchantName: "Napoli", Name: "Margherita", Price: "10.00",
	}, 2))
	return c
}

func testUser() *core.UserRecord {
	return &core.UserRecord{
		ID: "u-1",
		Addresses: []core.Address{
			{Name: "Dana", Line: "Marina Walk 4", Phone: "+971500000001", Type: core.AddressHome},
			{Name: "Dana", Line: "Office Tower 12", Phone: "+971500000002", Type: core.AddressOffice},
		},
	}
}

func testMerchant() *catalog.Merchant {
	return &catalog.Merchant{
		ID: 7, Name: "Napoli",
		PaymentAccount: "acct_napoli",
		DepositAddress: "0xdeposit",
	}
}

func TestStart_AutoFillsFirstAddress(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.Start(testCart(t), testUser()))

	assert.Equal(t, StepDetails, s.Step)
	assert.Equal(t, "Dana", s.Details.Name)
	assert.Equal(t, "Marina Walk 4", s.Details.Address)
	assert.Equal(t, "+971500000001", s.Details.Phone)
	assert.NotEmpty(t, s.IdempotencyKey)
}

func TestStart_Guards(t *testing.T) {
	s := &Session{}
	assert.ErrorIs(t, s.Start(cart.New(), testUser()), core.ErrEmptyCart)
	assert.ErrorIs(t, s.Start(testCart(t), &core.UserRecord{}), core.ErrNoSavedAddress)
	assert.Equal(t, StepNone, s.Step)

	require.NoError(t, s.Start(testCart(t), testUser()))
	assert.ErrorIs(t, s.Start(testCart(t), testUser()), core.ErrCheckoutStepViolation)
}

// Step only ever advances none -> details -> payment -> none.
func TestStepOrder(t *testing.T) {
	s := &Session{}

	// Payment operations before the payment step are rejected.
	assert.ErrorIs(t, s.SelectMethod(MethodCard), core.ErrCheckoutStepViolation)
	assert.ErrorIs(t, s.AdvanceToPayment(), core.ErrCheckoutStepViolation)

	require.NoError(t, s.Start(testCart(t), testUser()))
	assert.ErrorIs(t, s.SelectMethod(MethodCard), core.ErrCheckoutStepViolation)

	require.NoError(t, s.AdvanceToPayment())
	assert.Equal(t, StepPayment, s.Step)
	require.NoError(t, s.SelectMethod(MethodCash))

	s.Complete()
	assert.Equal(t, StepNone, s.Step)
	assert.False(t, s.Active())
}

func TestMissingField_PromptOrder(t *testing.T) {
	s := &Session{Step: StepDetails}

	assert.Equal(t, FieldName, s.MissingField())
	require.NoError(t, s.CaptureField(FieldName, "Dana"))
	assert.Equal(t, FieldAddress, s.MissingField())
	require.NoError(t, s.CaptureField(FieldAddress, "Marina Walk 4"))
	assert.Equal(t, FieldPhone, s.MissingField())
	require.NoError(t, s.CaptureField(FieldPhone, "+971500000001"))
	assert.Equal(t, FieldNone, s.MissingField())

	require.NoError(t, s.AdvanceToPayment())
}

func TestAdvanceToPayment_NamesMissingField(t *testing.T) {
	s := &Session{Step: StepDetails, Details: OrderDetails{Name: "Dana", Address: "x"}}
	err := s.AdvanceToPayment()
	require.ErrorIs(t, err, core.ErrMissingOrderDetails)
	assert.Contains(t, err.Error(), "phone")
	assert.Equal(t, StepDetails, s.Step)
}

func TestSelectMethod_RotatesKeyOnSwitch(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.Start(testCart(t), testUser()))
	require.NoError(t, s.AdvanceToPayment())

	require.NoError(t, s.SelectMethod(MethodCard))
	key := s.IdempotencyKey

	// Re-selecting the same method keeps the attempt alive.
	require.NoError(t, s.SelectMethod(MethodCard))
	assert.Equal(t, key, s.IdempotencyKey)

	require.NoError(t, s.SelectMethod(MethodCrypto))
	assert.NotEqual(t, key, s.IdempotencyKey)
}

// Once a payment attempt is in flight the method is locked: switching would
// abandon a charge that may still land.
func TestSelectMethod_LockedWhilePaymentPending(t *testing.T) {
	s, _ := paymentSession(t, MethodCard)
	key := s.IdempotencyKey
	s.PaymentPending = true

	err := s.SelectMethod(MethodCash)
	require.ErrorIs(t, err, core.ErrPaymentInFlight)
	assert.Equal(t, MethodCard, s.Method)
	assert.Equal(t, key, s.IdempotencyKey)
}

// fakeBackend scripts the payment processor.
type fakeBackend struct {
	mu           sync.Mutex
	intentKeys   []string
	confirmCalls int
	cardResult   PaymentResult
	cardErr      error
	cryptoOrder  string
	cryptoErr    error
	cashOrder    string
	cashErr      error
	statuses     []PaymentResult
	statusCalls  int
}

func (f *fakeBackend) CreateCardIntent(ctx context.Context, req CardIntentRequest) (CardIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intentKeys = append(f.intentKeys, req.IdempotencyKey)
	return CardIntent{ID: "pi_1", ClientSecret: "sec"}, nil
}

func (f *fakeBackend) ConfirmCardIntent(ctx context.Context, req ConfirmCardRequest) (PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls++
	return f.cardResult, f.cardErr
}

func (f *fakeBackend) CreateCryptoOrder(ctx context.Context, req CryptoOrderRequest) (string, error) {
	return f.cryptoOrder, f.cryptoErr
}

func (f *fakeBackend) CreateCashOrder(ctx context.Context, req CashOrderRequest) (string, error) {
	return f.cashOrder, f.cashErr
}

func (f *fakeBackend) OrderStatus(ctx context.Context, orderID string) (PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.statusCalls
	f.statusCalls++
	if i >= len(f.statuses) {
		return PaymentResult{OrderID: orderID, Status: "pending"}, nil
	}
	return f.statuses[i], nil
}

func paymentsConfig() core.PaymentsConfig {
	return core.PaymentsConfig{
		CryptoChainID:   421614,
		TokenPerAED:     0.27,
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 5,
	}
}

func paymentSession(t *testing.T, method Method) (*Session, *cart.Cart) {
	t.Helper()
	s := &Session{}
	c := testCart(t)
	require.NoError(t, s.Start(c, testUser()))
	require.NoError(t, s.AdvanceToPayment())
	require.NoError(t, s.SelectMethod(method))
	return s, c
}

func TestPayCard_Success(t *testing.T) {
	backend := &fakeBackend{cardResult: PaymentResult{OrderID: "ord-9", Status: "succeeded"}}
	p := NewProcessor(backend, paymentsConfig(), nil)
	s, c := paymentSession(t, MethodCard)

	conf, err := p.Pay(context.Background(), s, c, testMerchant(), Instrument{CardToken: "tok_visa"})
	require.NoError(t, err)
	assert.Equal(t, "ord-9", conf.OrderID)
	assert.Equal(t, "20.00", conf.Total)
}

// A retry of the same failed attempt reuses the idempotency key, so the
// processor sees one attempt, not two orders.
func TestPayCard_DeclineThenRetryReusesKey(t *testing.T) {
	backend := &fakeBackend{cardResult: PaymentResult{Status: "failed", Message: "insufficient funds"}}
	p := NewProcessor(backend, paymentsConfig(), nil)
	s, c := paymentSession(t, MethodCard)

	_, err := p.Pay(context.Background(), s, c, testMerchant(), Instrument{CardToken: "tok_visa"})
	require.ErrorIs(t, err, core.ErrPaymentDeclined)
	assert.Contains(t, err.Error(), "insufficient funds")
	assert.Equal(t, StepPayment, s.Step, "decline keeps the payment step for retry")

	backend.cardResult = PaymentResult{OrderID: "ord-10", Status: "succeeded"}
	_, err = p.Pay(context.Background(), s, c, testMerchant(), Instrument{CardToken: "tok_visa"})
	require.NoError(t, err)

	require.Len(t, backend.intentKeys, 2)
	assert.Equal(t, backend.intentKeys[0], backend.intentKeys[1])
}

func TestPayCrypto_WalletGuards(t *testing.T) {
	p := NewProcessor(&fakeBackend{}, paymentsConfig(), nil)
	s, c := paymentSession(t, MethodCrypto)

	_, err := p.Pay(context.Background(), s, c, testMerchant(), Instrument{})
	assert.ErrorIs(t, err, core.ErrWalletNotConnected)

	_, err = p.Pay(context.Background(), s, c, testMerchant(), Instrument{
		Wallet: &Wallet{Connected: true, ChainID: 1, TransactionHash: "0xabc"},
	})
	assert.ErrorIs(t, err, core.ErrWrongChain)
}

func TestPayCrypto_PollsToSuccess(t *testing.T) {
	backend := &fakeBackend{
		cryptoOrder: "ord-c1",
		statuses: []PaymentResult{
			{Status: "pending"},
			{Status: "pending"},
			{OrderID: "ord-c1", Status: "succeeded"},
		},
	}
	p := NewProcessor(backend, paymentsConfig(), nil)
	s, c := paymentSession(t, MethodCrypto)

	conf, err := p.Pay(context.Background(), s, c, testMerchant(), Instrument{
		Wallet: &Wallet{Connected: true, ChainID: 421614, TransactionHash: "0xabc"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-c1", conf.OrderID)
	assert.Equal(t, "5.400000", conf.TokenAmount) // 20.00 AED at 0.27
	assert.Equal(t, 3, backend.statusCalls)
}

// Scenario: a status poll that never reaches a terminal state ends in a
// timeout, not an infinite pending state.
func TestPayCrypto_PollTimeout(t *testing.T) {
	backend := &fakeBackend{cryptoOrder: "ord-c2"} // every status "pending"
	p := NewProcessor(backend, paymentsConfig(), nil)
	s, c := paymentSession(t, MethodCrypto)

	_, err := p.Pay(context.Background(), s, c, testMerchant(), Instrument{
		Wallet: &Wallet{Connected: true, ChainID: 421614, TransactionHash: "0xabc"},
	})
	assert.ErrorIs(t, err, core.ErrVerificationTimeout)
	assert.Equal(t, 5, backend.statusCalls)
}

func TestPayCash_ImmediateSuccess(t *testing.T) {
	backend := &fakeBackend{cashOrder: "ord-cash"}
	p := NewProcessor(backend, paymentsConfig(), nil)
	s, c := paymentSession(t, MethodCash)

	conf, err := p.Pay(context.Background(), s, c, testMerchant(), Instrument{})
	require.NoError(t, err)
	assert.Equal(t, "ord-cash", conf.OrderID)
	assert.Zero(t, backend.statusCalls, "cash needs no polling")
}

func TestPay_RejectsConcurrentSubmission(t *testing.T) {
	s, c := paymentSession(t, MethodCash)
	s.PaymentPending = true

	p := NewProcessor(&fakeBackend{cashOrder: "x"}, paymentsConfig(), nil)
	_, err := p.Pay(context.Background(), s, c, testMerchant(), Instrument{})
	assert.ErrorIs(t, err, core.ErrPaymentInFlight)
}

func TestPay_WrongStepRejected(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.Start(testCart(t), testUser()))

	p := NewProcessor(&fakeBackend{}, paymentsConfig(), nil)
	_, err := p.Pay(context.Background(), s, testCart(t), testMerchant(), Instrument{})
	assert.ErrorIs(t, err, core.ErrCheckoutStepViolation)
}

func TestRotateKey(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.Start(testCart(t), testUser()))
	key := s.IdempotencyKey
	s.RotateKey()
	assert.NotEqual(t, key, s.IdempotencyKey)
}

func TestPollError_Propagates(t *testing.T) {
	// An OrderStatus transport error aborts the poll rather than burning
	// attempts against a dead backend.
	backend := &statusErrBackend{fakeBackend{cryptoOrder: "ord-c3"}}
	p := NewProcessor(backend, paymentsConfig(), nil)
	s, c := paymentSession(t, MethodCrypto)

	_, err := p.Pay(context.Background(), s, c, testMerchant(), Instrument{
		Wallet: &Wallet{Connected: true, ChainID: 421614, TransactionHash: "0xabc"},
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, core.ErrVerificationTimeout))
}

type statusErrBackend struct{ fakeBackend }

func (b *statusErrBackend) OrderStatus(ctx context.Context, orderID string) (PaymentResult, error) {
	return PaymentResult{}, core.ErrConnectionFailed
}
