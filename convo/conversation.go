package convo

import (
	"sync"

	"github.com/google/uuid"

	"github.com/convocart/convocart/cart"
	"github.com/convocart/convocart/checkout"
	"github.com/convocart/convocart/core"
)

// Conversation is the full state of one shopper's session: transcript, cart,
// checkout attempt, and the user replica. It serializes to JSON for the
// session store; the in-flight flag and lock do not survive a round trip,
// which is correct — a persisted conversation has no pending turn.
type Conversation struct {
	ID               string               `json:"id"`
	UserID           string               `json:"user_id"`
	Messages         []Message            `json:"messages"`
	Cart             *cart.Cart           `json:"cart"`
	Checkout         *checkout.Session    `json:"checkout"`
	User             *core.UserRecord     `json:"user,omitempty"`
	ActiveMerchantID int64                `json:"active_merchant_id"`
	ActiveMerchant   string               `json:"active_merchant"`

	seq    int64
	mu     sync.Mutex
	inTurn bool
}

// NewConversation creates an empty conversation for a user.
func NewConversation(user *core.UserRecord) *Conversation {
	conv := &Conversation{
		ID:       uuid.NewString(),
		Cart:     cart.New(),
		Checkout: &checkout.Session{},
		User:     user,
	}
	if user != nil {
		conv.UserID = user.ID
	}
	return conv
}

// Append adds a message, assigning its id and sequence number. Transcript
// order is append order.
func (c *Conversation) Append(m Message) Message {
	c.seq++
	m.ID = uuid.NewString()
	m.Seq = c.seq
	c.Messages = append(c.Messages, m)
	return m
}

// BeginTurn claims the conversation for one turn. A second turn submitted
// while the first is still pending is rejected; this is the sole admission
// control on the transcript.
func (c *Conversation) BeginTurn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inTurn {
		return core.ErrTurnInFlight
	}
	c.inTurn = true
	return nil
}

// EndTurn releases the conversation.
func (c *Conversation) EndTurn() {
	c.mu.Lock()
	c.inTurn = false
	c.mu.Unlock()
}

// Reset clears the transcript and abandons any active checkout. An address
// or profile change invalidates what has been said and auto-filled so far;
// the cart survives, and a restarted checkout re-derives its details from
// the updated user record.
func (c *Conversation) Reset() {
	c.Messages = nil
	c.seq = 0
	if c.Checkout.Active() {
		c.Checkout.Abandon()
	}
}

// SetActiveMerchant records which merchant's catalog is being browsed.
func (c *Conversation) SetActiveMerchant(id int64, name string) {
	c.ActiveMerchantID = id
	c.ActiveMerchant = name
}

// ClearCart empties the cart and abandons any checkout in progress, since a
// checkout over an empty cart is meaningless.
func (c *Conversation) ClearCart() {
	c.Cart.Clear()
	if c.Checkout.Active() {
		c.Checkout.Abandon()
	}
}

// RestoreSeq re-establishes the sequence counter after loading from the
// session store.
func (c *Conversation) RestoreSeq() {
	var max int64
	for _, m := range c.Messages {
		if m.Seq > max {
			max = m.Seq
		}
	}
	c.seq = max
}
