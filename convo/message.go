// Package convo holds the conversation state and the orchestrator that turns
// a raw user utterance into transcript messages.
package convo

import (
	"github.com/convocart/convocart/cart"
	"github.com/convocart/convocart/catalog"
	"github.com/convocart/convocart/checkout"
	"github.com/convocart/convocart/intent"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind discriminates the message payload. Exactly one payload field is set
// for the non-text kinds.
type Kind string

const (
	KindText              Kind = "text"
	KindMerchantCarousel  Kind = "merchant_carousel"
	KindItemSuggestion    Kind = "item_suggestion"
	KindOrderSummary      Kind = "order_summary"
	KindOrderConfirmation Kind = "order_confirmation"
)

// Via records how a user turn arrived.
type Via string

const (
	ViaTyped Via = "typed"
	ViaVoice Via = "voice"
	ViaImage Via = "image"
)

// CarouselPayload lists recommended merchants.
type CarouselPayload struct {
	Merchants []catalog.Merchant `json:"merchants"`
}

// SuggestionPayload carries catalog items surfaced alongside a reply.
type SuggestionPayload struct {
	Items []catalog.Item `json:"items"`
}

// SummaryPayload recaps the cart and delivery details before payment.
type SummaryPayload struct {
	Lines   []cart.Line           `json:"lines"`
	Total   string                `json:"total"`
	Details checkout.OrderDetails `json:"details"`
}

// ConfirmationPayload reports a placed order.
type ConfirmationPayload struct {
	OrderID     string          `json:"order_id"`
	Method      checkout.Method `json:"method"`
	Total       string          `json:"total"`
	TokenAmount string          `json:"token_amount,omitempty"`
	Lines       []cart.Line     `json:"lines"`
}

// Message is one transcript entry. ID is collision-resistant (uuid); Seq is
// the per-conversation append order.
type Message struct {
	ID   string `json:"id"`
	Seq  int64  `json:"seq"`
	Role Role   `json:"role"`
	Kind Kind   `json:"kind"`
	Text string `json:"text,omitempty"`

	Intent intent.Intent `json:"intent,omitempty"` // user messages only
	Via    Via           `json:"via,omitempty"`    // user messages only

	Carousel     *CarouselPayload     `json:"carousel,omitempty"`
	Suggestion   *SuggestionPayload   `json:"suggestion,omitempty"`
	Summary      *SummaryPayload      `json:"summary,omitempty"`
	Confirmation *ConfirmationPayload `json:"confirmation,omitempty"`
}
