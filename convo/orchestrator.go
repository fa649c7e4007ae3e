package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/convocart/convocart/cart"
	"github.com/convocart/convocart/catalog"
	"github.com/convocart/convocart/checkout"
	"github.com/convocart/convocart/core"
	"github.com/convocart/convocart/intent"
)

// FallbackReply is appended whenever a dispatch path fails. The shopper gets
// an apology, never a raw error.
const FallbackReply = "Sorry, something went wrong on my end. Could you try that again?"

// Captioner describes the vision service used to fold image turns into text.
type Captioner interface {
	CaptionImage(ctx context.Context, imageData []byte, mimeType string) (string, error)
}

// TurnInput is one raw user turn: text, a voice transcript, or an image.
type TurnInput struct {
	Text      string
	Via       Via
	ImageData []byte
	ImageMIME string
	// StreamCallback, when set, receives completion chunks as they arrive.
	StreamCallback core.StreamCallback
}

// Orchestrator drives a conversation turn end to end: admission, optional
// captioning, classification, dispatch, transcript append.
type Orchestrator struct {
	classifier *intent.Classifier
	resolver   *catalog.Resolver
	ai         core.AIClient
	captioner  Captioner
	logger     core.Logger
	telemetry  core.Telemetry
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(classifier *intent.Classifier, resolver *catalog.Resolver, ai core.AIClient, captioner Captioner, logger core.Logger, telemetry core.Telemetry) *Orchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Orchestrator{
		classifier: classifier,
		resolver:   resolver,
		ai:         ai,
		captioner:  captioner,
		logger:     logger,
		telemetry:  telemetry,
	}
}

// HandleTurn processes one user turn and returns the messages it appended
// (the user message and the assistant reply).
//
// A turn already in flight for this conversation returns ErrTurnInFlight
// without touching the transcript. Any dispatch failure becomes the fixed
// fallback reply, not an error.
func (o *Orchestrator) HandleTurn(ctx context.Context, conv *Conversation, in TurnInput) ([]Message, error) {
	if err := conv.BeginTurn(); err != nil {
		return nil, err
	}
	defer conv.EndTurn()

	ctx, span := o.telemetry.StartSpan(ctx, "convo.handle_turn")
	defer span.End()

	text := strings.TrimSpace(in.Text)
	imageDerived := false
	if len(in.ImageData) > 0 {
		caption, err := o.caption(ctx, in)
		if err != nil {
			span.RecordError(err)
			o.logger.Warn("Image captioning failed", map[string]interface{}{
				"operation": "handle_turn",
				"error":     err.Error(),
			})
			user := conv.Append(Message{Role: RoleUser, Kind: KindText, Text: text, Via: ViaImage})
			reply := conv.Append(Message{Role: RoleAssistant, Kind: KindText, Text: FallbackReply})
			return []Message{user, reply}, nil
		}
		if text == "" {
			text = fmt.Sprintf("[image: %s]", caption)
		} else {
			text = fmt.Sprintf("%s [image: %s]", text, caption)
		}
		imageDerived = true
		in.Via = ViaImage
	}
	if in.Via == "" {
		in.Via = ViaTyped
	}

	// An active checkout owns the turn; free text fills the next missing
	// detail field instead of being classified.
	if conv.Checkout.Active() {
		return o.handleCheckoutTurn(conv, text, in.Via), nil
	}

	classified := o.classifier.Classify(ctx, intent.Input{
		Utterance:      text,
		ActiveMerchant: conv.ActiveMerchantID,
		History:        o.history(conv),
		ImageDerived:   imageDerived,
	})
	span.SetAttribute("turn.intent", string(classified))

	user := conv.Append(Message{Role: RoleUser, Kind: KindText, Text: text, Intent: classified, Via: in.Via})

	reply, err := o.dispatch(ctx, conv, classified, text, in.StreamCallback)
	if err != nil {
		span.RecordError(err)
		o.logger.Error("Turn dispatch failed", map[string]interface{}{
			"operation": "handle_turn",
			"intent":    string(classified),
			"error":     err.Error(),
		})
		reply = Message{Role: RoleAssistant, Kind: KindText, Text: FallbackReply}
	}
	appended := conv.Append(reply)
	return []Message{user, appended}, nil
}

func (o *Orchestrator) caption(ctx context.Context, in TurnInput) (string, error) {
	if o.captioner == nil {
		return "", fmt.Errorf("no captioner: %w", core.ErrMissingConfiguration)
	}
	return o.captioner.CaptionImage(ctx, in.ImageData, in.ImageMIME)
}

func (o *Orchestrator) dispatch(ctx context.Context, conv *Conversation, classified intent.Intent, text string, stream core.StreamCallback) (Message, error) {
	switch classified {
	case intent.RestaurantQuery, intent.Browse:
		return o.recommendMerchants(ctx, conv, text)
	case intent.Checkout:
		return o.StartCheckout(conv), nil
	default: // MenuQuery, General
		return o.complete(ctx, conv, text, stream)
	}
}

// recommendMerchants formats a carousel from the recommender's ids. An empty
// recommendation degrades to a plain-text reply.
func (o *Orchestrator) recommendMerchants(ctx context.Context, conv *Conversation, text string) (Message, error) {
	q := catalog.Query{Text: text, Context: o.recentContext(conv)}
	if conv.User != nil && len(conv.User.Addresses) > 0 {
		q.Address = &conv.User.Addresses[0]
	}

	rec := o.resolver.RecommendMerchants(ctx, q)
	if len(rec.MerchantIDs) == 0 {
		return Message{Role: RoleAssistant, Kind: KindText,
			Text: "I couldn't find a good match nearby. Could you tell me more about what you're craving?"}, nil
	}

	merchants, err := o.resolver.MerchantsByIDs(ctx, rec.MerchantIDs)
	if err != nil {
		return Message{}, err
	}
	if len(merchants) > 0 {
		conv.SetActiveMerchant(merchants[0].ID, merchants[0].Name)
	}
	return Message{
		Role:     RoleAssistant,
		Kind:     KindMerchantCarousel,
		Text:     "Here's what I found for you:",
		Carousel: &CarouselPayload{Merchants: merchants},
	}, nil
}

// completionPayload is the strict-JSON shape menu-aware completions return.
type completionPayload struct {
	Reply   string  `json:"reply"`
	ItemIDs []int64 `json:"item_ids"`
}

// complete forwards the turn to the completion service. With an active
// merchant the prompt carries the catalog and asks for a JSON reply naming
// any items worth surfacing; those become an item-suggestion payload.
func (o *Orchestrator) complete(ctx context.Context, conv *Conversation, text string, stream core.StreamCallback) (Message, error) {
	prompt, structured, err := o.buildPrompt(ctx, conv, text)
	if err != nil {
		return Message{}, err
	}

	options := &core.AIOptions{Temperature: 0.7, MaxTokens: 600}

	var resp *core.AIResponse
	if stream != nil && o.ai.SupportsStreaming() && !structured {
		resp, err = o.ai.StreamResponse(ctx, prompt, options, stream)
	} else {
		resp, err = o.ai.GenerateResponse(ctx, prompt, options)
	}
	if err != nil {
		return Message{}, err
	}

	if !structured {
		return Message{Role: RoleAssistant, Kind: KindText, Text: resp.Content}, nil
	}

	var payload completionPayload
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &payload); err != nil || payload.Reply == "" {
		// The model ignored the format; use its text as-is.
		return Message{Role: RoleAssistant, Kind: KindText, Text: resp.Content}, nil
	}

	msg := Message{Role: RoleAssistant, Kind: KindText, Text: payload.Reply}
	if len(payload.ItemIDs) > 0 {
		items, err := o.resolver.ItemsByIDs(ctx, conv.ActiveMerchantID, payload.ItemIDs)
		if err == nil && len(items) > 0 {
			msg.Kind = KindItemSuggestion
			msg.Suggestion = &SuggestionPayload{Items: items}
		}
	}
	return msg, nil
}

func (o *Orchestrator) buildPrompt(ctx context.Context, conv *Conversation, text string) (string, bool, error) {
	var sb strings.Builder
	sb.WriteString("You are a helpful food ordering assistant.\n")

	structured := false
	if conv.ActiveMerchantID != 0 {
		items, err := o.resolver.PromptItems(ctx, conv.ActiveMerchantID)
		if err != nil {
			return "", false, fmt.Errorf("catalog for prompt: %w", err)
		}
		if len(items) > 0 {
			structured = true
			fmt.Fprintf(&sb, "The shopper is browsing %s. Menu:\n", conv.ActiveMerchant)
			for _, it := range items {
				fmt.Fprintf(&sb, "- id=%d %s (%s): %s\n", it.ID, it.Name, it.Price, it.Description)
			}
			sb.WriteString("Respond with only JSON: {\"reply\": \"<your answer>\", \"item_ids\": [<ids of up to 3 items worth suggesting, or empty>]}\n")
		}
	}

	if history := o.recentContext(conv); history != "" {
		sb.WriteString("Recent conversation:\n")
		sb.WriteString(history)
	}
	sb.WriteString("Shopper: ")
	sb.WriteString(text)
	return sb.String(), structured, nil
}

// StartCheckout opens the checkout flow and returns the message describing
// the outcome. The message is not yet on the transcript; HandleTurn appends
// it for classified turns, and BeginCheckout does for the explicit action.
func (o *Orchestrator) StartCheckout(conv *Conversation) Message {
	err := conv.Checkout.Start(conv.Cart, conv.User)
	switch {
	case err == nil:
		return Message{
			Role: RoleAssistant,
			Kind: KindOrderSummary,
			Text: "Here's your order. Are these delivery details right?",
			Summary: &SummaryPayload{
				Lines:   conv.Cart.Lines,
				Total:   conv.Cart.Total(),
				Details: conv.Checkout.Details,
			},
		}
	case errors.Is(err, core.ErrEmptyCart):
		return Message{Role: RoleAssistant, Kind: KindText,
			Text: "Your cart is empty. Add something first and I'll get you checked out."}
	case errors.Is(err, core.ErrNoSavedAddress):
		return Message{Role: RoleAssistant, Kind: KindText,
			Text: "I need a delivery address first. Please add one to continue."}
	default:
		return Message{Role: RoleAssistant, Kind: KindText, Text: FallbackReply}
	}
}

// BeginCheckout starts checkout from the explicit checkout action and
// appends the resulting message.
func (o *Orchestrator) BeginCheckout(conv *Conversation) Message {
	return conv.Append(o.StartCheckout(conv))
}

// handleCheckoutTurn routes free text into the checkout machine: each reply
// fills the next missing detail field, then the flow advances to payment.
func (o *Orchestrator) handleCheckoutTurn(conv *Conversation, text string, via Via) []Message {
	user := conv.Append(Message{Role: RoleUser, Kind: KindText, Text: text, Intent: intent.Checkout, Via: via})

	sess := conv.Checkout
	if sess.Step == checkout.StepDetails {
		if f := sess.MissingField(); f != checkout.FieldNone {
			if err := sess.CaptureField(f, text); err != nil {
				reply := conv.Append(Message{Role: RoleAssistant, Kind: KindText, Text: FallbackReply})
				return []Message{user, reply}
			}
		}
		if f := sess.MissingField(); f != checkout.FieldNone {
			reply := conv.Append(Message{Role: RoleAssistant, Kind: KindText, Text: fieldPrompt(f)})
			return []Message{user, reply}
		}
		if err := sess.AdvanceToPayment(); err != nil {
			reply := conv.Append(Message{Role: RoleAssistant, Kind: KindText, Text: FallbackReply})
			return []Message{user, reply}
		}
		reply := conv.Append(Message{Role: RoleAssistant, Kind: KindText,
			Text: "Great. How would you like to pay: card, stablecoin, or cash?"})
		return []Message{user, reply}
	}

	// Payment step: method choice and submission arrive through dedicated
	// endpoints, so free text here just restates the options.
	reply := conv.Append(Message{Role: RoleAssistant, Kind: KindText,
		Text: "Pick a payment method to finish: card, stablecoin, or cash."})
	return []Message{user, reply}
}

func fieldPrompt(f checkout.Field) string {
	switch f {
	case checkout.FieldName:
		return "What name should the order be under?"
	case checkout.FieldAddress:
		return "Where should we deliver it?"
	case checkout.FieldPhone:
		return "And a phone number for the courier?"
	default:
		return FallbackReply
	}
}

// RecordConfirmation appends the order confirmation, clears the cart, and
// closes the checkout. Called after a payment reaches success.
func (o *Orchestrator) RecordConfirmation(conv *Conversation, conf *checkout.Confirmation) Message {
	msg := conv.Append(Message{
		Role: RoleAssistant,
		Kind: KindOrderConfirmation,
		Text: fmt.Sprintf("Order %s confirmed. Total %s.", conf.OrderID, conf.Total),
		Confirmation: &ConfirmationPayload{
			OrderID:     conf.OrderID,
			Method:      conf.Method,
			Total:       conf.Total,
			TokenAmount: conf.TokenAmount,
			Lines:       append([]cart.Line(nil), conv.Cart.Lines...),
		},
	})
	conv.Cart.Clear()
	conv.Checkout.Complete()
	return msg
}

// history projects the transcript into classifier turns.
func (o *Orchestrator) history(conv *Conversation) []intent.Turn {
	var turns []intent.Turn
	for _, m := range conv.Messages {
		switch {
		case m.Role == RoleUser:
			turns = append(turns, intent.Turn{Text: m.Text})
		case m.Kind == KindItemSuggestion && m.Suggestion != nil:
			var names []string
			for _, it := range m.Suggestion.Items {
				names = append(names, it.Name)
			}
			if len(turns) > 0 {
				turns[len(turns)-1].RecommendedItems = names
			}
		}
	}
	return turns
}

// recentContext renders the last few turns as prompt context.
func (o *Orchestrator) recentContext(conv *Conversation) string {
	const maxTurns = 6
	start := len(conv.Messages) - maxTurns
	if start < 0 {
		start = 0
	}
	var sb strings.Builder
	for _, m := range conv.Messages[start:] {
		if m.Kind != KindText && m.Kind != KindItemSuggestion {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Text)
	}
	return sb.String()
}

// extractJSON trims prose the model may wrap around a JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
