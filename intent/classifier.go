// Package intent maps free-text user input to one of a closed set of query
// intents. Cheap keyword short-circuits answer the common cases locally;
// ambiguous phrasing falls through to the remote completion service.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/convocart/convocart/cache"
	"github.com/convocart/convocart/core"
)

// Intent classifies a user utterance.
type Intent string

const (
	MenuQuery       Intent = "MENU_QUERY"
	RestaurantQuery Intent = "RESTAURANT_QUERY"
	General         Intent = "GENERAL"
	Checkout        Intent = "CHECKOUT"
	Browse          Intent = "BROWSE"
)

// Config holds the tunable keyword lists. These are configuration, not
// constants: deployments adjust them without code changes.
type Config struct {
	RestaurantKeywords []string `yaml:"restaurant_keywords"`
	MenuKeywords       []string `yaml:"menu_keywords"`
	Greetings          []string `yaml:"greetings"`
	HistoryTurns       int      `yaml:"history_turns"`
}

// DefaultConfig returns the stock keyword lists.
func DefaultConfig() Config {
	return Config{
		RestaurantKeywords: []string{
			"restaurant", "restaurants", "where", "open", "hours", "address",
			"near me", "nearby", "location", "deliver to",
		},
		MenuKeywords: []string{
			"price", "menu", "order", "recommend", "what should",
			"how much", "hungry", "eat", "food", "dish",
		},
		Greetings: []string{
			"hi", "hello", "hey", "good morning", "good afternoon",
			"good evening", "salam", "yo", "thanks", "thank you",
		},
		HistoryTurns: 5,
	}
}

// Turn is one prior user turn the remote classifier may use as context.
type Turn struct {
	Text             string
	RecommendedItems []string
}

// Input is the full classification request.
type Input struct {
	Utterance      string
	ActiveMerchant int64 // 0 when no merchant is being browsed
	History        []Turn
	ImageDerived   bool
}

// Classifier resolves an Input to an Intent.
type Classifier struct {
	cfg    Config
	ai     core.AIClient
	cache  *cache.Service
	ttl    core.CacheConfig
	logger core.Logger
}

// NewClassifier creates a classifier. ai may be nil in tests exercising only
// the short-circuit paths.
func NewClassifier(cfg Config, ai core.AIClient, cacheSvc *cache.Service, ttl core.CacheConfig, logger core.Logger) *Classifier {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultConfig().HistoryTurns
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Classifier{
		cfg:    cfg,
		ai:     ai,
		cache:  cacheSvc,
		ttl:    ttl,
		logger: logger,
	}
}

// Classify applies the ordered rules from cheapest to most expensive. First
// match wins. Remote failure, like any ambiguity, resolves to General.
func (c *Classifier) Classify(ctx context.Context, in Input) Intent {
	// An uploaded image always implies a catalog search.
	if in.ImageDerived {
		return MenuQuery
	}

	lowered := strings.ToLower(strings.TrimSpace(in.Utterance))

	if in.ActiveMerchant == 0 && containsAny(lowered, c.cfg.RestaurantKeywords) {
		return RestaurantQuery
	}
	if containsAny(lowered, c.cfg.MenuKeywords) {
		return MenuQuery
	}
	if c.isGreeting(lowered) {
		return General
	}

	key := lowered + "|" + strconv.FormatInt(in.ActiveMerchant, 10)
	v, err := c.cache.GetOrFetch(ctx, cache.BucketIntent, key, c.ttl.IntentTTL, func(ctx context.Context) (interface{}, error) {
		return c.classifyRemote(ctx, in)
	})
	if err != nil {
		c.logger.Warn("Remote classification failed, defaulting to GENERAL", map[string]interface{}{
			"operation": "intent_classify",
			"error":     err.Error(),
		})
		return General
	}
	return v.(Intent)
}

func (c *Classifier) isGreeting(lowered string) bool {
	stripped := strings.TrimRight(lowered, "!.?, ")
	for _, g := range c.cfg.Greetings {
		if stripped == g {
			return true
		}
	}
	return false
}

func (c *Classifier) classifyRemote(ctx context.Context, in Input) (Intent, error) {
	resp, err := c.ai.GenerateResponse(ctx, c.buildPrompt(in), &core.AIOptions{
		SystemPrompt: "You classify food-ordering chat messages. Answer with strict JSON only.",
		Temperature:  0,
		MaxTokens:    20,
	})
	if err != nil {
		return General, err
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err == nil {
		switch strings.ToUpper(strings.TrimSpace(parsed.Text)) {
		case string(MenuQuery):
			return MenuQuery, nil
		case string(General):
			return General, nil
		}
	}

	// Parse failure: fall back to substring match on the raw text.
	upper := strings.ToUpper(resp.Content)
	if strings.Contains(upper, string(MenuQuery)) {
		return MenuQuery, nil
	}
	return General, nil
}

func (c *Classifier) buildPrompt(in Input) string {
	history := in.History
	if len(history) > c.cfg.HistoryTurns {
		history = history[len(history)-c.cfg.HistoryTurns:]
	}

	var sb strings.Builder
	for _, turn := range history {
		sb.WriteString(turn.Text)
		if len(turn.RecommendedItems) > 0 {
			sb.WriteString(" | ")
			sb.WriteString(strings.Join(turn.RecommendedItems, " | "))
		}
		sb.WriteString("\n")
	}

	return fmt.Sprintf(`Recent conversation:
%s
New message: %q

Is the new message asking about food, dishes, menus, prices, or ordering (MENU_QUERY), or is it small talk or a general question (GENERAL)?
Respond with strict JSON only: {"text": "MENU_QUERY"} or {"text": "GENERAL"}`, sb.String(), in.Utterance)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
