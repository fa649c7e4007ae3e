package intent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/convocart/convocart/cache"
	"github.com/convocart/convocart/core"
)

type fakeAI struct {
	response string
	err      error
	calls    int
}

func (f *fakeAI) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &core.AIResponse{Content: f.response}, nil
}

func (f *fakeAI) StreamResponse(ctx context.Context, prompt string, options *core.AIOptions, callback core.StreamCallback) (*core.AIResponse, error) {
	return f.GenerateResponse(ctx, prompt, options)
}

func (f *fakeAI) SupportsStreaming() bool { return false }

func newClassifier(ai core.AIClient) (*Classifier, *cache.Service) {
	c := cache.New(100, nil)
	ttl := core.CacheConfig{IntentTTL: time.Minute}
	return NewClassifier(DefaultConfig(), ai, c, ttl, nil), c
}

func TestClassify_ShortCircuits(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Intent
	}{
		{
			name: "image always means menu query",
			in:   Input{Utterance: "what is this", ImageDerived: true},
			want: MenuQuery,
		},
		{
			name: "restaurant keyword with no active merchant",
			in:   Input{Utterance: "which restaurants are open now?"},
			want: RestaurantQuery,
		},
		{
			name: "restaurant keyword ignored when a merchant is active",
			in:   Input{Utterance: "where are you", ActiveMerchant: 7},
			want: General, // no short-circuit fires; stubbed remote answers GENERAL
		},
		{
			name: "menu keyword",
			in:   Input{Utterance: "show me the menu"},
			want: MenuQuery,
		},
		{
			name: "what should I eat",
			in:   Input{Utterance: "What should I get today?"},
			want: MenuQuery,
		},
		{
			name: "greeting with punctuation",
			in:   Input{Utterance: "Hello!!"},
			want: General,
		},
		{
			name: "plain hello",
			in:   Input{Utterance: "hello"},
			want: General,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := &fakeAI{response: `{"text": "GENERAL"}`}
			c, _ := newClassifier(ai)
			got := c.Classify(context.Background(), tt.in)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Scenario: keyword and greeting short-circuits must not touch the remote
// classifier at all.
func TestClassify_ShortCircuitsSkipRemote(t *testing.T) {
	ai := &fakeAI{response: `{"text": "GENERAL"}`}
	c, _ := newClassifier(ai)

	assert.Equal(t, General, c.Classify(context.Background(), Input{Utterance: "hello"}))
	assert.Equal(t, MenuQuery, c.Classify(context.Background(), Input{Utterance: "show me the menu"}))
	assert.Equal(t, 0, ai.calls)
}

func TestClassify_RemoteFallback(t *testing.T) {
	ai := &fakeAI{response: `{"text": "MENU_QUERY"}`}
	c, _ := newClassifier(ai)

	got := c.Classify(context.Background(), Input{Utterance: "something with truffle maybe"})
	assert.Equal(t, MenuQuery, got)
	assert.Equal(t, 1, ai.calls)
}

// Classifier idempotence: the same utterance with the same merchant within
// the TTL issues at most one remote call.
func TestClassify_RemoteResultCached(t *testing.T) {
	ai := &fakeAI{response: `{"text": "MENU_QUERY"}`}
	c, _ := newClassifier(ai)

	in := Input{Utterance: "something with truffle maybe"}
	_ = c.Classify(context.Background(), in)
	got := c.Classify(context.Background(), in)
	assert.Equal(t, MenuQuery, got)
	assert.Equal(t, 1, ai.calls)
}

func TestClassify_MalformedJSONFallsBackToSubstring(t *testing.T) {
	ai := &fakeAI{response: "I think this is a MENU_QUERY."}
	c, _ := newClassifier(ai)

	got := c.Classify(context.Background(), Input{Utterance: "surprise me tonight"})
	assert.Equal(t, MenuQuery, got)
}

func TestClassify_RemoteFailureDefaultsToGeneral(t *testing.T) {
	ai := &fakeAI{err: errors.New("model down")}
	c, _ := newClassifier(ai)

	got := c.Classify(context.Background(), Input{Utterance: "surprise me tonight"})
	assert.Equal(t, General, got)
}

func TestClassify_HistoryBounded(t *testing.T) {
	ai := &fakeAI{response: `{"text": "GENERAL"}`}
	c, _ := newClassifier(ai)

	history := make([]Turn, 10)
	for i := range history {
		history[i] = Turn{Text: "turn"}
	}
	prompt := c.buildPrompt(Input{Utterance: "ambiguous", History: history})
	// Only the last five turns are folded into the prompt.
	assert.Equal(t, 5, strings.Count(prompt, "turn\n"))
}
