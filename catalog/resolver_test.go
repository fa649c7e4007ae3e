package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convocart/convocart/cache"
	"github.com/convocart/convocart/core"
)

type fakeService struct {
	catalogCalls  int
	catalog       []Item
	catalogErr    error
	merchants     []Merchant
	merchantsErr  error
	merchantCalls int
}

func (f *fakeService) GetCatalog(ctx context.Context, merchantID int64) ([]Item, error) {
	f.catalogCalls++
	return f.catalog, f.catalogErr
}

func (f *fakeService) GetMerchantList(ctx context.Context, near *core.Coordinates) ([]Merchant, error) {
	f.merchantCalls++
	return f.merchants, f.merchantsErr
}

func (f *fakeService) GetItemsByIDs(ctx context.Context, ids []int64, merchantID int64) ([]Item, error) {
	return f.catalog, nil
}

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

func testConfig() core.CacheConfig {
	return core.CacheConfig{
		CatalogTTL:        2 * time.Minute,
		IntentTTL:         time.Minute,
		RecommendationTTL: time.Minute,
		MaxEntries:        100,
	}
}

func newResolver(svc Service, ai core.AIClient, radius float64) *Resolver {
	return NewResolver(svc, ai, cache.New(100, nil), testConfig(), radius, nil, nil)
}

func TestCatalog_Cached(t *testing.T) {
	svc := &fakeService{catalog: []Item{{ID: 1, Name: "Margherita", Price: "30.00"}}}
	r := newResolver(svc, &fakeAI{}, 0)

	items, err := r.Catalog(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = r.Catalog(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.catalogCalls, "second lookup within TTL must hit cache")
}

func TestItemByID(t *testing.T) {
	svc := &fakeService{catalog: []Item{
		{ID: 1, Name: "Margherita"},
		{ID: 2, Name: "Pepperoni"},
	}}
	r := newResolver(svc, &fakeAI{}, 0)

	item, err := r.ItemByID(context.Background(), 7, 2)
	require.NoError(t, err)
	assert.Equal(t, "Pepperoni", item.Name)

	_, err = r.ItemByID(context.Background(), 7, 99)
	assert.ErrorIs(t, err, core.ErrItemNotFound)
}

func TestItemsByIDs_PreservesOrderSkipsUnknown(t *testing.T) {
	svc := &fakeService{catalog: []Item{
		{ID: 1, Name: "A"}, {ID: 2, Name: "B"}, {ID: 3, Name: "C"},
	}}
	r := newResolver(svc, &fakeAI{}, 0)

	items, err := r.ItemsByIDs(context.Background(), 7, []int64{3, 99, 1})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "C", items[0].Name)
	assert.Equal(t, "A", items[1].Name)
}

func TestPromptItems_DropsInternalFields(t *testing.T) {
	svc := &fakeService{catalog: []Item{{
		ID: 1, Name: "Margherita", Description: "Tomato and mozzarella",
		Price: "30.00", ImageURL: "https://cdn/img.png", Available: true, NutritionScore: 0.8,
	}}}
	r := newResolver(svc, &fakeAI{}, 0)

	items, err := r.PromptItems(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, PromptItem{ID: 1, Name: "Margherita", Description: "Tomato and mozzarella", Price: "30.00"}, items[0])
}

func TestRecommendMerchants_GeoFilterAndParse(t *testing.T) {
	dubai := core.Coordinates{Lat: 25.2048, Lng: 55.2708}
	nearby := core.Coordinates{Lat: 25.21, Lng: 55.28}
	faraway := core.Coordinates{Lat: 24.4539, Lng: 54.3773} // Abu Dhabi

	svc := &fakeService{merchants: []Merchant{
		{ID: 1, Name: "Near Pizza", Coordinates: &nearby},
		{ID: 2, Name: "Far Pizza", Coordinates: &faraway},
	}}
	ai := &fakeAI{response: `{"merchant_ids": [1, 2]}`}
	r := newResolver(svc, ai, 5)

	rec := r.RecommendMerchants(context.Background(), Query{
		Text:    "pizza near me",
		Address: &core.Address{Coordinates: &dubai},
	})
	// id 2 is outside the radius, so it is not a candidate and the model's
	// mention of it is discarded.
	assert.Equal(t, []int64{1}, rec.MerchantIDs)
}

func TestRecommendMerchants_RemoteFailureReturnsEmpty(t *testing.T) {
	svc := &fakeService{merchants: []Merchant{{ID: 1, Name: "Pizza"}}}
	ai := &fakeAI{err: errors.New("model unavailable")}
	r := newResolver(svc, ai, 0)

	rec := r.RecommendMerchants(context.Background(), Query{Text: "pizza"})
	assert.Empty(t, rec.MerchantIDs)
}

func TestRecommendMerchants_MerchantListFailureReturnsEmpty(t *testing.T) {
	svc := &fakeService{merchantsErr: errors.New("network down")}
	r := newResolver(svc, &fakeAI{}, 0)

	rec := r.RecommendMerchants(context.Background(), Query{Text: "pizza"})
	assert.Empty(t, rec.MerchantIDs)
}

func TestRecommendMerchants_Cached(t *testing.T) {
	svc := &fakeService{merchants: []Merchant{{ID: 1, Name: "Pizza"}}}
	ai := &fakeAI{response: `{"merchant_ids": [1]}`}
	r := newResolver(svc, ai, 0)

	q := Query{Text: "best pizza"}
	_ = r.RecommendMerchants(context.Background(), q)
	_ = r.RecommendMerchants(context.Background(), q)
	assert.Equal(t, 1, ai.calls, "identical query within TTL must not re-call the model")
}

func TestRecommendMerchants_ProseWrappedJSON(t *testing.T) {
	svc := &fakeService{merchants: []Merchant{{ID: 4, Name: "Sushi"}}}
	ai := &fakeAI{response: "Sure! Here you go: {\"merchant_ids\": [4]} Enjoy."}
	r := newResolver(svc, ai, 0)

	rec := r.RecommendMerchants(context.Background(), Query{Text: "sushi"})
	assert.Equal(t, []int64{4}, rec.MerchantIDs)
}
