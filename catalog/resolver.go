// Package catalog resolves merchant catalogs and recommends merchants for a
// query, caching both through the shared cache layer.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/convocart/convocart/cache"
	"github.com/convocart/convocart/core"
)

// Service is the remote catalog backend.
type Service interface {
	GetCatalog(ctx context.Context, merchantID int64) ([]Item, error)
	GetMerchantList(ctx context.Context, near *core.Coordinates) ([]Merchant, error)
	GetItemsByIDs(ctx context.Context, ids []int64, merchantID int64) ([]Item, error)
}

// Resolver serves catalog lookups and merchant recommendations.
type Resolver struct {
	service   Service
	ai        core.AIClient
	cache     *cache.Service
	cfg       core.CacheConfig
	radiusKM  float64
	logger    core.Logger
	telemetry core.Telemetry
}

// NewResolver creates a resolver. radiusKM bounds geo-filtering of merchant
// candidates; zero disables the filter.
func NewResolver(service Service, ai core.AIClient, cacheSvc *cache.Service, cfg core.CacheConfig, radiusKM float64, logger core.Logger, telemetry core.Telemetry) *Resolver {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Resolver{
		service:   service,
		ai:        ai,
		cache:     cacheSvc,
		cfg:       cfg,
		radiusKM:  radiusKM,
		logger:    logger,
		telemetry: telemetry,
	}
}

// Catalog returns the merchant's item list through the cache layer.
// A failed fetch returns an empty list and the error; callers treating the
// catalog as advisory may ignore the error and render "no items".
func (r *Resolver) Catalog(ctx context.Context, merchantID int64) ([]Item, error) {
	key := strconv.FormatInt(merchantID, 10)
	v, err := r.cache.GetOrFetch(ctx, cache.BucketCatalog, key, r.cfg.CatalogTTL, func(ctx context.Context) (interface{}, error) {
		return r.service.GetCatalog(ctx, merchantID)
	})
	if err != nil {
		r.logger.Error("Catalog fetch failed", map[string]interface{}{
			"operation":   "catalog_fetch",
			"merchant_id": merchantID,
			"error":       err.Error(),
		})
		return nil, err
	}
	return v.([]Item), nil
}

// ItemByID looks up a single item in the merchant's cached catalog.
func (r *Resolver) ItemByID(ctx context.Context, merchantID, itemID int64) (*Item, error) {
	items, err := r.Catalog(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == itemID {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("item %d in merchant %d: %w", itemID, merchantID, core.ErrItemNotFound)
}

// ItemsByIDs looks up several items in the merchant's cached catalog,
// preserving the requested order and skipping unknown ids.
func (r *Resolver) ItemsByIDs(ctx context.Context, merchantID int64, ids []int64) ([]Item, error) {
	items, err := r.Catalog(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	var found []Item
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			found = append(found, it)
		}
	}
	return found, nil
}

// PromptItems returns the prompt-safe projection of a merchant's catalog.
func (r *Resolver) PromptItems(ctx context.Context, merchantID int64) ([]PromptItem, error) {
	items, err := r.Catalog(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	projected := make([]PromptItem, 0, len(items))
	for _, it := range items {
		projected = append(projected, PromptItem{
			ID:          it.ID,
			Name:        it.Name,
			Description: it.Description,
			Price:       it.Price,
		})
	}
	return projected, nil
}

// Query carries the context the recommender reasons over.
type Query struct {
	Text           string
	Address        *core.Address
	PastOrderItems []string
	Context        string // compact recent-conversation summary
}

// RecommendMerchants asks the remote recommendation service for up to two
// merchant ids matching the query. Candidates are geo-filtered to the
// configured radius around the user's address when coordinates are known.
// Remote failure degrades to an empty recommendation, never an error the
// orchestrator has to special-case.
func (r *Resolver) RecommendMerchants(ctx context.Context, q Query) Recommendation {
	ctx, span := r.telemetry.StartSpan(ctx, "catalog.recommend_merchants")
	defer span.End()

	var near *core.Coordinates
	if q.Address != nil {
		near = q.Address.Coordinates
	}

	merchants, err := r.service.GetMerchantList(ctx, near)
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("Merchant list fetch failed, recommending none", map[string]interface{}{
			"operation": "merchant_recommend",
			"error":     err.Error(),
		})
		return Recommendation{}
	}

	candidates := r.filterByRadius(merchants, near)
	if len(candidates) == 0 {
		return Recommendation{}
	}

	key := recommendationKey(q.Text, candidates)
	v, err := r.cache.GetOrFetch(ctx, cache.BucketRecommendation, key, r.cfg.RecommendationTTL, func(ctx context.Context) (interface{}, error) {
		return r.recommendRemote(ctx, q, candidates)
	})
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("Merchant recommendation failed, recommending none", map[string]interface{}{
			"operation": "merchant_recommend",
			"error":     err.Error(),
		})
		return Recommendation{}
	}
	rec := v.(Recommendation)
	span.SetAttribute("recommend.count", len(rec.MerchantIDs))
	return rec
}

// MerchantsByIDs resolves recommendation ids to full merchant records,
// order-preserving. Unknown ids are skipped.
func (r *Resolver) MerchantsByIDs(ctx context.Context, ids []int64) ([]Merchant, error) {
	merchants, err := r.service.GetMerchantList(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("merchant list: %w", err)
	}
	byID := make(map[int64]Merchant, len(merchants))
	for _, m := range merchants {
		byID[m.ID] = m
	}
	var out []Merchant
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *Resolver) filterByRadius(merchants []Merchant, near *core.Coordinates) []Merchant {
	if near == nil || r.radiusKM <= 0 {
		return merchants
	}
	var within []Merchant
	for _, m := range merchants {
		if m.Coordinates == nil {
			continue
		}
		if haversineKM(*near, *m.Coordinates) <= r.radiusKM {
			within = append(within, m)
		}
	}
	return within
}

func (r *Resolver) recommendRemote(ctx context.Context, q Query, candidates []Merchant) (Recommendation, error) {
	var sb strings.Builder
	for _, m := range candidates {
		fmt.Fprintf(&sb, "- id=%d name=%q summary=%q", m.ID, m.Name, m.Summary)
		if m.Coordinates != nil {
			fmt.Fprintf(&sb, " location=(%.4f,%.4f)", m.Coordinates.Lat, m.Coordinates.Lng)
		}
		sb.WriteString("\n")
	}

	prompt := fmt.Sprintf(`The user asked: %q
Past orders: %s
Recent conversation: %s

Candidate restaurants:
%s
Pick at most two restaurant ids that best match the request. Respond with strict JSON only, no prose: {"merchant_ids": [id, ...]}`,
		q.Text, strings.Join(q.PastOrderItems, ", "), q.Context, sb.String())

	resp, err := r.ai.GenerateResponse(ctx, prompt, &core.AIOptions{
		SystemPrompt: "You match food cravings to restaurants. Answer with strict JSON only.",
		Temperature:  0.1,
		MaxTokens:    60,
	})
	if err != nil {
		return Recommendation{}, err
	}

	var rec Recommendation
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &rec); err != nil {
		return Recommendation{}, fmt.Errorf("parsing recommendation %q: %w", resp.Content, err)
	}
	if len(rec.MerchantIDs) > 2 {
		rec.MerchantIDs = rec.MerchantIDs[:2]
	}
	// Drop ids the model invented.
	valid := make(map[int64]bool, len(candidates))
	for _, m := range candidates {
		valid[m.ID] = true
	}
	kept := rec.MerchantIDs[:0]
	for _, id := range rec.MerchantIDs {
		if valid[id] {
			kept = append(kept, id)
		}
	}
	rec.MerchantIDs = kept
	return rec, nil
}

// recommendationKey derives the cache key from the query text plus the
// candidate id set, so a changed candidate pool is a different cache entry.
func recommendationKey(text string, candidates []Merchant) string {
	ids := make([]string, 0, len(candidates))
	for _, m := range candidates {
		ids = append(ids, strconv.FormatInt(m.ID, 10))
	}
	sort.Strings(ids)
	return strings.ToLower(strings.TrimSpace(text)) + "|" + strings.Join(ids, ",")
}

// extractJSON trims any prose the model wrapped around a JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// haversineKM returns the great-circle distance between two points.
func haversineKM(a, b core.Coordinates) float64 {
	const earthRadiusKM = 6371.0
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}
