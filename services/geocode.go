package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/convocart/convocart/core"
)

// GeocodeClient resolves free-text addresses to coordinates, used when a
// saved address arrives without them.
type GeocodeClient struct {
	*httpClient
}

// NewGeocodeClient creates a geocoding client.
func NewGeocodeClient(baseURL string, timeout time.Duration, logger core.Logger) *GeocodeClient {
	return &GeocodeClient{httpClient: newHTTPClient(baseURL, timeout, logger)}
}

// Geocode resolves an address string. No match returns (nil, nil): an
// unresolvable address just skips geo-filtering, it is not a failure.
func (g *GeocodeClient) Geocode(ctx context.Context, address string) (*core.Coordinates, error) {
	if address == "" {
		return nil, nil
	}

	var out struct {
		Results []struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"results"`
	}
	query := url.Values{"q": {address}}
	if err := g.doJSON(ctx, http.MethodGet, "/v1/geocode", query, nil, nil, &out); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", address, err)
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	return &core.Coordinates{Lat: out.Results[0].Lat, Lng: out.Results[0].Lng}, nil
}

// ReverseGeocode turns map-picker coordinates into a display address. An
// empty string means the location is unnamed, not an error.
func (g *GeocodeClient) ReverseGeocode(ctx context.Context, coords core.Coordinates) (string, error) {
	var out struct {
		Address string `json:"address"`
	}
	query := url.Values{
		"lat": {strconv.FormatFloat(coords.Lat, 'f', -1, 64)},
		"lng": {strconv.FormatFloat(coords.Lng, 'f', -1, 64)},
	}
	if err := g.doJSON(ctx, http.MethodGet, "/v1/geocode/reverse", query, nil, nil, &out); err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	return out.Address, nil
}
