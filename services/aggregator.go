package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/convocart/convocart/catalog"
	"github.com/convocart/convocart/core"
	"github.com/convocart/convocart/orders"
)

// AggregatorClient talks to the backend aggregator: catalogs, merchants,
// users, orders, addresses. It satisfies catalog.Service, orders.Fetcher and
// session.AddressSaver.
type AggregatorClient struct {
	*httpClient
}

// NewAggregatorClient creates an aggregator client.
func NewAggregatorClient(baseURL string, timeout time.Duration, logger core.Logger) *AggregatorClient {
	return &AggregatorClient{httpClient: newHTTPClient(baseURL, timeout, logger)}
}

// GetCatalog fetches a merchant's item list.
func (a *AggregatorClient) GetCatalog(ctx context.Context, merchantID int64) ([]catalog.Item, error) {
	var out struct {
		Items []catalog.Item `json:"items"`
	}
	path := fmt.Sprintf("/v1/merchants/%d/catalog", merchantID)
	if err := a.doJSON(ctx, http.MethodGet, path, nil, nil, nil, &out); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("merchant %d: %w", merchantID, core.ErrMerchantNotFound)
		}
		return nil, err
	}
	return out.Items, nil
}

// GetMerchantList fetches all merchants, optionally centered on a location.
func (a *AggregatorClient) GetMerchantList(ctx context.Context, near *core.Coordinates) ([]catalog.Merchant, error) {
	query := url.Values{}
	if near != nil {
		query.Set("lat", strconv.FormatFloat(near.Lat, 'f', -1, 64))
		query.Set("lng", strconv.FormatFloat(near.Lng, 'f', -1, 64))
	}
	var out struct {
		Merchants []catalog.Merchant `json:"merchants"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/v1/merchants", query, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Merchants, nil
}

// GetItemsByIDs fetches specific items from a merchant's catalog.
func (a *AggregatorClient) GetItemsByIDs(ctx context.Context, ids []int64, merchantID int64) ([]catalog.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	query := url.Values{"ids": {strings.Join(parts, ",")}}

	var out struct {
		Items []catalog.Item `json:"items"`
	}
	path := fmt.Sprintf("/v1/merchants/%d/items", merchantID)
	if err := a.doJSON(ctx, http.MethodGet, path, query, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetUser fetches the authenticated shopper's record.
func (a *AggregatorClient) GetUser(ctx context.Context, userID string) (*core.UserRecord, error) {
	var out core.UserRecord
	path := "/v1/users/" + url.PathEscape(userID)
	if err := a.doJSON(ctx, http.MethodGet, path, nil, nil, nil, &out); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("user %q: %w", userID, core.ErrSessionNotFound)
		}
		return nil, err
	}
	return &out, nil
}

// SignUp registers a new shopper by handle and signup channel.
func (a *AggregatorClient) SignUp(ctx context.Context, handle, via string) (*core.UserRecord, error) {
	in := map[string]string{"handle": handle, "via": via}
	var out core.UserRecord
	if err := a.doJSON(ctx, http.MethodPost, "/v1/users", nil, nil, in, &out); err != nil {
		return nil, fmt.Errorf("sign up %q: %w", handle, err)
	}
	return &out, nil
}

// GetOrders fetches the shopper's order history.
func (a *AggregatorClient) GetOrders(ctx context.Context, userID string) ([]orders.Order, error) {
	var out struct {
		Orders []orders.Order `json:"orders"`
	}
	path := "/v1/users/" + url.PathEscape(userID) + "/orders"
	if err := a.doJSON(ctx, http.MethodGet, path, nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// UpdateAddresses replaces the shopper's address list.
func (a *AggregatorClient) UpdateAddresses(ctx context.Context, userID string, addresses []core.Address) error {
	body := struct {
		Addresses []core.Address `json:"addresses"`
	}{Addresses: addresses}
	path := "/v1/users/" + url.PathEscape(userID) + "/addresses"
	return a.doJSON(ctx, http.MethodPut, path, nil, nil, body, nil)
}
