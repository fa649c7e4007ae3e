// Package orders maintains the shopper-facing order history projection. Two
// writers feed it: explicit fetches from the aggregator and asynchronous
// status pushes from the broker. They merge per order id rather than
// replacing the list wholesale, so a concurrent push is never dropped.
package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/convocart/convocart/core"
)

// OrderLine is one purchased item on an order.
type OrderLine struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Order is one entry in the shopper's history.
type Order struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	MerchantName string      `json:"merchant_name"`
	Status       string      `json:"status"`
	Total        string      `json:"total"`
	Lines        []OrderLine `json:"lines,omitempty"`
	PlacedAt     time.Time   `json:"placed_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Fetcher pulls the authoritative order list for a user.
type Fetcher interface {
	GetOrders(ctx context.Context, userID string) ([]Order, error)
}

// Store is the merged projection plus its subscribers.
type Store struct {
	fetcher Fetcher
	logger  core.Logger

	mu     sync.RWMutex
	byUser map[string]map[string]Order
	subs   map[string]map[int]chan Order
	nextID int
}

// NewStore creates a store. fetcher may be nil when only push updates feed
// the projection.
func NewStore(fetcher Fetcher, logger core.Logger) *Store {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Store{
		fetcher: fetcher,
		logger:  logger,
		byUser:  make(map[string]map[string]Order),
		subs:    make(map[string]map[int]chan Order),
	}
}

// Merge applies updates last-write-wins per order id and notifies the
// user's subscribers.
func (s *Store) Merge(userID string, updates ...Order) {
	if len(updates) == 0 {
		return
	}

	s.mu.Lock()
	m, ok := s.byUser[userID]
	if !ok {
		m = make(map[string]Order)
		s.byUser[userID] = m
	}
	var applied []Order
	for _, o := range updates {
		if o.ID == "" {
			continue
		}
		o.UserID = userID
		m[o.ID] = o
		applied = append(applied, o)
	}
	var chans []chan Order
	for _, ch := range s.subs[userID] {
		chans = append(chans, ch)
	}
	s.mu.Unlock()

	for _, o := range applied {
		for _, ch := range chans {
			select {
			case ch <- o:
			default:
				// Slow subscriber; it will catch up from a snapshot.
			}
		}
	}
}

// Snapshot returns the user's orders, most recently placed first.
func (s *Store) Snapshot(userID string) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.byUser[userID]
	out := make([]Order, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].PlacedAt.After(out[j].PlacedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Refresh pulls the authoritative list and merges it into the projection.
func (s *Store) Refresh(ctx context.Context, userID string) error {
	if s.fetcher == nil {
		return nil
	}
	fetched, err := s.fetcher.GetOrders(ctx, userID)
	if err != nil {
		return err
	}
	s.Merge(userID, fetched...)
	return nil
}

// Subscribe registers for the user's order updates. The returned cancel
// function must be called when the subscriber goes away.
func (s *Store) Subscribe(userID string) (<-chan Order, func()) {
	ch := make(chan Order, 16)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[int]chan Order)
	}
	s.subs[userID][id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if m := s.subs[userID]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(s.subs, userID)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}
