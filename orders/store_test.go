package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu     sync.Mutex
	orders []Order
	err    error
	calls  int
}

func (f *fakeFetcher) GetOrders(ctx context.Context, userID string) ([]Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.orders, f.err
}

func order(id, status string, placed time.Time) Order {
	return Order{ID: id, Status: status, MerchantName: "Napoli", Total: "30.00", PlacedAt: placed}
}

func TestMerge_LastWriteWinsPerID(t *testing.T) {
	s := NewStore(nil, nil)
	now := time.Now()

	s.Merge("u-1", order("a", "pending", now))
	s.Merge("u-1", order("b", "pending", now.Add(time.Minute)))
	s.Merge("u-1", order("a", "delivered", now))

	snap := s.Snapshot("u-1")
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].ID, "most recent first")
	assert.Equal(t, "delivered", snap[1].Status)
}

// A push arriving between fetch and merge must survive: both writers merge
// by id instead of replacing the list.
func TestMerge_ConcurrentPushAndFetch(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{orders: []Order{
		order("a", "pending", now),
		order("b", "pending", now),
	}}
	s := NewStore(fetcher, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, s.Refresh(context.Background(), "u-1"))
			} else {
				s.Merge("u-1", order(fmt.Sprintf("push-%d", i), "preparing", now.Add(time.Duration(i)*time.Second)))
			}
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot("u-1")
	assert.Len(t, snap, 6) // a, b and four pushed orders
}

func TestRefresh_PropagatesError(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("aggregator down")}
	s := NewStore(fetcher, nil)
	assert.Error(t, s.Refresh(context.Background(), "u-1"))
	assert.Empty(t, s.Snapshot("u-1"))
}

func TestSnapshot_IsolatedPerUser(t *testing.T) {
	s := NewStore(nil, nil)
	now := time.Now()
	s.Merge("u-1", order("a", "pending", now))
	s.Merge("u-2", order("b", "pending", now))

	assert.Len(t, s.Snapshot("u-1"), 1)
	assert.Len(t, s.Snapshot("u-2"), 1)
	assert.Empty(t, s.Snapshot("u-3"))
}

func TestSubscribe_ReceivesUpdates(t *testing.T) {
	s := NewStore(nil, nil)
	ch, cancel := s.Subscribe("u-1")
	defer cancel()

	s.Merge("u-1", order("a", "preparing", time.Now()))
	s.Merge("u-2", order("x", "preparing", time.Now())) // other user, not delivered

	select {
	case got := <-ch:
		assert.Equal(t, "a", got.ID)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	select {
	case got := <-ch:
		t.Fatalf("unexpected update %q", got.ID)
	default:
	}
}

func TestSubscribe_CancelStopsDelivery(t *testing.T) {
	s := NewStore(nil, nil)
	ch, cancel := s.Subscribe("u-1")
	cancel()

	s.Merge("u-1", order("a", "preparing", time.Now()))
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("update delivered after cancel")
		}
	default:
	}
}

func TestMerge_IgnoresEmptyID(t *testing.T) {
	s := NewStore(nil, nil)
	s.Merge("u-1", Order{Status: "pending"})
	assert.Empty(t, s.Snapshot("u-1"))
}
