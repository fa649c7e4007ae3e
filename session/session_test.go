package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convocart/convocart/catalog"
	"github.com/convocart/convocart/convo"
	"github.com/convocart/convocart/core"
)

func testUser() *core.UserRecord {
	return &core.UserRecord{
		ID: "u-1",
		Addresses: []core.Address{
			{Name: "Dana", Line: "Marina Walk 4", Phone: "+971500000001", Type: core.AddressHome},
		},
	}
}

func TestMemoryManager_CreateGetRoundTrip(t *testing.T) {
	m := NewMemoryManager(0, nil)
	defer m.Close()

	created, err := m.Create(context.Background(), testUser())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := m.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Same(t, created, got, "memory manager hands out the live object")
}

func TestMemoryManager_GetUnknown(t *testing.T) {
	m := NewMemoryManager(0, nil)
	defer m.Close()

	_, err := m.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestMemoryManager_IdleExpiry(t *testing.T) {
	m := NewMemoryManager(10*time.Millisecond, nil)
	defer m.Close()

	created, err := m.Create(context.Background(), testUser())
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = m.Get(context.Background(), created.ID)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestMemoryManager_Delete(t *testing.T) {
	m := NewMemoryManager(0, nil)
	defer m.Close()

	created, err := m.Create(context.Background(), testUser())
	require.NoError(t, err)
	require.NoError(t, m.Delete(context.Background(), created.ID))

	_, err = m.Get(context.Background(), created.ID)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestMemoryManager_SaveUnknownSession(t *testing.T) {
	m := NewMemoryManager(0, nil)
	defer m.Close()

	err := m.Save(context.Background(), convo.NewConversation(testUser()))
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

type fakeSaver struct {
	err   error
	calls int
	last  []core.Address
}

func (f *fakeSaver) UpdateAddresses(ctx context.Context, userID string, addresses []core.Address) error {
	f.calls++
	f.last = addresses
	return f.err
}

func TestUpdateAddresses_AppliesOnSuccess(t *testing.T) {
	conv := convo.NewConversation(testUser())
	saver := &fakeSaver{}

	next := []core.Address{
		{Name: "Dana", Line: "Office Tower 12", Phone: "+971500000002", Type: core.AddressOffice},
	}
	require.NoError(t, UpdateAddresses(context.Background(), conv, saver, next))

	assert.Equal(t, next, conv.User.Addresses)
	assert.Equal(t, 1, saver.calls)
}

// A saved address change invalidates the running conversation: the transcript
// and any active checkout were built against the old list, so both reset and a
// restarted checkout auto-fills from the new first address. The cart survives.
func TestUpdateAddresses_ResetsConversation(t *testing.T) {
	conv := convo.NewConversation(testUser())
	require.NoError(t, conv.Cart.AddItem(catalog.Item{ID: 4, MerchantName: "Sushiya", Name: "Nigiri", Price: "25.00"}, 1))
	require.NoError(t, conv.Checkout.Start(conv.Cart, conv.User))
	conv.Append(convo.Message{Role: convo.RoleUser, Kind: convo.KindText, Text: "checkout please"})

	require.Equal(t, "Marina Walk 4", conv.Checkout.Details.Address)

	next := []core.Address{
		{Name: "Dana", Line: "Office Tower 12", Phone: "+971500000002", Type: core.AddressOffice},
	}
	require.NoError(t, UpdateAddresses(context.Background(), conv, &fakeSaver{}, next))

	assert.Empty(t, conv.Messages)
	assert.False(t, conv.Checkout.Active())
	assert.False(t, conv.Cart.IsEmpty())

	require.NoError(t, conv.Checkout.Start(conv.Cart, conv.User))
	assert.Equal(t, "Office Tower 12", conv.Checkout.Details.Address)
}

// The optimistic update must roll back: a failed remote save cannot leave
// the local replica claiming an address the backend never stored.
func TestUpdateAddresses_RollsBackOnFailure(t *testing.T) {
	conv := convo.NewConversation(testUser())
	original := conv.User.Addresses
	saver := &fakeSaver{err: errors.New("aggregator down")}

	err := UpdateAddresses(context.Background(), conv, saver, []core.Address{
		{Name: "Dana", Line: "Office Tower 12", Phone: "+971500000002"},
	})
	require.Error(t, err)
	assert.Equal(t, original, conv.User.Addresses)
}
