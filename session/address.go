package session

import (
	"context"

	"github.com/convocart/convocart/convo"
	"github.com/convocart/convocart/core"
)

// AddressSaver pushes a user's full address list to the aggregator.
type AddressSaver interface {
	UpdateAddresses(ctx context.Context, userID string, addresses []core.Address) error
}

// UpdateAddresses applies the new address list optimistically and rolls the
// local replica back if the remote update fails. A failed save must never
// leave the conversation claiming an address the backend does not have.
//
// A successful save resets the conversation: the transcript and any active
// checkout were built against the old address list, so auto-filled delivery
// details must re-derive from the new one.
func UpdateAddresses(ctx context.Context, conv *convo.Conversation, saver AddressSaver, addresses []core.Address) error {
	if conv.User == nil {
		return core.ErrSessionNotFound
	}

	previous := conv.User.Addresses
	conv.User.Addresses = addresses

	if err := saver.UpdateAddresses(ctx, conv.User.ID, addresses); err != nil {
		conv.User.Addresses = previous
		return err
	}

	conv.Reset()
	return nil
}
