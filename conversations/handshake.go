package conversations

import (
	"context"
	"fmt"

	"github.com/asmogo/portal/handshake"
	"github.com/asmogo/portal/ids"
	"github.com/asmogo/portal/router"
)

// InitiateHandshake connects to every relay named in link, then runs
// an authentication exchange with its target (the subkey if link
// names one, otherwise the main key), proving link's token back to the
// caller.
func InitiateHandshake(ctx context.Context, r *router.Router, link handshake.URL) (ids.ConversationID, *router.NotificationStream[AuthResult], error) {
	target := link.MainKey
	if link.HasSubkey() {
		target = link.Subkey
	}
	for _, relay := range link.Relays {
		if err := r.AddRelay(ctx, relay, true); err != nil {
			return ids.ConversationID{}, nil, fmt.Errorf("conversations: add handshake relay %s: %w", relay, err)
		}
	}
	return Authenticate(ctx, r, target, link.Token)
}
