package interfaces

import (
	"context"

	"github.com/howler-bot/howler/pkg/domain/model/alert"
	"github.com/howler-bot/howler/pkg/domain/model/chat"
	"github.com/howler-bot/howler/pkg/domain/types"
)

// Notifier delivers messages to chat rooms and surfaces inbound room events.
// It is stateless from the engine's point of view; all alert state lives in
// the Repository.
type Notifier interface {
	// PostMessage sends a plain text message and returns the ref needed to
	// correlate later reactions.
	PostMessage(ctx context.Context, room types.RoomID, text string) (*alert.MessageRef, error)

	// Events returns the inbound event stream. Events arrive in order per
	// room; no cross-room ordering is guaranteed. The channel is closed when
	// Run returns.
	Events() <-chan chat.Inbound

	// Run drives the protocol sync loop until ctx is cancelled.
	Run(ctx context.Context) error
}
