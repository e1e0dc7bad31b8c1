package chat

import "github.com/howler-bot/howler/pkg/domain/types"

// Inbound is one event received from a chat room: either a text message or a
// reaction to an earlier message. The bot shares rooms with general traffic,
// so most inbound events are irrelevant and get dropped by the interpreter.
type Inbound struct {
	Room    types.RoomID
	EventID types.EventID
	Sender  string

	// Body is set for text messages.
	Body string

	// ReactsTo and Reaction are set for reaction events: the target message
	// and the reaction key (emoji).
	ReactsTo types.EventID
	Reaction string
}

// IsReaction reports whether the event is a reaction rather than a text
// message.
func (x Inbound) IsReaction() bool {
	return x.ReactsTo != ""
}
