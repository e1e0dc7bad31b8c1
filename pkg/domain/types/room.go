package types

// RoomID is a chat room identifier, e.g. a Matrix room ID such as
// "!abcdef:example.org".
type RoomID string

func (x RoomID) String() string {
	return string(x)
}

// EventID is a protocol level message identifier returned when a message is
// posted. It correlates later reactions with the posted alert.
type EventID string

func (x EventID) String() string {
	return string(x)
}
