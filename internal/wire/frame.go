// Package wire defines the JSON frames exchanged over the realtime socket.
package wire

import "encoding/json"

// Event names. Inbound and outbound events share the namespace; typing and
// stop-typing travel in both directions.
const (
	EventSetup               = "setup"
	EventConnected           = "connected"
	EventOnlineUsers         = "online-users"
	EventJoinRoom            = "join-room"
	EventJoined              = "joined"
	EventLeaveRoom           = "leave-room"
	EventLeft                = "left"
	EventTyping              = "typing"
	EventStopTyping          = "stop-typing"
	EventNewMessage          = "new-message"
	EventMessageReceived     = "message-received"
	EventConversationUpdated = "conversation-updated"
	EventError               = "error"
)

// Frame is the envelope of every socket message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// TypingData is the payload of outbound typing and stop-typing frames.
type TypingData struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// RoomData acknowledges join-room and leave-room.
type RoomData struct {
	ConversationID int64 `json:"conversation_id"`
}

// ConversationUpdate is sent to a room when its membership changes.
type ConversationUpdate struct {
	ConversationID int64  `json:"conversation_id"`
	Change         string `json:"change"`
	UserID         int64  `json:"user_id,omitempty"`
}

// Encode marshals an event frame.
func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}
