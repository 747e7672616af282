// Package events publishes domain events to RabbitMQ.
package events

import "time"

// MessageCreatedV1 is the routing key and type of message events.
const MessageCreatedV1 = "message.created.v1"

const producer = "codecollab-backend"

type Meta struct {
	// Trace / request correlation ID
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID string `json:"id"`
	// Emitting service
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name and version, e.g. message.created.v1
	Type string `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// MessageCreated is the payload of MessageCreatedV1. Recipients are the
// participants other than the sender, whether or not they were online.
type MessageCreated struct {
	MessageID      int64     `json:"message_id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	Recipients     []int64   `json:"recipients"`
	CreatedAt      time.Time `json:"created_at"`
}
