package entity

import (
	"strings"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

const TempIDPrefix = "temp-"

// Message is one entry in a room's ordered log. ID holds either a durable
// server-issued identifier or a client-generated temporary id until the
// server confirms the send.
type Message struct {
	ID        string         `json:"id"`
	RoomID    string         `json:"room_id"`
	SenderID  string         `json:"sender_id"`
	Content   string         `json:"content"`
	MediaURL  string         `json:"media_url,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	IsOwn     bool           `json:"is_own"`
	Read      bool           `json:"read"`
	Status    DeliveryStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// HasTempID reports whether the message is still waiting for its durable id.
func (m *Message) HasTempID() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomGroup  RoomKind = "group"
)

type Room struct {
	ID               string    `json:"id"`
	Kind             RoomKind  `json:"kind"`
	Name             string    `json:"name"`
	AvatarURL        string    `json:"avatar_url,omitempty"`
	OtherParticipant string    `json:"other_participant,omitempty"`
	LastMessage      string    `json:"last_message"`
	LastMessageAt    time.Time `json:"last_message_at"`
	UnreadCount      int       `json:"unread_count"`
}

// CounterpartKey is the unread-aggregate key for the room: the other
// participant's id for direct rooms, the room id for group rooms.
func (r *Room) CounterpartKey() string {
	if r.Kind == RoomDirect && r.OtherParticipant != "" {
		return r.OtherParticipant
	}
	return r.ID
}
