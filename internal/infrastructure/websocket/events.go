package websocket

import (
	"encoding/json"
	"time"
)

// Event types form the closed set the backend channel speaks. Outbound and
// inbound names follow the backend contract.
const (
	EventTypeJoinRoom  = "joinRoom"
	EventTypeLeaveRoom = "leaveRoom"
	EventTypeSend      = "sendMessage"
	EventTypeMarkRead  = "markMessagesAsRead"

	EventTypeNewMessage    = "newMessage"
	EventTypeMessagesRead  = "messagesRead"
	EventTypeNotification  = "newNotification"
	EventTypeChatError     = "chatError"
)

// Envelope is the wire frame for every event in either direction.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func newEnvelope(eventType string, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:      eventType,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

type JoinRoomData struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomData struct {
	RoomID string `json:"roomId"`
}

type SendMessageData struct {
	RoomID        string `json:"roomId"`
	Content       string `json:"content"`
	CorrelationID string `json:"correlationId"`
}

type MarkReadData struct {
	RoomID string `json:"roomId"`
}

// RawMessage is a message record as the server sends it, before the engine
// maps it into an entity. CorrelationID echoes the temporary id of an
// optimistic send when the server confirms it.
type RawMessage struct {
	ID            string    `json:"id"`
	RoomID        string    `json:"roomId"`
	SenderID      string    `json:"senderId"`
	Content       string    `json:"content"`
	MediaURL      string    `json:"mediaUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Read          bool      `json:"read"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

type MessagesReadData struct {
	ReadByUserID string   `json:"readByUserId"`
	RoomID       string   `json:"roomId"`
	MessageIDs   []string `json:"messages"`
}

type NotificationData struct {
	SenderID string `json:"senderId"`
	RoomID   string `json:"roomId,omitempty"`
	Message  string `json:"message,omitempty"`
}

type ChatErrorData struct {
	Message       string `json:"message"`
	RoomID        string `json:"roomId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// EventHandler receives every decoded inbound event. More than one consumer
// may observe the same logical event, so implementations must be safe to
// invoke repeatedly for the same payload.
type EventHandler interface {
	HandleNewMessage(msg RawMessage)
	HandleMessagesRead(ev MessagesReadData)
	HandleNotification(ev NotificationData)
	HandleChatError(ev ChatErrorData)
}
