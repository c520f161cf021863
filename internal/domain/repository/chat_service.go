package repository

import (
	"context"
	"io"

	"umbra/internal/domain/entity"
)

// ChatService is the request/response half of the backend boundary. The
// realtime half lives on the websocket session; everything here is plain
// REST against the hosted API.
type ChatService interface {
	ListRooms(ctx context.Context) ([]*entity.Room, error)
	ListMessages(ctx context.Context, roomID string) ([]*entity.Message, error)
	MarkRoomRead(ctx context.Context, roomID string) error
	GetOrCreateDirectRoom(ctx context.Context, userID string) (*entity.Room, error)
	UnreadSenders(ctx context.Context) (map[string]int, error)
	SendMediaMessage(ctx context.Context, roomID, content, filename string, media io.Reader) (*entity.Message, error)
}

// UnreadCache is the durable client-side store for unread counts. It holds
// a flat counterpart→count mapping plus a scalar force count, both read
// once at startup and written through on every aggregate change.
type UnreadCache interface {
	Load() (map[string]int, int, error)
	Set(key string, count int) error
	Delete(key string) error
	SetForceCount(count int) error
	Close() error
}
