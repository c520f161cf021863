package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"umbra/internal/domain/entity"
	"umbra/internal/domain/repository"
	ws "umbra/internal/infrastructure/websocket"
	"umbra/pkg/errors"
	"umbra/pkg/logger"
)

// RoomListSynchronizer is the read-mostly projection behind the inbox
// view: conversations ordered by most recent activity, each with a
// denormalized last-message preview and the aggregate unread count.
type RoomListSynchronizer struct {
	chatService  repository.ChatService
	unread       *UnreadAggregator
	refreshDelay time.Duration

	mu           sync.Mutex
	rooms        map[string]*entity.Room
	openRoom     string
	refreshTimer *time.Timer
}

func NewRoomListSynchronizer(chatService repository.ChatService, unread *UnreadAggregator, refreshDelay time.Duration) *RoomListSynchronizer {
	return &RoomListSynchronizer{
		chatService:  chatService,
		unread:       unread,
		refreshDelay: refreshDelay,
		rooms:        make(map[string]*entity.Room),
	}
}

// LoadInitial replaces the projection with the authoritative room list.
// On failure the list is cleared so the inbox can show a retry affordance.
func (r *RoomListSynchronizer) LoadInitial(ctx context.Context) error {
	rooms, err := r.chatService.ListRooms(ctx)
	if err != nil {
		r.mu.Lock()
		r.rooms = make(map[string]*entity.Room)
		r.mu.Unlock()
		logger.Error("RoomList LoadInitial: failed to load rooms: %v", err)
		return errors.Internal("failed to load conversation list", err)
	}

	r.mu.Lock()
	r.rooms = make(map[string]*entity.Room, len(rooms))
	for _, room := range rooms {
		copied := *room
		r.rooms[room.ID] = &copied
	}
	r.mu.Unlock()
	return nil
}

// HandleNotification updates the affected row in place instead of
// refetching the whole list, then schedules a silent background refetch
// for eventual consistency against the authoritative room state.
func (r *RoomListSynchronizer) HandleNotification(ev ws.NotificationData) {
	if ev.RoomID == "" {
		return
	}

	r.mu.Lock()
	if ev.RoomID == r.openRoom {
		r.mu.Unlock()
		return
	}
	if room, ok := r.rooms[ev.RoomID]; ok {
		if ev.Message != "" {
			room.LastMessage = ev.Message
		}
		room.LastMessageAt = time.Now()
	}
	r.mu.Unlock()

	r.scheduleRefresh()
}

// OpenRoom marks the room as in view and optimistically zeroes its row
// before the server confirms the mark-read.
func (r *RoomListSynchronizer) OpenRoom(roomID string) {
	r.mu.Lock()
	r.openRoom = roomID
	if room, ok := r.rooms[roomID]; ok {
		room.UnreadCount = 0
	}
	r.mu.Unlock()
}

func (r *RoomListSynchronizer) CloseRoom() {
	r.mu.Lock()
	r.openRoom = ""
	r.mu.Unlock()
}

// CounterpartKey resolves the unread-aggregate key for a room: the other
// participant for direct rooms, the room id otherwise.
func (r *RoomListSynchronizer) CounterpartKey(roomID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomID]; ok {
		return room.CounterpartKey()
	}
	return roomID
}

// Rooms returns the projection ordered by most recent activity, with each
// row's unread count taken from the aggregate so every surface agrees.
func (r *RoomListSynchronizer) Rooms() []entity.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]entity.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		copied := *room
		if copied.ID != r.openRoom {
			copied.UnreadCount = r.unread.Effective(copied.CounterpartKey())
		} else {
			copied.UnreadCount = 0
		}
		list = append(list, copied)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
	return list
}

// scheduleRefresh arms a single-flight delayed refetch. Repeated pushes
// inside the window collapse into one refetch.
func (r *RoomListSynchronizer) scheduleRefresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refreshTimer != nil {
		return
	}
	r.refreshTimer = time.AfterFunc(r.refreshDelay, func() {
		r.mu.Lock()
		r.refreshTimer = nil
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rooms, err := r.chatService.ListRooms(ctx)
		if err != nil {
			// Silent refetch: a failure keeps the in-place updates.
			logger.Warn("RoomList refresh: background refetch failed: %v", err)
			return
		}
		r.mu.Lock()
		r.rooms = make(map[string]*entity.Room, len(rooms))
		for _, room := range rooms {
			copied := *room
			r.rooms[room.ID] = &copied
		}
		r.mu.Unlock()
	})
}
