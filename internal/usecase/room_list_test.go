package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umbra/internal/domain/entity"
	ws "umbra/internal/infrastructure/websocket"
)

func newTestRoomList(t *testing.T, delay time.Duration) (*RoomListSynchronizer, *fakeChatService, *UnreadAggregator) {
	t.Helper()
	svc := newFakeChatService()
	svc.rooms = []*entity.Room{
		{ID: "room-1", Kind: entity.RoomDirect, OtherParticipant: "alice", LastMessage: "hey", LastMessageAt: time.Now().Add(-time.Hour)},
		{ID: "room-2", Kind: entity.RoomDirect, OtherParticipant: "bob", LastMessage: "yo", LastMessageAt: time.Now().Add(-time.Minute)},
		{ID: "room-3", Kind: entity.RoomGroup, Name: "ops", LastMessage: "deploy done", LastMessageAt: time.Now().Add(-24 * time.Hour)},
	}
	agg := NewUnreadAggregator(newFakeCache())
	list := NewRoomListSynchronizer(svc, agg, delay)
	require.NoError(t, list.LoadInitial(context.Background()))
	return list, svc, agg
}

func TestRoomsOrderedByRecentActivity(t *testing.T) {
	list, _, _ := newTestRoomList(t, time.Hour)

	rooms := list.Rooms()
	require.Len(t, rooms, 3)
	assert.Equal(t, "room-2", rooms[0].ID)
	assert.Equal(t, "room-1", rooms[1].ID)
	assert.Equal(t, "room-3", rooms[2].ID)
}

func TestNotificationBumpsRowInPlace(t *testing.T) {
	list, svc, _ := newTestRoomList(t, time.Hour)

	list.HandleNotification(ws.NotificationData{SenderID: "alice", RoomID: "room-1", Message: "are you around?"})

	rooms := list.Rooms()
	assert.Equal(t, "room-1", rooms[0].ID, "bumped room moves to the top")
	assert.Equal(t, "are you around?", rooms[0].LastMessage)
	assert.Equal(t, 1, svc.roomCalls(), "no immediate refetch, only the initial load")
}

func TestNotificationForOpenRoomIgnored(t *testing.T) {
	list, _, _ := newTestRoomList(t, time.Hour)
	list.OpenRoom("room-1")

	list.HandleNotification(ws.NotificationData{SenderID: "alice", RoomID: "room-1", Message: "ping"})

	rooms := list.Rooms()
	assert.Equal(t, "room-2", rooms[0].ID, "open room keeps its old position")
	assert.Equal(t, 0, rooms[1].UnreadCount)
}

func TestRowsCarryAggregateUnreadCounts(t *testing.T) {
	list, _, agg := newTestRoomList(t, time.Hour)
	agg.IncrementPushed("alice")
	agg.IncrementPushed("alice")
	agg.SetAudited("ops-key", 0)

	rooms := list.Rooms()
	byID := make(map[string]entity.Room, len(rooms))
	for _, r := range rooms {
		byID[r.ID] = r
	}
	assert.Equal(t, 2, byID["room-1"].UnreadCount)
	assert.Equal(t, 0, byID["room-2"].UnreadCount)
}

func TestOpenRoomZeroesItsRow(t *testing.T) {
	list, _, agg := newTestRoomList(t, time.Hour)
	agg.IncrementPushed("alice")

	list.OpenRoom("room-1")
	rooms := list.Rooms()
	for _, r := range rooms {
		if r.ID == "room-1" {
			assert.Equal(t, 0, r.UnreadCount)
		}
	}

	list.CloseRoom()
	agg.Reset("alice")
	for _, r := range list.Rooms() {
		if r.ID == "room-1" {
			assert.Equal(t, 0, r.UnreadCount)
		}
	}
}

func TestCounterpartKeyResolution(t *testing.T) {
	list, _, _ := newTestRoomList(t, time.Hour)

	assert.Equal(t, "alice", list.CounterpartKey("room-1"), "direct rooms key by the other participant")
	assert.Equal(t, "room-3", list.CounterpartKey("room-3"), "group rooms key by room id")
	assert.Equal(t, "room-x", list.CounterpartKey("room-x"), "unknown rooms fall back to the id")
}

func TestBackgroundRefreshCollapsesAndReplaces(t *testing.T) {
	list, svc, _ := newTestRoomList(t, 10*time.Millisecond)

	// Three pushes inside the window arm a single refetch.
	for i := 0; i < 3; i++ {
		list.HandleNotification(ws.NotificationData{SenderID: "bob", RoomID: "room-2", Message: "m"})
	}

	svc.mu.Lock()
	svc.rooms = append(svc.rooms, &entity.Room{ID: "room-4", Kind: entity.RoomDirect, OtherParticipant: "carol", LastMessageAt: time.Now()})
	svc.mu.Unlock()

	require.Eventually(t, func() bool {
		return len(list.Rooms()) == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, svc.roomCalls(), "collapsed into one background refetch")
}

func TestBackgroundRefreshFailureKeepsInPlaceUpdates(t *testing.T) {
	list, svc, _ := newTestRoomList(t, 5*time.Millisecond)

	svc.mu.Lock()
	svc.failList = true
	svc.mu.Unlock()

	list.HandleNotification(ws.NotificationData{SenderID: "alice", RoomID: "room-1", Message: "still here"})

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.listRoomCalls >= 2
	}, time.Second, 2*time.Millisecond)

	rooms := list.Rooms()
	require.Len(t, rooms, 3, "failed refetch does not clear the projection")
	assert.Equal(t, "still here", rooms[0].LastMessage)
}

func TestLoadInitialFailureClearsListForRetry(t *testing.T) {
	list, svc, _ := newTestRoomList(t, time.Hour)
	svc.failList = true

	err := list.LoadInitial(context.Background())
	require.Error(t, err)
	assert.Empty(t, list.Rooms())

	svc.mu.Lock()
	svc.failList = false
	svc.mu.Unlock()
	require.NoError(t, list.LoadInitial(context.Background()))
	assert.Len(t, list.Rooms(), 3)
}
