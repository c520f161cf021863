package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umbra/internal/domain/entity"
	"umbra/pkg/errors"
	"umbra/pkg/response"
)

// fakeBackend serves the backend's chat surface with the standard response
// envelope, recording the credential header on every request.
type fakeBackend struct {
	*httptest.Server

	mu       sync.Mutex
	userIDs  []string
	markRead []string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	e := echo.New()

	record := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			fb.mu.Lock()
			fb.userIDs = append(fb.userIDs, c.Request().Header.Get("X-User-ID"))
			fb.mu.Unlock()
			return next(c)
		}
	}
	e.Use(record)

	e.GET("/chat/rooms", func(c echo.Context) error {
		return response.Success(c, []*entity.Room{
			{ID: "room-1", Kind: entity.RoomDirect, OtherParticipant: "alice", LastMessage: "hey", LastMessageAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)},
		})
	})
	e.GET("/chat/rooms/:roomId/messages", func(c echo.Context) error {
		return response.Success(c, []*entity.Message{
			{ID: "m1", RoomID: c.Param("roomId"), SenderID: "alice", Content: "hey", Status: entity.DeliveryDelivered},
		})
	})
	e.POST("/chat/rooms/:roomId/mark-read", func(c echo.Context) error {
		fb.mu.Lock()
		fb.markRead = append(fb.markRead, c.Param("roomId"))
		fb.mu.Unlock()
		return response.Success(c, nil)
	})
	e.POST("/chat/dm/:userId", func(c echo.Context) error {
		return response.Created(c, &entity.Room{
			ID:               "dm-" + c.Param("userId"),
			Kind:             entity.RoomDirect,
			OtherParticipant: c.Param("userId"),
		})
	})
	e.GET("/notifications/unread-message-senders", func(c echo.Context) error {
		return response.Success(c, map[string]int{"alice": 2, "bob": 1})
	})
	e.POST("/chat/messages/media", func(c echo.Context) error {
		file, err := c.FormFile("media")
		if err != nil {
			return response.Error(c, errors.BadRequest("media file is required", err))
		}
		return response.Created(c, &entity.Message{
			ID:        "media-1",
			RoomID:    c.FormValue("room_id"),
			Content:   c.FormValue("content"),
			MediaURL:  "https://cdn.example/" + file.Filename,
			SenderID:  c.Request().Header.Get("X-User-ID"),
			Status:    entity.DeliveryDelivered,
			CreatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		})
	})

	fb.Server = httptest.NewServer(e)
	t.Cleanup(fb.Close)
	return fb
}

func TestListRoomsUnwrapsEnvelope(t *testing.T) {
	fb := newFakeBackend(t)
	svc := NewRESTChatService(fb.URL, "viewer")

	rooms, err := svc.ListRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "room-1", rooms[0].ID)
	assert.Equal(t, "alice", rooms[0].OtherParticipant)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, []string{"viewer"}, fb.userIDs, "credential header sent on every request")
}

func TestListMessagesUsesRoomPath(t *testing.T) {
	fb := newFakeBackend(t)
	svc := NewRESTChatService(fb.URL, "viewer")

	messages, err := svc.ListMessages(context.Background(), "room-7")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "room-7", messages[0].RoomID)
}

func TestMarkRoomRead(t *testing.T) {
	fb := newFakeBackend(t)
	svc := NewRESTChatService(fb.URL, "viewer")

	require.NoError(t, svc.MarkRoomRead(context.Background(), "room-1"))
	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, []string{"room-1"}, fb.markRead)
}

func TestGetOrCreateDirectRoom(t *testing.T) {
	fb := newFakeBackend(t)
	svc := NewRESTChatService(fb.URL, "viewer")

	room, err := svc.GetOrCreateDirectRoom(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "dm-alice", room.ID)
	assert.Equal(t, "alice", room.OtherParticipant)
}

func TestUnreadSenders(t *testing.T) {
	fb := newFakeBackend(t)
	svc := NewRESTChatService(fb.URL, "viewer")

	counts, err := svc.UnreadSenders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 2, "bob": 1}, counts)
}

func TestSendMediaMessageUploadsMultipart(t *testing.T) {
	fb := newFakeBackend(t)
	svc := NewRESTChatService(fb.URL, "viewer")

	msg, err := svc.SendMediaMessage(context.Background(), "room-1", "look at this", "photo.png", strings.NewReader("pngbytes"))
	require.NoError(t, err)
	assert.Equal(t, "room-1", msg.RoomID)
	assert.Equal(t, "look at this", msg.Content)
	assert.Equal(t, "https://cdn.example/photo.png", msg.MediaURL)
	assert.Equal(t, "viewer", msg.SenderID)
}

func TestBackendErrorMapsToAppError(t *testing.T) {
	e := echo.New()
	e.GET("/chat/rooms", func(c echo.Context) error {
		return response.Error(c, errors.Forbidden("not a participant", nil))
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	svc := NewRESTChatService(srv.URL, "viewer")
	_, err := svc.ListRooms(context.Background())
	require.Error(t, err)

	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, "FORBIDDEN", appErr.Code)
	assert.Equal(t, http.StatusForbidden, appErr.Status)
	assert.Equal(t, "not a participant", appErr.Message)
}

func TestMalformedResponseMapsToInternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway timeout</html>"))
	}))
	t.Cleanup(srv.Close)

	svc := NewRESTChatService(srv.URL, "viewer")
	_, err := svc.ListRooms(context.Background())
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, "INTERNAL_ERROR", appErr.Code)
}
