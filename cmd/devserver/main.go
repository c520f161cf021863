// Command devserver is a stub backend for local engine development. It
// implements the chat REST surface and the realtime channel with in-memory
// state: message sends are confirmed with durable ids carrying the client
// correlation id, and notifications fan out to every other connected user.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	ws "umbra/internal/infrastructure/websocket"
	"umbra/pkg/response"
)

type rawRoom struct {
	ID               string    `json:"id"`
	Kind             string    `json:"kind"`
	Name             string    `json:"name"`
	OtherParticipant string    `json:"other_participant,omitempty"`
	LastMessage      string    `json:"last_message"`
	LastMessageAt    time.Time `json:"last_message_at"`
	UnreadCount      int       `json:"unread_count"`
}

type hub struct {
	mu       sync.Mutex
	clients  map[string][]*websocket.Conn
	rooms    map[string]*rawRoom
	messages map[string][]ws.RawMessage
	unread   map[string]map[string]int // userID -> senderID -> count
}

func newHub() *hub {
	return &hub{
		clients:  make(map[string][]*websocket.Conn),
		rooms:    make(map[string]*rawRoom),
		messages: make(map[string][]ws.RawMessage),
		unread:   make(map[string]map[string]int),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	h := newHub()
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/chat/rooms", h.listRooms)
	e.GET("/chat/rooms/:id/messages", h.listMessages)
	e.POST("/chat/rooms/:id/mark-read", h.markRead)
	e.POST("/chat/dm/:userId", h.getOrCreateDM)
	e.GET("/notifications/unread-message-senders", h.unreadSenders)
	e.POST("/chat/messages/media", h.sendMedia)
	e.GET("/ws/chat", h.serveWS)

	log.Println("devserver listening on :8080")
	if err := e.Start(":8080"); err != http.ErrServerClosed {
		log.Fatalf("devserver stopped: %v", err)
	}
}

func (h *hub) listRooms(c echo.Context) error {
	userID := c.Request().Header.Get("X-User-ID")
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms := make([]*rawRoom, 0, len(h.rooms))
	for _, room := range h.rooms {
		copied := *room
		if counts, ok := h.unread[userID]; ok {
			copied.UnreadCount = counts[copied.OtherParticipant]
		}
		rooms = append(rooms, &copied)
	}
	return response.Success(c, rooms)
}

func (h *hub) listMessages(c echo.Context) error {
	roomID := c.Param("id")
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.messages[roomID]
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]interface{}{
			"id":         m.ID,
			"room_id":    m.RoomID,
			"sender_id":  m.SenderID,
			"content":    m.Content,
			"created_at": m.CreatedAt,
			"read":       m.Read,
		})
	}
	return response.Success(c, out)
}

func (h *hub) markRead(c echo.Context) error {
	roomID := c.Param("id")
	userID := c.Request().Header.Get("X-User-ID")

	h.mu.Lock()
	if room, ok := h.rooms[roomID]; ok {
		if counts, ok := h.unread[userID]; ok {
			delete(counts, room.OtherParticipant)
		}
	}
	h.mu.Unlock()
	return response.Success(c, nil)
}

func (h *hub) getOrCreateDM(c echo.Context) error {
	userID := c.Request().Header.Get("X-User-ID")
	otherID := c.Param("userId")

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range h.rooms {
		if room.Kind == "direct" && room.OtherParticipant == otherID {
			return response.Success(c, room)
		}
	}
	room := &rawRoom{
		ID:               "dm-" + userID + "-" + otherID,
		Kind:             "direct",
		Name:             otherID,
		OtherParticipant: otherID,
		LastMessageAt:    time.Now(),
	}
	h.rooms[room.ID] = room
	return response.Created(c, room)
}

func (h *hub) unreadSenders(c echo.Context) error {
	userID := c.Request().Header.Get("X-User-ID")
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := h.unread[userID]
	if counts == nil {
		counts = map[string]int{}
	}
	return response.Success(c, counts)
}

func (h *hub) sendMedia(c echo.Context) error {
	userID := c.Request().Header.Get("X-User-ID")
	roomID := c.FormValue("room_id")
	content := c.FormValue("content")
	file, err := c.FormFile("media")
	if err != nil {
		return response.Error(c, err)
	}

	msg := h.storeMessage(roomID, userID, content, "", "media://"+file.Filename)
	h.broadcast(roomID, userID, msg)
	return response.Created(c, map[string]interface{}{
		"id": msg.ID, "room_id": msg.RoomID, "sender_id": msg.SenderID,
		"content": msg.Content, "media_url": msg.MediaURL, "created_at": msg.CreatedAt,
	})
}

func (h *hub) serveWS(c echo.Context) error {
	userID := c.QueryParam("userId")
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.clients[userID] = append(h.clients[userID], conn)
	h.mu.Unlock()
	log.Printf("devserver: user %s connected", userID)

	go h.readLoop(userID, conn)
	return nil
}

func (h *hub) readLoop(userID string, conn *websocket.Conn) {
	defer func() {
		h.dropClient(userID, conn)
		conn.Close()
	}()

	for {
		var envelope ws.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return
		}

		switch envelope.Type {
		case ws.EventTypeSend:
			var data ws.SendMessageData
			if json.Unmarshal(envelope.Data, &data) != nil {
				continue
			}
			msg := h.storeMessage(data.RoomID, userID, data.Content, data.CorrelationID, "")
			h.broadcast(data.RoomID, userID, msg)

		case ws.EventTypeMarkRead:
			var data ws.MarkReadData
			if json.Unmarshal(envelope.Data, &data) != nil {
				continue
			}
			h.confirmRead(data.RoomID, userID)
		}
	}
}

func (h *hub) storeMessage(roomID, senderID, content, correlationID, mediaURL string) ws.RawMessage {
	msg := ws.RawMessage{
		ID:            uuid.NewString(),
		RoomID:        roomID,
		SenderID:      senderID,
		Content:       content,
		MediaURL:      mediaURL,
		CreatedAt:     time.Now(),
		CorrelationID: correlationID,
	}

	h.mu.Lock()
	h.messages[roomID] = append(h.messages[roomID], msg)
	if room, ok := h.rooms[roomID]; ok {
		room.LastMessage = content
		room.LastMessageAt = msg.CreatedAt
	}
	h.mu.Unlock()
	return msg
}

// broadcast confirms the message to everyone, sender included, and pushes
// a notification to every other connected user.
func (h *hub) broadcast(roomID, senderID string, msg ws.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, conns := range h.clients {
		if userID != senderID {
			if h.unread[userID] == nil {
				h.unread[userID] = make(map[string]int)
			}
			h.unread[userID][senderID]++
		}
		for _, conn := range conns {
			writeEvent(conn, ws.EventTypeNewMessage, msg)
			if userID != senderID {
				writeEvent(conn, ws.EventTypeNotification, ws.NotificationData{
					SenderID: senderID,
					RoomID:   roomID,
					Message:  msg.Content,
				})
			}
		}
	}
}

func (h *hub) confirmRead(roomID, readerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var readIDs []string
	msgs := h.messages[roomID]
	for i := range msgs {
		if msgs[i].SenderID != readerID {
			msgs[i].Read = true
			readIDs = append(readIDs, msgs[i].ID)
		}
	}

	ev := ws.MessagesReadData{ReadByUserID: readerID, RoomID: roomID, MessageIDs: readIDs}
	for _, conns := range h.clients {
		for _, conn := range conns {
			writeEvent(conn, ws.EventTypeMessagesRead, ev)
		}
	}
}

func (h *hub) dropClient(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.clients[userID]
	for i, c := range conns {
		if c == conn {
			h.clients[userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	log.Printf("devserver: user %s disconnected", userID)
}

func writeEvent(conn *websocket.Conn, eventType string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	conn.WriteJSON(ws.Envelope{
		Type:      eventType,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
