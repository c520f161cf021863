package websocket

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"umbra/pkg/errors"
	"umbra/pkg/logger"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Session owns one authenticated realtime connection for one consumer.
// It joins at most one room at a time and fans every inbound event out to
// its subscribers. Reconnection is left to whoever owns the session; a
// dropped connection just moves the state back to disconnected.
type Session struct {
	endpoint string

	mu          sync.Mutex
	conn        *websocket.Conn
	state       State
	userID      string
	currentRoom string

	send chan *Envelope
	done chan struct{}

	handlers  []EventHandler
	onConnect []func()
}

func NewSession(endpoint string) *Session {
	return &Session{
		endpoint: endpoint,
		state:    StateDisconnected,
	}
}

// Subscribe registers a handler for inbound events. Must be called before
// Connect; the subscriber list is not mutated while the session is live.
func (s *Session) Subscribe(h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// OnConnect registers a hook that runs after the channel is established,
// in connect order. The read-receipt sweep for the room in view hangs off
// this hook.
func (s *Session) OnConnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the channel with the user id as credential. Calling it
// while already connected (or connecting) for the same user is a no-op.
func (s *Session) Connect(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.state != StateDisconnected && s.userID == userID {
		s.mu.Unlock()
		return nil
	}
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return errors.BadRequest("session already connected for another user", nil)
	}
	s.state = StateConnecting
	s.userID = userID
	s.mu.Unlock()

	endpoint, err := s.dialURL(userID)
	if err != nil {
		s.setDisconnected()
		return errors.BadRequest("invalid websocket endpoint", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		s.setDisconnected()
		logger.Error("Session Connect: dial failed for user %s: %v", userID, err)
		return errors.TransportUnavailable("failed to open realtime channel")
	}

	send := make(chan *Envelope, 16)
	done := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.send = send
	s.done = done
	hooks := append([]func(){}, s.onConnect...)
	s.mu.Unlock()

	go s.writePump(conn, send, done)
	go s.readPump(conn)

	logger.Info("Session Connect: channel established for user %s", userID)
	for _, hook := range hooks {
		hook()
	}
	return nil
}

func (s *Session) dialURL(userID string) (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	done := s.done
	userID := s.userID
	s.conn = nil
	s.state = StateDisconnected
	s.currentRoom = ""
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	logger.Info("Session Close: channel closed for user %s", userID)
}

// JoinRoom leaves the previously joined room, if any, before joining the
// new one so events from the old room do not bleed into the new view.
func (s *Session) JoinRoom(roomID string) error {
	s.mu.Lock()
	previous := s.currentRoom
	s.mu.Unlock()

	if previous == roomID {
		return nil
	}
	if previous != "" {
		if err := s.emit(EventTypeLeaveRoom, LeaveRoomData{RoomID: previous}); err != nil {
			return err
		}
	}
	if err := s.emit(EventTypeJoinRoom, JoinRoomData{RoomID: roomID}); err != nil {
		return err
	}

	s.mu.Lock()
	s.currentRoom = roomID
	s.mu.Unlock()
	return nil
}

func (s *Session) LeaveRoom(roomID string) error {
	s.mu.Lock()
	if s.currentRoom != roomID {
		s.mu.Unlock()
		return nil
	}
	s.currentRoom = ""
	s.mu.Unlock()
	return s.emit(EventTypeLeaveRoom, LeaveRoomData{RoomID: roomID})
}

func (s *Session) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRoom
}

func (s *Session) SendMessage(roomID, content, correlationID string) error {
	return s.emit(EventTypeSend, SendMessageData{
		RoomID:        roomID,
		Content:       content,
		CorrelationID: correlationID,
	})
}

func (s *Session) MarkMessagesAsRead(roomID string) error {
	return s.emit(EventTypeMarkRead, MarkReadData{RoomID: roomID})
}

func (s *Session) emit(eventType string, data interface{}) error {
	s.mu.Lock()
	state := s.state
	send := s.send
	done := s.done
	s.mu.Unlock()

	if state != StateConnected {
		logger.Warn("Session emit: dropped %s event, channel is %s", eventType, state)
		return errors.TransportUnavailable("realtime channel is not connected")
	}

	envelope, err := newEnvelope(eventType, data)
	if err != nil {
		return errors.Internal("failed to encode outbound event", err)
	}

	select {
	case send <- envelope:
		return nil
	case <-done:
		return errors.TransportUnavailable("realtime channel is closing")
	}
}

func (s *Session) writePump(conn *websocket.Conn, send chan *Envelope, done chan struct{}) {
	for {
		select {
		case envelope := <-send:
			if err := conn.WriteJSON(envelope); err != nil {
				logger.Error("Session writePump: write failed: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Session) readPump(conn *websocket.Conn) {
	defer s.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Error("Session readPump: connection lost: %v", err)
			}
			return
		}
		s.dispatch(raw)
	}
}

func (s *Session) dispatch(raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		logger.Warn("Session dispatch: malformed frame: %v", err)
		return
	}

	s.mu.Lock()
	handlers := append([]EventHandler{}, s.handlers...)
	s.mu.Unlock()

	switch envelope.Type {
	case EventTypeNewMessage:
		var msg RawMessage
		if err := json.Unmarshal(envelope.Data, &msg); err != nil {
			logger.Warn("Session dispatch: bad newMessage payload: %v", err)
			return
		}
		for _, h := range handlers {
			h.HandleNewMessage(msg)
		}

	case EventTypeMessagesRead:
		var ev MessagesReadData
		if err := json.Unmarshal(envelope.Data, &ev); err != nil {
			logger.Warn("Session dispatch: bad messagesRead payload: %v", err)
			return
		}
		for _, h := range handlers {
			h.HandleMessagesRead(ev)
		}

	case EventTypeNotification:
		var ev NotificationData
		if err := json.Unmarshal(envelope.Data, &ev); err != nil {
			logger.Warn("Session dispatch: bad newNotification payload: %v", err)
			return
		}
		for _, h := range handlers {
			h.HandleNotification(ev)
		}

	case EventTypeChatError:
		var ev ChatErrorData
		if err := json.Unmarshal(envelope.Data, &ev); err != nil {
			logger.Warn("Session dispatch: bad chatError payload: %v", err)
			return
		}
		for _, h := range handlers {
			h.HandleChatError(ev)
		}

	default:
		logger.Debug("Session dispatch: ignoring unknown event type %q", envelope.Type)
	}
}

func (s *Session) setDisconnected() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
}
