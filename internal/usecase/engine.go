package usecase

import (
	"context"
	"sync"
	"time"

	"umbra/internal/domain/entity"
	"umbra/internal/domain/repository"
	ws "umbra/internal/infrastructure/websocket"
	"umbra/pkg/errors"
	"umbra/pkg/logger"
)

// Engine wires the transport session, message store, read-receipt
// reconciler, unread aggregator, and room list together and routes every
// inbound event to each of them. Several independent consumers (popup,
// side panel, inbox page, mobile badge) may observe the same logical
// event, so every route is idempotent.
type Engine struct {
	viewerID    string
	chatService repository.ChatService
	session     *ws.Session

	unread   *UnreadAggregator
	roomList *RoomListSynchronizer
	receipts *ReadReceiptReconciler

	mu    sync.Mutex
	store *MessageStore
}

func NewEngine(viewerID string, chatService repository.ChatService, session *ws.Session, cache repository.UnreadCache, roomRefreshDelay time.Duration) *Engine {
	unread := NewUnreadAggregator(cache)
	engine := &Engine{
		viewerID:    viewerID,
		chatService: chatService,
		session:     session,
		unread:      unread,
		roomList:    NewRoomListSynchronizer(chatService, unread, roomRefreshDelay),
		receipts:    NewReadReceiptReconciler(viewerID, chatService, session, unread),
	}

	session.Subscribe(engine)
	session.OnConnect(engine.onConnected)
	return engine
}

// Connect opens the realtime channel. Idempotent per user.
func (e *Engine) Connect(ctx context.Context) error {
	return e.session.Connect(ctx, e.viewerID)
}

func (e *Engine) Close() {
	e.session.Close()
}

// onConnected rejoins the room in view and requests the read-receipt
// sweep, so a channel that came up after the room was opened still ends up
// consistent.
func (e *Engine) onConnected() {
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()

	if store == nil {
		return
	}
	if err := e.session.JoinRoom(store.RoomID()); err != nil {
		logger.Warn("Engine onConnected: failed to rejoin room %s: %v", store.RoomID(), err)
		return
	}
	e.receipts.Sweep()
}

// OpenRoom loads the room's history, joins it on the channel (leaving the
// previous room first), and triggers the mark-as-read flow.
func (e *Engine) OpenRoom(ctx context.Context, roomID string) error {
	store := NewMessageStore(e.viewerID, roomID, e.chatService, e.session)
	if err := store.LoadInitial(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	e.store = store
	e.mu.Unlock()

	if err := e.session.JoinRoom(roomID); err != nil {
		logger.Warn("Engine OpenRoom: join deferred until channel reconnects: %v", err)
	}

	key := e.roomList.CounterpartKey(roomID)
	e.roomList.OpenRoom(roomID)
	e.unread.SetAudited(key, store.UnreadFromOthers())
	e.receipts.RoomOpened(store, key)
	return nil
}

// OpenDirectRoom resolves (or lazily creates) the direct room with the
// given user before opening it.
func (e *Engine) OpenDirectRoom(ctx context.Context, userID string) (string, error) {
	room, err := e.chatService.GetOrCreateDirectRoom(ctx, userID)
	if err != nil {
		return "", err
	}
	return room.ID, e.OpenRoom(ctx, room.ID)
}

func (e *Engine) CloseRoom() {
	e.mu.Lock()
	store := e.store
	e.store = nil
	e.mu.Unlock()

	if store != nil {
		if err := e.session.LeaveRoom(store.RoomID()); err != nil {
			logger.Debug("Engine CloseRoom: leave skipped: %v", err)
		}
	}
	e.roomList.CloseRoom()
	e.receipts.RoomClosed()
}

// Send forwards to the open room's message store.
func (e *Engine) Send(ctx context.Context, input SendInput) (*entity.Message, error) {
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()

	if store == nil {
		return nil, errors.BadRequest("no room is open", nil)
	}
	return store.Send(ctx, input)
}

// SetFocused forwards the window focus state to the read-receipt gate.
func (e *Engine) SetFocused(focused bool) {
	e.receipts.SetFocused(focused)
}

// LoadRooms populates the inbox projection.
func (e *Engine) LoadRooms(ctx context.Context) error {
	return e.roomList.LoadInitial(ctx)
}

// RefreshUnread pulls the authoritative counts endpoint into the pulled
// source of the aggregate.
func (e *Engine) RefreshUnread(ctx context.Context) error {
	return e.unread.RefreshPulled(ctx, e.chatService)
}

func (e *Engine) Rooms() []entity.Room {
	return e.roomList.Rooms()
}

func (e *Engine) Messages() []entity.Message {
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Messages()
}

func (e *Engine) UnreadCounts() map[string]int {
	return e.unread.Counts()
}

func (e *Engine) UnreadTotal() int {
	return e.unread.Total()
}

func (e *Engine) ConnectionState() ws.State {
	return e.session.State()
}

// HandleNewMessage reconciles confirmations into the open room's log. An
// inbound message while the room is open triggers the focus-gated read
// sweep; otherwise the audited unread count is refreshed from the log.
func (e *Engine) HandleNewMessage(msg ws.RawMessage) {
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()

	if store == nil || msg.RoomID != store.RoomID() {
		return
	}
	store.ApplyConfirmed(msg)

	if msg.SenderID != e.viewerID {
		e.receipts.NotifyInbound()
		key := e.roomList.CounterpartKey(msg.RoomID)
		e.unread.SetAudited(key, store.UnreadFromOthers())
	}
}

// HandleMessagesRead applies the seen-indicator direction to the open
// room, and treats a receipt from the viewer themselves (possibly issued
// by another consumer surface) as a reset of the counterpart's aggregate.
func (e *Engine) HandleMessagesRead(ev ws.MessagesReadData) {
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()

	if store != nil {
		store.ApplyMessagesRead(ev)
	}
	if ev.ReadByUserID == e.viewerID {
		e.unread.Reset(e.roomList.CounterpartKey(ev.RoomID))
	}
}

// HandleNotification increments the push-driven unread source by exactly
// one and bumps the room list row in place. Double counting against the
// pulled source is resolved by the max merge, not here.
func (e *Engine) HandleNotification(ev ws.NotificationData) {
	key := ev.SenderID
	if ev.RoomID != "" {
		key = e.roomList.CounterpartKey(ev.RoomID)
	}
	e.unread.IncrementPushed(key)
	e.roomList.HandleNotification(ev)
}

// HandleChatError flips the matching optimistic entry to failed; the
// drafted content stays visible.
func (e *Engine) HandleChatError(ev ws.ChatErrorData) {
	if ev.CorrelationID == "" {
		logger.Warn("Engine HandleChatError: server error without correlation id: %s", ev.Message)
		return
	}

	e.mu.Lock()
	store := e.store
	e.mu.Unlock()
	if store == nil {
		return
	}
	store.ApplySendFailed(ev.CorrelationID, ev.Message)
}
