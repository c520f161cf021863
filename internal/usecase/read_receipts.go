package usecase

import (
	"context"
	"sync"
	"time"

	"umbra/internal/domain/repository"
	"umbra/pkg/logger"
)

// ReadReceiptReconciler drives the "viewer reads others' messages"
// direction: a mark-as-read sweep fires when the room in view gains input
// focus, on initial open, and whenever a new inbound message arrives while
// the room is open and focused. The opposite direction (others reading the
// viewer's sent messages) never passes through here; it is applied
// straight onto the message store from the messagesRead event.
type ReadReceiptReconciler struct {
	viewerID    string
	chatService repository.ChatService
	session     RealtimeSender
	unread      *UnreadAggregator

	mu          sync.Mutex
	focused     bool
	store       *MessageStore
	counterpart string
}

func NewReadReceiptReconciler(viewerID string, chatService repository.ChatService, session RealtimeSender, unread *UnreadAggregator) *ReadReceiptReconciler {
	return &ReadReceiptReconciler{
		viewerID:    viewerID,
		chatService: chatService,
		session:     session,
		unread:      unread,
		focused:     true,
	}
}

// SetFocused gates the mark-as-read side effect on actual input focus.
// While unfocused no sweep fires even with the room visually open; the
// suppressed sweep fires on refocus if the room is still open.
func (r *ReadReceiptReconciler) SetFocused(focused bool) {
	r.mu.Lock()
	wasFocused := r.focused
	r.focused = focused
	store := r.store
	r.mu.Unlock()

	if focused && !wasFocused && store != nil {
		r.Sweep()
	}
}

// RoomOpened binds the reconciler to the room in view and, if focused,
// runs the initial-open sweep.
func (r *ReadReceiptReconciler) RoomOpened(store *MessageStore, counterpartKey string) {
	r.mu.Lock()
	r.store = store
	r.counterpart = counterpartKey
	focused := r.focused
	r.mu.Unlock()

	if focused {
		r.Sweep()
	}
}

func (r *ReadReceiptReconciler) RoomClosed() {
	r.mu.Lock()
	r.store = nil
	r.counterpart = ""
	r.mu.Unlock()
}

// NotifyInbound runs the sweep for a newly arrived inbound message, still
// subject to the focus gate.
func (r *ReadReceiptReconciler) NotifyInbound() {
	r.mu.Lock()
	focused := r.focused
	store := r.store
	r.mu.Unlock()

	if focused && store != nil {
		r.Sweep()
	}
}

// Sweep issues the REST mark-as-read and the corresponding realtime event,
// flips the open room's inbound messages to read, and zeroes the unread
// aggregate for the counterpart. A REST failure is logged only; the
// realtime event still goes out as a best-effort fallback.
func (r *ReadReceiptReconciler) Sweep() {
	r.mu.Lock()
	store := r.store
	counterpart := r.counterpart
	r.mu.Unlock()

	if store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.chatService.MarkRoomRead(ctx, store.RoomID()); err != nil {
		logger.Warn("ReadReceipts Sweep: mark-read request failed for room %s, relying on realtime fallback: %v", store.RoomID(), err)
	}
	if err := r.session.MarkMessagesAsRead(store.RoomID()); err != nil {
		logger.Warn("ReadReceipts Sweep: realtime mark-read failed for room %s: %v", store.RoomID(), err)
	}

	store.MarkAllFromOthersRead()
	r.unread.Reset(counterpart)
}
