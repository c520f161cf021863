package usecase

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"umbra/internal/domain/entity"
	"umbra/internal/domain/repository"
	ws "umbra/internal/infrastructure/websocket"
	"umbra/pkg/errors"
	"umbra/pkg/logger"
)

// RealtimeSender is the outbound half of the transport session the stores
// depend on. Narrowed to an interface so the reconciliation logic can be
// exercised with synthetic events and no live connection.
type RealtimeSender interface {
	SendMessage(roomID, content, correlationID string) error
	MarkMessagesAsRead(roomID string) error
}

// MessageStore is the single source of truth for one room's ordered message
// log. It accepts optimistic local inserts and reconciles them against
// server-confirmed events; every mutation re-applies the ascending
// CreatedAt ordering so out-of-order delivery across the pull and push
// channels self-heals.
type MessageStore struct {
	viewerID string
	roomID   string

	chatService repository.ChatService
	session     RealtimeSender
	validate    *validator.Validate

	mu       sync.Mutex
	messages []*entity.Message
}

func NewMessageStore(viewerID, roomID string, chatService repository.ChatService, session RealtimeSender) *MessageStore {
	return &MessageStore{
		viewerID:    viewerID,
		roomID:      roomID,
		chatService: chatService,
		session:     session,
		validate:    validator.New(),
	}
}

func (s *MessageStore) RoomID() string {
	return s.roomID
}

// LoadInitial replaces the log wholesale with the room history from the
// request/response surface. This is the only operation allowed to do a
// wholesale replace; on failure the log is cleared so the surface can show
// a retry affordance instead of stale state.
func (s *MessageStore) LoadInitial(ctx context.Context) error {
	history, err := s.chatService.ListMessages(ctx, s.roomID)
	if err != nil {
		s.mu.Lock()
		s.messages = nil
		s.mu.Unlock()
		logger.Error("MessageStore LoadInitial: failed to load history for room %s: %v", s.roomID, err)
		return errors.Internal("failed to load message history", err)
	}

	mapped := make([]*entity.Message, 0, len(history))
	for _, msg := range history {
		copied := *msg
		copied.Status = entity.DeliveryDelivered
		copied.IsOwn = copied.SenderID == s.viewerID
		mapped = append(mapped, &copied)
	}

	s.mu.Lock()
	s.messages = mapped
	s.sortLocked()
	s.mu.Unlock()
	return nil
}

type SendInput struct {
	Content       string `validate:"required_without=MediaFilename"`
	MediaFilename string
	Media         io.Reader
}

// Send appends an optimistic pending entry and emits the send request over
// the realtime channel with the temporary id as correlation token. The
// optimistic entry is visible before any network round trip completes.
// Media sends bypass the realtime path and go through the REST surface.
func (s *MessageStore) Send(ctx context.Context, input SendInput) (*entity.Message, error) {
	input.Content = strings.TrimSpace(input.Content)
	if err := s.validate.Struct(&input); err != nil {
		return nil, errors.BadRequest("message needs text content or attached media", err)
	}

	if input.MediaFilename != "" {
		return s.sendMedia(ctx, input)
	}

	msg := &entity.Message{
		ID:        newTempID(),
		RoomID:    s.roomID,
		SenderID:  s.viewerID,
		Content:   input.Content,
		CreatedAt: time.Now(),
		IsOwn:     true,
		Read:      false,
		Status:    entity.DeliveryPending,
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.sortLocked()
	s.mu.Unlock()

	if err := s.session.SendMessage(s.roomID, input.Content, msg.ID); err != nil {
		logger.Warn("MessageStore Send: rejected send %s while channel unavailable: %v", msg.ID, err)
		s.ApplySendFailed(msg.ID, "not connected")
		snapshot := *msg
		snapshot.Status = entity.DeliveryFailed
		snapshot.Error = "not connected"
		return &snapshot, err
	}

	snapshot := *msg
	return &snapshot, nil
}

func (s *MessageStore) sendMedia(ctx context.Context, input SendInput) (*entity.Message, error) {
	sent, err := s.chatService.SendMediaMessage(ctx, s.roomID, input.Content, input.MediaFilename, input.Media)
	if err != nil {
		logger.Error("MessageStore Send: media upload failed for room %s: %v", s.roomID, err)
		return nil, errors.Internal("failed to send media message", err)
	}

	confirmed := *sent
	confirmed.Status = entity.DeliveryDelivered
	confirmed.IsOwn = true

	s.mu.Lock()
	if idx := s.indexByID(confirmed.ID); idx >= 0 {
		s.messages[idx] = &confirmed
	} else {
		s.messages = append(s.messages, &confirmed)
	}
	s.sortLocked()
	s.mu.Unlock()

	snapshot := confirmed
	return &snapshot, nil
}

// matchTier identifies which rule of the confirmation matching strategy
// applied. Tiers are tried strictly in order: durable id, then correlation
// token, then content+sender recency. When a confirmation carries a
// correlation id the content fallback is never consulted; correlation is
// authoritative for locally-originated sends.
type matchTier int

const (
	matchNone matchTier = iota
	matchDurableID
	matchCorrelation
	matchContent
)

func matchConfirmation(log []*entity.Message, raw ws.RawMessage) (int, matchTier) {
	for i, msg := range log {
		if msg.ID == raw.ID {
			return i, matchDurableID
		}
	}

	if raw.CorrelationID != "" {
		for i, msg := range log {
			if msg.ID == raw.CorrelationID {
				return i, matchCorrelation
			}
		}
		return -1, matchNone
	}

	// Degraded confirmation with neither id nor correlation echo: pick the
	// most recent pending entry from the same sender with identical content.
	for i := len(log) - 1; i >= 0; i-- {
		msg := log[i]
		if msg.Status == entity.DeliveryPending && msg.HasTempID() &&
			msg.SenderID == raw.SenderID && msg.Content == raw.Content {
			return i, matchContent
		}
	}
	return -1, matchNone
}

// ApplyConfirmed reconciles a server-confirmed message into the log:
// replace in place when the confirmation matches an existing entry, append
// otherwise. Re-processing an already-matched id is a no-op, never a
// duplicate append, because the same confirmation can legitimately arrive
// twice across independent consumers.
func (s *MessageStore) ApplyConfirmed(raw ws.RawMessage) {
	if raw.RoomID != s.roomID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	confirmed := &entity.Message{
		ID:        raw.ID,
		RoomID:    raw.RoomID,
		SenderID:  raw.SenderID,
		Content:   raw.Content,
		MediaURL:  raw.MediaURL,
		CreatedAt: raw.CreatedAt,
		IsOwn:     raw.SenderID == s.viewerID,
		Read:      raw.Read,
		Status:    entity.DeliveryDelivered,
	}

	idx, tier := matchConfirmation(s.messages, raw)
	if idx >= 0 {
		// Read state is monotonic: a confirmation never flips a message
		// that is already read back to unread.
		if s.messages[idx].Read {
			confirmed.Read = true
		}
		s.messages[idx] = confirmed
		if tier != matchDurableID {
			logger.Debug("MessageStore ApplyConfirmed: promoted entry to durable id %s (tier %d)", raw.ID, tier)
		}
	} else {
		s.messages = append(s.messages, confirmed)
	}
	s.sortLocked()
}

// ApplySendFailed flips the matching pending entry to failed and records
// the reason. The entry stays in the log so the user can see what failed.
func (s *MessageStore) ApplySendFailed(correlationID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexByID(correlationID)
	if idx < 0 {
		logger.Warn("MessageStore ApplySendFailed: no pending entry for correlation id %s", correlationID)
		return
	}
	msg := s.messages[idx]
	if msg.Status == entity.DeliveryDelivered {
		return
	}
	msg.Status = entity.DeliveryFailed
	msg.Error = reason
}

// ApplyMessagesRead handles the "others read the viewer's own messages"
// direction: only the viewer's sent messages are touched, and only when
// the reading party is someone else. This path exists solely for seen
// indicators and never affects the viewer's own unread counters.
func (s *MessageStore) ApplyMessagesRead(ev ws.MessagesReadData) {
	if ev.RoomID != s.roomID || ev.ReadByUserID == s.viewerID {
		return
	}

	wanted := make(map[string]bool, len(ev.MessageIDs))
	for _, id := range ev.MessageIDs {
		wanted[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.IsOwn && wanted[msg.ID] {
			msg.Read = true
		}
	}
}

// MarkAllFromOthersRead flips every inbound message to read. Driven by the
// viewer-side read sweep.
func (s *MessageStore) MarkAllFromOthersRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if !msg.IsOwn {
			msg.Read = true
		}
	}
}

// UnreadFromOthers audits the log directly for unread inbound entries.
// Feeds the audited source of the unread aggregate.
func (s *MessageStore) UnreadFromOthers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, msg := range s.messages {
		if !msg.IsOwn && !msg.Read {
			count++
		}
	}
	return count
}

// Messages returns a snapshot copy of the log in ascending CreatedAt order.
func (s *MessageStore) Messages() []entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]entity.Message, len(s.messages))
	for i, msg := range s.messages {
		snapshot[i] = *msg
	}
	return snapshot
}

func (s *MessageStore) indexByID(id string) int {
	for i, msg := range s.messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

func (s *MessageStore) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
}

func newTempID() string {
	return fmt.Sprintf("%s%d-%s", entity.TempIDPrefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}
