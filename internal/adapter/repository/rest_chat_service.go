package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"umbra/internal/domain/entity"
	"umbra/internal/domain/repository"
	"umbra/pkg/errors"
)

// restChatService talks to the hosted backend's request/response surface.
// Responses arrive in the backend's standard envelope {success, data,
// error, timestamp}.
type restChatService struct {
	baseURL string
	userID  string
	client  *http.Client
}

func NewRESTChatService(baseURL, userID string) repository.ChatService {
	return &restChatService{
		baseURL: baseURL,
		userID:  userID,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *restChatService) ListRooms(ctx context.Context) ([]*entity.Room, error) {
	var rooms []*entity.Room
	if err := s.get(ctx, "/chat/rooms", &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (s *restChatService) ListMessages(ctx context.Context, roomID string) ([]*entity.Message, error) {
	var messages []*entity.Message
	if err := s.get(ctx, fmt.Sprintf("/chat/rooms/%s/messages", roomID), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *restChatService) MarkRoomRead(ctx context.Context, roomID string) error {
	return s.post(ctx, fmt.Sprintf("/chat/rooms/%s/mark-read", roomID), nil, nil)
}

func (s *restChatService) GetOrCreateDirectRoom(ctx context.Context, userID string) (*entity.Room, error) {
	var room entity.Room
	if err := s.post(ctx, fmt.Sprintf("/chat/dm/%s", userID), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *restChatService) UnreadSenders(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	if err := s.get(ctx, "/notifications/unread-message-senders", &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *restChatService) SendMediaMessage(ctx context.Context, roomID, content, filename string, media io.Reader) (*entity.Message, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("media", filename)
	if err != nil {
		return nil, errors.Internal("failed to build media upload", err)
	}
	if _, err := io.Copy(part, media); err != nil {
		return nil, errors.Internal("failed to read media attachment", err)
	}
	if err := writer.WriteField("room_id", roomID); err != nil {
		return nil, errors.Internal("failed to build media upload", err)
	}
	if content != "" {
		if err := writer.WriteField("content", content); err != nil {
			return nil, errors.Internal("failed to build media upload", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Internal("failed to build media upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/messages/media", &body)
	if err != nil {
		return nil, errors.Internal("failed to build media request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-User-ID", s.userID)

	var message entity.Message
	if err := s.do(req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (s *restChatService) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return errors.Internal("failed to build request", err)
	}
	req.Header.Set("X-User-ID", s.userID)
	return s.do(req, out)
}

func (s *restChatService) post(ctx context.Context, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errors.Internal("failed to encode request body", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, body)
	if err != nil {
		return errors.Internal("failed to build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-ID", s.userID)
	return s.do(req, out)
}

func (s *restChatService) do(req *http.Request, out interface{}) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Internal("backend request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Internal("failed to read backend response", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return errors.Internal("malformed backend response", err)
	}

	if !envelope.Success || resp.StatusCode >= http.StatusBadRequest {
		code := "BACKEND_ERROR"
		message := "backend rejected the request"
		if envelope.Error != nil {
			code = envelope.Error.Code
			message = envelope.Error.Message
		}
		return errors.New(code, message, resp.StatusCode, nil)
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return errors.Internal("malformed backend payload", err)
	}
	return nil
}
