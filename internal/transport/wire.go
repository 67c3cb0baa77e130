package transport

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/store"
)

// MessagePayload is the sendMessage/receiveMessage wire shape. CorrelationID
// is generated client-side on every outbound message so a future relay that
// echoes the sender's message can be deduplicated.
type MessagePayload struct {
	GroupID       int64  `json:"groupId"`
	SenderID      int64  `json:"senderId"`
	Message       string `json:"message"`
	MessageType   string `json:"messageType"`
	FileURL       string `json:"fileUrl,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// TypingPayload is the outbound typing wire shape.
type TypingPayload struct {
	GroupID int64 `json:"groupId"`
	UserID  int64 `json:"usersId"`
}

// TypingEvent is the inbound typing notification.
type TypingEvent struct {
	UserID int64 `json:"usersId"`
}

// ParseMessage decodes a receiveMessage payload into a domain message.
// Inbound frames without a correlation id get a local one so the cache
// upsert stays idempotent.
func ParseMessage(data json.RawMessage) (*store.Message, error) {
	var p MessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	corr := p.CorrelationID
	if corr == "" {
		corr = uuid.NewString()
	}
	return &store.Message{
		GroupID:        p.GroupID,
		CorrelationID:  corr,
		SenderID:       p.SenderID,
		Kind:           p.MessageType,
		Body:           p.Message,
		FileURL:        p.FileURL,
		DeliveryStatus: store.DeliveryReceived,
		ArrivedAt:      time.Now().UnixMilli(),
	}, nil
}
