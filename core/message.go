package core

import (
	"encoding/json"
	"time"
)

// MessageType determines how message content should be interpreted.
type MessageType string

const (
	TextMessage  MessageType = "text"
	ImageMessage MessageType = "image"
	FileMessage  MessageType = "file"
	AudioMessage MessageType = "audio"
	VideoMessage MessageType = "video"
)

// DeliveryStatus is the per-recipient delivery marker of a message.
// The progression sent -> delivered -> read is expected to be monotonic per
// (message, account) pair; writes are last-wins and the server is trusted
// not to regress it.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Message represents a chat message within a conversation. Messages are
// unique by UUID within the loaded window and ordered ascending by CreatedAt.
type Message struct {
	ID             int64           `json:"id" validate:"required"`
	UUID           string          `json:"uuid" validate:"required"`
	ConversationID int64           `json:"conversationId" validate:"required"`
	SenderID       int64           `json:"senderId" validate:"required"`
	Content        string          `json:"content" validate:"required"`
	Type           MessageType     `json:"type" validate:"required,oneof=text image file audio video"`
	Metadata       string          `json:"metadata,omitempty"`
	ReplyToID      *int64          `json:"replyToId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	DeletedAt      *time.Time      `json:"deletedAt,omitempty"`
	Statuses       []MessageStatus `json:"statuses,omitempty"`
}

// MessageFromExternal maps an external JSON payload to a Message.
func MessageFromExternal(data json.RawMessage) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &MappingError{Entity: "message", Err: err}
	}
	if err := validate.Struct(&m); err != nil {
		return nil, &MappingError{Entity: "message", Err: err}
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	return &m, nil
}

func (m *Message) IsReply() bool {
	return m.ReplyToID != nil
}

// ParsedMetadata decodes the metadata JSON string. The second return value
// is false when there is no metadata or it is not valid JSON.
func (m *Message) ParsedMetadata() (map[string]interface{}, bool) {
	if m.Metadata == "" {
		return nil, false
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(m.Metadata), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

// StatusFor returns the delivery status record for the given account.
func (m *Message) StatusFor(accountID int64) (*MessageStatus, bool) {
	for i := range m.Statuses {
		if m.Statuses[i].AccountID == accountID {
			return &m.Statuses[i], true
		}
	}
	return nil, false
}

// MessageStatus is the per-recipient delivery/read marker of a message.
// Identity is the (MessageID, AccountID) pair.
type MessageStatus struct {
	ID        int64          `json:"id,omitempty"`
	UUID      string         `json:"uuid,omitempty"`
	MessageID int64          `json:"messageId" validate:"required"`
	AccountID int64          `json:"accountId" validate:"required"`
	Status    DeliveryStatus `json:"status" validate:"required,oneof=sent delivered read"`
	StatusAt  time.Time      `json:"statusAt"`
}

// MessageStatusFromExternal maps an external JSON payload to a MessageStatus.
func MessageStatusFromExternal(data json.RawMessage) (*MessageStatus, error) {
	var s MessageStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &MappingError{Entity: "message status", Err: err}
	}
	if err := validate.Struct(&s); err != nil {
		return nil, &MappingError{Entity: "message status", Err: err}
	}
	if s.StatusAt.IsZero() {
		s.StatusAt = time.Now()
	}
	return &s, nil
}
