package core

import (
	"encoding/json"
	"time"
)

// ConversationType represents the kind of a conversation.
type ConversationType string

const (
	// PrivateConversation is a conversation between exactly two accounts.
	// Only one private conversation can exist between two accounts.
	PrivateConversation ConversationType = "private"
	// GroupConversation is a conversation with two or more accounts.
	GroupConversation ConversationType = "group"
)

// Conversation represents a private or group messaging thread as the server
// reports it. Instances are produced by ConversationFromExternal from either
// a REST response or a realtime event payload; both sources yield the same
// shape and are merged by UUID.
type Conversation struct {
	ID           int64            `json:"id" validate:"required"`
	UUID         string           `json:"uuid" validate:"required"`
	Name         string           `json:"name,omitempty"`
	Type         ConversationType `json:"type" validate:"required,oneof=private group"`
	CreatedBy    int64            `json:"createdBy" validate:"required"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	DeletedAt    *time.Time       `json:"deletedAt,omitempty"`
	Participants []Participant    `json:"participants,omitempty"`
	LastMessage  *Message         `json:"lastMessage,omitempty"`
	UnreadCount  int              `json:"unreadCount,omitempty"`
}

// ConversationFromExternal maps an external JSON payload to a Conversation.
// Missing required fields surface as a MappingError. Zero timestamps default
// to the current time, matching what the server omits on freshly created rows.
func ConversationFromExternal(data json.RawMessage) (*Conversation, error) {
	var c Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &MappingError{Entity: "conversation", Err: err}
	}
	if err := validate.Struct(&c); err != nil {
		return nil, &MappingError{Entity: "conversation", Err: err}
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	return &c, nil
}

func (c *Conversation) IsGroup() bool {
	return c.Type == GroupConversation
}

func (c *Conversation) IsPrivate() bool {
	return c.Type == PrivateConversation
}

func (c *Conversation) HasUnread() bool {
	return c.UnreadCount > 0
}

func (c *Conversation) ParticipantCount() int {
	return len(c.Participants)
}
