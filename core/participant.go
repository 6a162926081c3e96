package core

import (
	"encoding/json"
	"time"
)

// ParticipantRole is the role of an account within a conversation.
type ParticipantRole string

const (
	Admin  ParticipantRole = "admin"
	Member ParticipantRole = "member"
)

// Participant is an account's membership record in a conversation.
// A nil LeftAt means the membership is active.
type Participant struct {
	ID             int64           `json:"id" validate:"required"`
	UUID           string          `json:"uuid" validate:"required"`
	ConversationID int64           `json:"conversationId" validate:"required"`
	AccountID      int64           `json:"accountId" validate:"required"`
	Role           ParticipantRole `json:"role" validate:"required,oneof=admin member"`
	JoinedAt       time.Time       `json:"joinedAt"`
	LeftAt         *time.Time      `json:"leftAt,omitempty"`
}

// ParticipantFromExternal maps an external JSON payload to a Participant.
func ParticipantFromExternal(data json.RawMessage) (*Participant, error) {
	var p Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &MappingError{Entity: "participant", Err: err}
	}
	if err := validate.Struct(&p); err != nil {
		return nil, &MappingError{Entity: "participant", Err: err}
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	return &p, nil
}

func (p *Participant) Active() bool {
	return p.LeftAt == nil
}

func (p *Participant) IsAdmin() bool {
	return p.Role == Admin
}
