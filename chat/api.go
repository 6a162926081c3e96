package chat

import (
	"context"
	"time"

	"github.com/putto11262002/chatsync/core"
)

// PageOptions paginates list calls.
type PageOptions struct {
	Limit  int
	Offset int
}

// MessageQuery selects a window of a conversation's messages.
type MessageQuery struct {
	Limit  int
	Offset int
	Before *time.Time
	After  *time.Time
}

// ConversationCreateInput is the input for creating a conversation.
type ConversationCreateInput struct {
	Name         string                `json:"name,omitempty"`
	Type         core.ConversationType `json:"type" validate:"required,oneof=private group"`
	CreatedBy    int64                 `json:"createdBy" validate:"required"`
	Participants []int64               `json:"participantIds,omitempty"`
}

// Validate validates the input.
func (i *ConversationCreateInput) Validate() error {
	return core.Validate(i)
}

type ConversationUpdateInput struct {
	Name *string                `json:"name,omitempty"`
	Type *core.ConversationType `json:"type,omitempty"`
}

// MessageCreateInput is the input for sending a message.
type MessageCreateInput struct {
	ConversationID int64            `json:"conversationId" validate:"required"`
	SenderID       int64            `json:"senderId" validate:"required"`
	Content        string           `json:"content" validate:"required"`
	Type           core.MessageType `json:"type" validate:"required,oneof=text image file audio video"`
	Metadata       string           `json:"metadata,omitempty"`
	ReplyToID      *int64           `json:"replyToId,omitempty"`
}

// Validate validates the input.
func (i *MessageCreateInput) Validate() error {
	return core.Validate(i)
}

type MessageUpdateInput struct {
	Content  *string `json:"content,omitempty"`
	Metadata *string `json:"metadata,omitempty"`
}

type ParticipantInput struct {
	AccountID int64                `json:"accountId" validate:"required"`
	Role      core.ParticipantRole `json:"role" validate:"required,oneof=admin member"`
}

// API is the REST collaborator surface the synchronizer consumes. The HTTP
// implementation talks to the chat backend; tests substitute their own.
type API interface {
	// ListConversations returns the conversations the account participates
	// in, most recently active first.
	ListConversations(ctx context.Context, accountID int64, opt PageOptions) ([]*core.Conversation, error)
	GetConversation(ctx context.Context, uuid string) (*core.Conversation, error)
	// GetPrivateConversation returns the private conversation between the
	// two accounts, or core.ErrNotFound when none exists.
	GetPrivateConversation(ctx context.Context, accountID1, accountID2 int64) (*core.Conversation, error)
	CreateConversation(ctx context.Context, input ConversationCreateInput) (*core.Conversation, error)
	UpdateConversation(ctx context.Context, uuid string, input ConversationUpdateInput) (*core.Conversation, error)
	DeleteConversation(ctx context.Context, uuid string) error

	ListMessages(ctx context.Context, conversationID int64, q MessageQuery) ([]*core.Message, error)
	SendMessage(ctx context.Context, input MessageCreateInput) (*core.Message, error)
	UpdateMessage(ctx context.Context, uuid string, input MessageUpdateInput) (*core.Message, error)
	DeleteMessage(ctx context.Context, uuid string) error
	SearchMessages(ctx context.Context, conversationID int64, term string, opt PageOptions) ([]*core.Message, error)
	UnreadMessages(ctx context.Context, conversationID, accountID int64) ([]*core.Message, error)

	ListParticipants(ctx context.Context, conversationID int64, includeLeft bool) ([]*core.Participant, error)
	AddParticipant(ctx context.Context, conversationID int64, input ParticipantInput) (*core.Participant, error)
	AddParticipants(ctx context.Context, conversationID int64, inputs []ParticipantInput) ([]*core.Participant, error)
	RemoveParticipant(ctx context.Context, uuid string) error
	LeaveConversation(ctx context.Context, uuid string) (*core.Participant, error)
	UpdateParticipantRole(ctx context.Context, uuid string, role core.ParticipantRole) (*core.Participant, error)

	MarkAsRead(ctx context.Context, messageID, accountID int64) error
	MarkAllAsRead(ctx context.Context, conversationID, accountID int64) error
}
