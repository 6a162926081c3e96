package core

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Server -> client event names.
const (
	// Connection lifecycle. Connect and Disconnect are emitted locally by
	// the realtime client, never received from the server.
	EventConnect    = "connect"
	EventDisconnect = "disconnect"

	EventStateChanged    = "connection:state_changed"
	EventConnectionError = "connection:error"
	EventReconnecting    = "connection:reconnecting"
	EventReconnected     = "connection:reconnected"

	EventNewMessage             = "chat:new_message"
	EventMessageUpdated         = "chat:message_updated"
	EventMessageDeleted         = "chat:message_deleted"
	EventMessageStatusChanged   = "chat:message_status_changed"
	EventConversationCreated    = "chat:conversation_created"
	EventConversationUpdated    = "chat:conversation_updated"
	EventConversationDeleted    = "chat:conversation_deleted"
	EventParticipantAdded       = "chat:participant_added"
	EventParticipantRemoved     = "chat:participant_removed"
	EventParticipantLeft        = "chat:participant_left"
	EventParticipantRoleChanged = "chat:participant_role_changed"
	EventUserTyping             = "chat:user_typing"
	EventUserStoppedTyping      = "chat:user_stopped_typing"

	EventUserOnline  = "presence:user_online"
	EventUserOffline = "presence:user_offline"

	EventNotificationReceived = "notification:received"
)

// Client -> server event names.
const (
	EventAuthenticate     = "authenticate"
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventTyping           = "chat:typing"
	EventMessageDelivered = "chat:message_delivered"
	EventMessageRead      = "chat:message_read"
)

// serverEvents is the closed set of event names the server may push.
var serverEvents = map[string]struct{}{
	EventNewMessage:             {},
	EventMessageUpdated:         {},
	EventMessageDeleted:         {},
	EventMessageStatusChanged:   {},
	EventConversationCreated:    {},
	EventConversationUpdated:    {},
	EventConversationDeleted:    {},
	EventParticipantAdded:       {},
	EventParticipantRemoved:     {},
	EventParticipantLeft:        {},
	EventParticipantRoleChanged: {},
	EventUserTyping:             {},
	EventUserStoppedTyping:      {},
	EventUserOnline:             {},
	EventUserOffline:            {},
	EventNotificationReceived:   {},
}

// KnownServerEvent reports whether name is in the closed set of events the
// server is allowed to push.
func KnownServerEvent(name string) bool {
	_, ok := serverEvents[name]
	return ok
}

// ConversationRoom returns the broadcast room name scoping a conversation's
// realtime events.
func ConversationRoom(conversationID int64) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

// Event is the wire envelope for all realtime traffic in both directions.
// The payload is decoded into a typed struct by the consuming handler.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Payload.Size: %d}", e.Type, len(e.Payload))
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// NewEvent builds an envelope with a marshalled payload.
func NewEvent(t string, payload interface{}) (*Event, error) {
	if payload == nil {
		return &Event{Type: t}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Event{Type: t, Payload: b}, nil
}

// DecodePayload unmarshals and validates an event payload at the boundary
// where external data enters the process.
func DecodePayload[T any](data json.RawMessage) (*T, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &MappingError{Entity: "event payload", Err: err}
	}
	if err := validate.Struct(&p); err != nil {
		return nil, &MappingError{Entity: "event payload", Err: err}
	}
	return &p, nil
}

// Typed payloads, one per event kind.

type StateChangedPayload struct {
	State  string `json:"state" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

type ConnectionErrorPayload struct {
	Error string `json:"error" validate:"required"`
}

type ReconnectingPayload struct {
	Attempt int `json:"attempt" validate:"required"`
}

type ReconnectedPayload struct {
	Attempts int `json:"attempts" validate:"required"`
}

type NewMessagePayload struct {
	ConversationID int64           `json:"conversationId" validate:"required"`
	Message        json.RawMessage `json:"message" validate:"required"`
}

type MessageUpdatedPayload struct {
	ConversationID int64           `json:"conversationId" validate:"required"`
	Message        json.RawMessage `json:"message" validate:"required"`
}

type MessageDeletedPayload struct {
	ConversationID int64  `json:"conversationId" validate:"required"`
	MessageID      int64  `json:"messageId" validate:"required"`
	UUID           string `json:"uuid,omitempty"`
}

type MessageStatusChangedPayload struct {
	MessageID int64          `json:"messageId" validate:"required"`
	AccountID int64          `json:"accountId" validate:"required"`
	Status    DeliveryStatus `json:"status" validate:"required,oneof=sent delivered read"`
	StatusAt  time.Time      `json:"statusAt"`
}

type ConversationCreatedPayload struct {
	Conversation json.RawMessage `json:"conversation" validate:"required"`
}

type ConversationUpdatedPayload struct {
	Conversation json.RawMessage `json:"conversation" validate:"required"`
}

type ConversationDeletedPayload struct {
	ConversationID int64 `json:"conversationId" validate:"required"`
}

type ParticipantPayload struct {
	ConversationID int64           `json:"conversationId" validate:"required"`
	Participant    json.RawMessage `json:"participant" validate:"required"`
}

type TypingPayload struct {
	ConversationID int64 `json:"conversationId" validate:"required"`
	AccountID      int64 `json:"accountId" validate:"required"`
	IsTyping       bool  `json:"isTyping"`
}

type PresencePayload struct {
	AccountID int64      `json:"accountId" validate:"required"`
	Status    string     `json:"status" validate:"required,oneof=online offline"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

type NotificationPayload struct {
	ID        int64           `json:"id" validate:"required"`
	Kind      string          `json:"type" validate:"required"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type AuthenticatePayload struct {
	Token string `json:"token" validate:"required"`
}

type RoomPayload struct {
	Room string `json:"room" validate:"required"`
}

type StatusAckPayload struct {
	MessageID int64 `json:"messageId" validate:"required"`
	AccountID int64 `json:"accountId" validate:"required"`
}
