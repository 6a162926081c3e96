package chat

import (
	"encoding/json"

	"github.com/putto11262002/chatsync/core"
	"github.com/putto11262002/chatsync/ws"
)

// Realtime is the slice of the websocket client the store needs. *ws.Client
// satisfies it.
type Realtime interface {
	On(event string, h ws.Handler) func()
	Send(event string, payload interface{}) error
	JoinRoom(room string) error
	LeaveRoom(room string) error
}

// BindRealtime subscribes the store to server-pushed chat events so the
// in-memory state stays current without polling. Calling it twice is a no-op.
func (s *Store) BindRealtime() {
	s.mu.Lock()
	if s.bound || s.rt == nil {
		s.mu.Unlock()
		return
	}
	s.bound = true
	s.mu.Unlock()

	bindings := []struct {
		event   string
		handler ws.Handler
	}{
		{core.EventNewMessage, s.onNewMessage},
		{core.EventMessageUpdated, s.onMessageUpdated},
		{core.EventMessageDeleted, s.onMessageDeleted},
		{core.EventMessageStatusChanged, s.onMessageStatusChanged},
		{core.EventConversationCreated, s.onConversationCreated},
		{core.EventConversationUpdated, s.onConversationUpdated},
		{core.EventConversationDeleted, s.onConversationDeleted},
		{core.EventParticipantAdded, s.onParticipantAdded},
		{core.EventParticipantRemoved, s.onParticipantRemoved},
		{core.EventParticipantLeft, s.onParticipantLeft},
		{core.EventParticipantRoleChanged, s.onParticipantRoleChanged},
		{core.EventReconnected, s.onReconnected},
	}

	unbind := make([]func(), 0, len(bindings))
	for _, b := range bindings {
		unbind = append(unbind, s.rt.On(b.event, b.handler))
	}

	s.mu.Lock()
	s.unbind = unbind
	s.mu.Unlock()
}

// UnbindRealtime removes all subscriptions installed by BindRealtime.
func (s *Store) UnbindRealtime() {
	s.mu.Lock()
	unbind := s.unbind
	s.unbind = nil
	s.bound = false
	s.mu.Unlock()

	for _, off := range unbind {
		off()
	}
}

func (s *Store) onNewMessage(data json.RawMessage) {
	p, err := core.DecodePayload[core.NewMessagePayload](data)
	if err != nil {
		s.logger.Error("new_message payload rejected", "error", err)
		return
	}
	m, err := core.MessageFromExternal(p.Message)
	if err != nil {
		s.logger.Error("new_message rejected", "error", err)
		return
	}

	s.mu.Lock()
	s.applyMessage(m)
	s.mu.Unlock()
}

func (s *Store) onMessageUpdated(data json.RawMessage) {
	p, err := core.DecodePayload[core.MessageUpdatedPayload](data)
	if err != nil {
		s.logger.Error("message_updated payload rejected", "error", err)
		return
	}
	m, err := core.MessageFromExternal(p.Message)
	if err != nil {
		s.logger.Error("message_updated rejected", "error", err)
		return
	}

	s.mu.Lock()
	s.replaceMessage(m)
	s.mu.Unlock()
}

func (s *Store) onMessageDeleted(data json.RawMessage) {
	p, err := core.DecodePayload[core.MessageDeletedPayload](data)
	if err != nil {
		s.logger.Error("message_deleted payload rejected", "error", err)
		return
	}

	s.mu.Lock()
	s.removeMessage(p.UUID, p.MessageID)
	s.mu.Unlock()
}

func (s *Store) onMessageStatusChanged(data json.RawMessage) {
	p, err := core.DecodePayload[core.MessageStatusChangedPayload](data)
	if err != nil {
		s.logger.Error("message_status_changed payload rejected", "error", err)
		return
	}

	s.mu.Lock()
	s.applyMessageStatus(&core.MessageStatus{
		MessageID: p.MessageID,
		AccountID: p.AccountID,
		Status:    p.Status,
		StatusAt:  p.StatusAt,
	})
	s.mu.Unlock()
}

func (s *Store) onConversationCreated(data json.RawMessage) {
	p, err := core.DecodePayload[core.ConversationCreatedPayload](data)
	if err != nil {
		s.logger.Error("conversation_created payload rejected", "error", err)
		return
	}
	c, err := core.ConversationFromExternal(p.Conversation)
	if err != nil {
		s.logger.Error("conversation_created rejected", "error", err)
		return
	}

	s.mu.Lock()
	s.upsertConversationFront(c)
	s.mu.Unlock()
}

func (s *Store) onConversationUpdated(data json.RawMessage) {
	p, err := core.DecodePayload[core.ConversationUpdatedPayload](data)
	if err != nil {
		s.logger.Error("conversation_updated payload rejected", "error", err)
		return
	}
	c, err := core.ConversationFromExternal(p.Conversation)
	if err != nil {
		s.logger.Error("conversation_updated rejected", "error", err)
		return
	}

	s.mu.Lock()
	s.replaceConversation(c)
	s.mu.Unlock()
}

func (s *Store) onConversationDeleted(data json.RawMessage) {
	p, err := core.DecodePayload[core.ConversationDeletedPayload](data)
	if err != nil {
		s.logger.Error("conversation_deleted payload rejected", "error", err)
		return
	}

	s.mu.Lock()
	wasActive := s.activeID == p.ConversationID
	s.removeConversation(p.ConversationID)
	s.mu.Unlock()

	if wasActive {
		if err := s.rt.LeaveRoom(core.ConversationRoom(p.ConversationID)); err != nil {
			s.logger.Warn("leave room after conversation delete", "error", err)
		}
	}
}

func (s *Store) onParticipantAdded(data json.RawMessage) {
	p := s.decodeParticipantEvent(data, "participant_added")
	if p == nil {
		return
	}
	s.mu.Lock()
	s.upsertParticipant(p)
	s.mu.Unlock()
}

func (s *Store) onParticipantRemoved(data json.RawMessage) {
	p := s.decodeParticipantEvent(data, "participant_removed")
	if p == nil {
		return
	}
	s.mu.Lock()
	s.removeParticipant(p.ID)
	s.mu.Unlock()
}

func (s *Store) onParticipantLeft(data json.RawMessage) {
	p := s.decodeParticipantEvent(data, "participant_left")
	if p == nil {
		return
	}
	s.mu.Lock()
	s.upsertParticipant(p)
	s.mu.Unlock()
}

func (s *Store) onParticipantRoleChanged(data json.RawMessage) {
	p := s.decodeParticipantEvent(data, "participant_role_changed")
	if p == nil {
		return
	}
	s.mu.Lock()
	s.upsertParticipant(p)
	s.mu.Unlock()
}

func (s *Store) decodeParticipantEvent(data json.RawMessage, event string) *core.Participant {
	payload, err := core.DecodePayload[core.ParticipantPayload](data)
	if err != nil {
		s.logger.Error(event+" payload rejected", "error", err)
		return nil
	}
	p, err := core.ParticipantFromExternal(payload.Participant)
	if err != nil {
		s.logger.Error(event+" rejected", "error", err)
		return nil
	}
	return p
}

// onReconnected re-joins the active conversation's room. Room membership is
// connection-scoped on the server, so every new connection starts with none.
func (s *Store) onReconnected(data json.RawMessage) {
	s.mu.RLock()
	active := s.activeID
	s.mu.RUnlock()

	if active == 0 {
		return
	}
	if err := s.rt.JoinRoom(core.ConversationRoom(active)); err != nil {
		s.logger.Warn("rejoin room after reconnect", "conversationId", active, "error", err)
	}
}
