package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/putto11262002/chatsync/core"
)

// Store is the in-memory synchronized view of the account's chat state. It
// merges REST responses and realtime pushes into one consistent picture:
// conversations ordered by recency, one loaded message window, and unread
// counters that survive either source arriving first.
type Store struct {
	api       API
	rt        Realtime
	logger    *slog.Logger
	accountID int64

	mu            sync.RWMutex
	conversations []*core.Conversation
	messages      []*core.Message
	participants  []*core.Participant
	activeID      int64
	lastErr       error
	unbind        []func()
	bound         bool
}

type StoreOption func(*Store)

func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(api API, rt Realtime, accountID int64, opts ...StoreOption) *Store {
	s := &Store{
		api:       api,
		rt:        rt,
		accountID: accountID,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) fail(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	s.mu.Lock()
	s.lastErr = wrapped
	s.mu.Unlock()
	s.logger.Error(op+" failed", "error", err)
	return wrapped
}

// LastError returns the most recent operation failure, or nil.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// ClearError resets the recorded failure.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
}

// LoadConversations replaces the conversation list with the account's
// conversations from the backend, most recently active first.
func (s *Store) LoadConversations(ctx context.Context, opt PageOptions) ([]*core.Conversation, error) {
	convs, err := s.api.ListConversations(ctx, s.accountID, opt)
	if err != nil {
		return nil, s.fail("load conversations", err)
	}

	s.mu.Lock()
	s.conversations = convs
	s.sortConversationsLocked()
	out := s.conversationsCopyLocked()
	s.mu.Unlock()
	return out, nil
}

// LoadConversation fetches a single conversation and upserts it into the
// list without disturbing the recency order of the others.
func (s *Store) LoadConversation(ctx context.Context, uuid string) (*core.Conversation, error) {
	conv, err := s.api.GetConversation(ctx, uuid)
	if err != nil {
		return nil, s.fail("load conversation", err)
	}

	s.mu.Lock()
	s.replaceOrAppendConversation(conv)
	s.mu.Unlock()
	return conv, nil
}

func (s *Store) CreateConversation(ctx context.Context, input ConversationCreateInput) (*core.Conversation, error) {
	conv, err := s.api.CreateConversation(ctx, input)
	if err != nil {
		return nil, s.fail("create conversation", err)
	}

	s.mu.Lock()
	s.upsertConversationFront(conv)
	s.mu.Unlock()
	return conv, nil
}

func (s *Store) UpdateConversation(ctx context.Context, uuid string, input ConversationUpdateInput) (*core.Conversation, error) {
	conv, err := s.api.UpdateConversation(ctx, uuid, input)
	if err != nil {
		return nil, s.fail("update conversation", err)
	}

	s.mu.Lock()
	s.replaceConversation(conv)
	s.mu.Unlock()
	return conv, nil
}

func (s *Store) DeleteConversation(ctx context.Context, uuid string) error {
	s.mu.RLock()
	conv := s.conversationByUUIDLocked(uuid)
	s.mu.RUnlock()

	if err := s.api.DeleteConversation(ctx, uuid); err != nil {
		return s.fail("delete conversation", err)
	}
	if conv == nil {
		return nil
	}

	s.mu.Lock()
	wasActive := s.activeID == conv.ID
	s.removeConversation(conv.ID)
	s.mu.Unlock()

	if wasActive {
		if err := s.rt.LeaveRoom(core.ConversationRoom(conv.ID)); err != nil {
			s.logger.Warn("leave room after delete", "error", err)
		}
	}
	return nil
}

// FindOrCreatePrivateConversation returns the existing private conversation
// between the local account and the peer, creating it when none exists.
func (s *Store) FindOrCreatePrivateConversation(ctx context.Context, peerID int64) (*core.Conversation, error) {
	conv, err := s.api.GetPrivateConversation(ctx, s.accountID, peerID)
	if err == nil {
		s.mu.Lock()
		s.replaceOrAppendConversation(conv)
		s.mu.Unlock()
		return conv, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, s.fail("find private conversation", err)
	}

	return s.CreateConversation(ctx, ConversationCreateInput{
		Type:         core.PrivateConversation,
		CreatedBy:    s.accountID,
		Participants: []int64{s.accountID, peerID},
	})
}

// OpenConversation makes the conversation the active one: loads its message
// window ordered oldest first, joins its broadcast room, and leaves the
// previously active room.
func (s *Store) OpenConversation(ctx context.Context, conversationID int64, mq MessageQuery) ([]*core.Message, error) {
	msgs, err := s.api.ListMessages(ctx, conversationID, mq)
	if err != nil {
		return nil, s.fail("open conversation", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	s.mu.Lock()
	previous := s.activeID
	s.activeID = conversationID
	s.messages = msgs
	out := s.messagesCopyLocked()
	s.mu.Unlock()

	if previous != 0 && previous != conversationID {
		if err := s.rt.LeaveRoom(core.ConversationRoom(previous)); err != nil {
			s.logger.Warn("leave previous room", "conversationId", previous, "error", err)
		}
	}
	if err := s.rt.JoinRoom(core.ConversationRoom(conversationID)); err != nil {
		s.logger.Warn("join room", "conversationId", conversationID, "error", err)
	}
	return out, nil
}

// CloseConversation clears the active window and leaves its room.
func (s *Store) CloseConversation() {
	s.mu.Lock()
	active := s.activeID
	s.activeID = 0
	s.messages = nil
	s.participants = nil
	s.mu.Unlock()

	if active == 0 {
		return
	}
	if err := s.rt.LeaveRoom(core.ConversationRoom(active)); err != nil {
		s.logger.Warn("leave room", "conversationId", active, "error", err)
	}
}

func (s *Store) SendMessage(ctx context.Context, input MessageCreateInput) (*core.Message, error) {
	input.SenderID = s.accountID
	msg, err := s.api.SendMessage(ctx, input)
	if err != nil {
		return nil, s.fail("send message", err)
	}

	s.mu.Lock()
	s.applyMessage(msg)
	s.mu.Unlock()
	return msg, nil
}

func (s *Store) UpdateMessage(ctx context.Context, uuid string, input MessageUpdateInput) (*core.Message, error) {
	msg, err := s.api.UpdateMessage(ctx, uuid, input)
	if err != nil {
		return nil, s.fail("update message", err)
	}

	s.mu.Lock()
	s.replaceMessage(msg)
	s.mu.Unlock()
	return msg, nil
}

func (s *Store) DeleteMessage(ctx context.Context, uuid string) error {
	if err := s.api.DeleteMessage(ctx, uuid); err != nil {
		return s.fail("delete message", err)
	}

	s.mu.Lock()
	s.removeMessage(uuid, 0)
	s.mu.Unlock()
	return nil
}

// SearchMessages queries the backend without touching the loaded window.
func (s *Store) SearchMessages(ctx context.Context, conversationID int64, term string, opt PageOptions) ([]*core.Message, error) {
	msgs, err := s.api.SearchMessages(ctx, conversationID, term, opt)
	if err != nil {
		return nil, s.fail("search messages", err)
	}
	return msgs, nil
}

func (s *Store) UnreadMessages(ctx context.Context, conversationID int64) ([]*core.Message, error) {
	msgs, err := s.api.UnreadMessages(ctx, conversationID, s.accountID)
	if err != nil {
		return nil, s.fail("unread messages", err)
	}
	return msgs, nil
}

func (s *Store) LoadParticipants(ctx context.Context, conversationID int64, includeLeft bool) ([]*core.Participant, error) {
	parts, err := s.api.ListParticipants(ctx, conversationID, includeLeft)
	if err != nil {
		return nil, s.fail("load participants", err)
	}

	s.mu.Lock()
	s.participants = parts
	out := s.participantsCopyLocked()
	s.mu.Unlock()
	return out, nil
}

func (s *Store) AddParticipant(ctx context.Context, conversationID int64, input ParticipantInput) (*core.Participant, error) {
	p, err := s.api.AddParticipant(ctx, conversationID, input)
	if err != nil {
		return nil, s.fail("add participant", err)
	}

	s.mu.Lock()
	s.upsertParticipant(p)
	s.mu.Unlock()
	return p, nil
}

func (s *Store) AddParticipants(ctx context.Context, conversationID int64, inputs []ParticipantInput) ([]*core.Participant, error) {
	parts, err := s.api.AddParticipants(ctx, conversationID, inputs)
	if err != nil {
		return nil, s.fail("add participants", err)
	}

	s.mu.Lock()
	for _, p := range parts {
		s.upsertParticipant(p)
	}
	s.mu.Unlock()
	return parts, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, uuid string) error {
	s.mu.RLock()
	var id int64
	for _, p := range s.participants {
		if p.UUID == uuid {
			id = p.ID
			break
		}
	}
	s.mu.RUnlock()

	if err := s.api.RemoveParticipant(ctx, uuid); err != nil {
		return s.fail("remove participant", err)
	}

	if id != 0 {
		s.mu.Lock()
		s.removeParticipant(id)
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) LeaveConversation(ctx context.Context, uuid string) (*core.Participant, error) {
	p, err := s.api.LeaveConversation(ctx, uuid)
	if err != nil {
		return nil, s.fail("leave conversation", err)
	}

	s.mu.Lock()
	s.upsertParticipant(p)
	s.mu.Unlock()
	return p, nil
}

func (s *Store) UpdateParticipantRole(ctx context.Context, uuid string, role core.ParticipantRole) (*core.Participant, error) {
	p, err := s.api.UpdateParticipantRole(ctx, uuid, role)
	if err != nil {
		return nil, s.fail("update participant role", err)
	}

	s.mu.Lock()
	s.upsertParticipant(p)
	s.mu.Unlock()
	return p, nil
}

// MarkAsRead marks a single message read for the local account.
func (s *Store) MarkAsRead(ctx context.Context, messageID int64) error {
	if err := s.api.MarkAsRead(ctx, messageID, s.accountID); err != nil {
		return s.fail("mark as read", err)
	}

	s.mu.Lock()
	s.applyMessageStatus(&core.MessageStatus{
		MessageID: messageID,
		AccountID: s.accountID,
		Status:    core.StatusRead,
		StatusAt:  time.Now(),
	})
	s.mu.Unlock()
	return nil
}

// MarkConversationAsRead marks every message in the conversation read for
// the local account and zeroes its unread counter.
func (s *Store) MarkConversationAsRead(ctx context.Context, conversationID int64) error {
	if err := s.api.MarkAllAsRead(ctx, conversationID, s.accountID); err != nil {
		return s.fail("mark conversation as read", err)
	}

	now := time.Now()
	s.mu.Lock()
	for _, c := range s.conversations {
		if c.ID == conversationID {
			c.UnreadCount = 0
			break
		}
	}
	for _, m := range s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		s.setStatusOnMessage(m, core.StatusRead, now)
	}
	s.mu.Unlock()
	return nil
}

// AckDelivered tells the server the message reached this client.
func (s *Store) AckDelivered(messageID int64) error {
	return s.rt.Send(core.EventMessageDelivered, core.StatusAckPayload{
		MessageID: messageID,
		AccountID: s.accountID,
	})
}

// AckRead tells the server this client displayed the message.
func (s *Store) AckRead(messageID int64) error {
	return s.rt.Send(core.EventMessageRead, core.StatusAckPayload{
		MessageID: messageID,
		AccountID: s.accountID,
	})
}

// Conversations returns a copy of the conversation list, most recent first.
func (s *Store) Conversations() []*core.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationsCopyLocked()
}

// Messages returns a copy of the active conversation's loaded window,
// oldest first.
func (s *Store) Messages() []*core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messagesCopyLocked()
}

func (s *Store) Participants() []*core.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participantsCopyLocked()
}

func (s *Store) ActiveConversationID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

func (s *Store) ConversationByUUID(uuid string) (*core.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.conversationByUUIDLocked(uuid)
	return c, c != nil
}

// UnreadTotal sums unread counters across all loaded conversations.
func (s *Store) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.conversations {
		total += c.UnreadCount
	}
	return total
}

// applyMessage merges a message into the store regardless of which source
// delivered it. Duplicates by UUID collapse to the freshest copy, the owning
// conversation moves to the front of the list, and the unread counter grows
// for every message the local account did not send. Callers hold s.mu.
func (s *Store) applyMessage(m *core.Message) {
	inWindow := s.activeID == m.ConversationID
	if inWindow {
		replaced := false
		for i, existing := range s.messages {
			if existing.UUID == m.UUID {
				s.messages[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			// Pushes can arrive out of order; the window stays ascending.
			s.messages = append(s.messages, m)
			sort.SliceStable(s.messages, func(i, j int) bool {
				return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
			})
		}
	}

	for i, c := range s.conversations {
		if c.ID != m.ConversationID {
			continue
		}
		fresh := c.LastMessage == nil || c.LastMessage.UUID != m.UUID
		if fresh {
			c.LastMessage = m
			c.UpdatedAt = m.CreatedAt
			if m.SenderID != s.accountID {
				c.UnreadCount++
			}
		}
		if i != 0 {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			s.conversations = append([]*core.Conversation{c}, s.conversations...)
		}
		return
	}
}

func (s *Store) replaceMessage(m *core.Message) {
	for i, existing := range s.messages {
		if existing.UUID == m.UUID {
			s.messages[i] = m
			break
		}
	}
	for _, c := range s.conversations {
		if c.LastMessage != nil && c.LastMessage.UUID == m.UUID {
			c.LastMessage = m
		}
	}
}

// removeMessage drops a message located by uuid, falling back to the
// numeric id when the uuid is absent from the payload.
func (s *Store) removeMessage(uuid string, id int64) {
	for i, m := range s.messages {
		if (uuid != "" && m.UUID == uuid) || (uuid == "" && id != 0 && m.ID == id) {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Store) applyMessageStatus(status *core.MessageStatus) {
	for _, m := range s.messages {
		if m.ID != status.MessageID {
			continue
		}
		if existing, ok := m.StatusFor(status.AccountID); ok {
			existing.Status = status.Status
			existing.StatusAt = status.StatusAt
		} else {
			m.Statuses = append(m.Statuses, *status)
		}
		return
	}
}

func (s *Store) setStatusOnMessage(m *core.Message, status core.DeliveryStatus, at time.Time) {
	if existing, ok := m.StatusFor(s.accountID); ok {
		existing.Status = status
		existing.StatusAt = at
		return
	}
	m.Statuses = append(m.Statuses, core.MessageStatus{
		MessageID: m.ID,
		AccountID: s.accountID,
		Status:    status,
		StatusAt:  at,
	})
}

func (s *Store) upsertConversationFront(c *core.Conversation) {
	for i, existing := range s.conversations {
		if existing.ID == c.ID {
			c.UnreadCount = existing.UnreadCount
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	s.conversations = append([]*core.Conversation{c}, s.conversations...)
}

// replaceConversation swaps the stored copy in place, preserving the list
// position and the locally tracked unread counter.
func (s *Store) replaceConversation(c *core.Conversation) {
	for i, existing := range s.conversations {
		if existing.ID == c.ID {
			c.UnreadCount = existing.UnreadCount
			if c.LastMessage == nil {
				c.LastMessage = existing.LastMessage
			}
			s.conversations[i] = c
			return
		}
	}
}

func (s *Store) replaceOrAppendConversation(c *core.Conversation) {
	for i, existing := range s.conversations {
		if existing.ID == c.ID {
			s.conversations[i] = c
			return
		}
	}
	s.conversations = append(s.conversations, c)
	s.sortConversationsLocked()
}

func (s *Store) removeConversation(id int64) {
	for i, c := range s.conversations {
		if c.ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = 0
		s.messages = nil
		s.participants = nil
	}
}

func (s *Store) upsertParticipant(p *core.Participant) {
	for i, existing := range s.participants {
		if existing.ID == p.ID {
			s.participants[i] = p
			return
		}
	}
	s.participants = append(s.participants, p)
}

func (s *Store) removeParticipant(id int64) {
	for i, p := range s.participants {
		if p.ID == id {
			s.participants = append(s.participants[:i], s.participants[i+1:]...)
			return
		}
	}
}

func (s *Store) conversationByUUIDLocked(uuid string) *core.Conversation {
	for _, c := range s.conversations {
		if c.UUID == uuid {
			return c
		}
	}
	return nil
}

// sortConversationsLocked orders by last activity, newest first. The last
// message's timestamp wins over the conversation's own when present.
func (s *Store) sortConversationsLocked() {
	recency := func(c *core.Conversation) time.Time {
		if c.LastMessage != nil {
			return c.LastMessage.CreatedAt
		}
		return c.UpdatedAt
	}
	sort.SliceStable(s.conversations, func(i, j int) bool {
		return recency(s.conversations[i]).After(recency(s.conversations[j]))
	})
}

func (s *Store) conversationsCopyLocked() []*core.Conversation {
	out := make([]*core.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

func (s *Store) messagesCopyLocked() []*core.Message {
	out := make([]*core.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) participantsCopyLocked() []*core.Participant {
	out := make([]*core.Participant, len(s.participants))
	copy(out, s.participants)
	return out
}
