package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putto11262002/chatsync/core"
	"github.com/putto11262002/chatsync/ws"
)

const testAccountID int64 = 1

type mockAPI struct {
	API

	listConversations func(ctx context.Context, accountID int64, opt PageOptions) ([]*core.Conversation, error)
	getPrivate        func(ctx context.Context, a, b int64) (*core.Conversation, error)
	createConv        func(ctx context.Context, input ConversationCreateInput) (*core.Conversation, error)
	deleteConv        func(ctx context.Context, uuid string) error
	listMessages      func(ctx context.Context, conversationID int64, mq MessageQuery) ([]*core.Message, error)
	sendMessage       func(ctx context.Context, input MessageCreateInput) (*core.Message, error)
	markAllAsRead     func(ctx context.Context, conversationID, accountID int64) error
}

func (m *mockAPI) ListConversations(ctx context.Context, accountID int64, opt PageOptions) ([]*core.Conversation, error) {
	return m.listConversations(ctx, accountID, opt)
}

func (m *mockAPI) GetPrivateConversation(ctx context.Context, a, b int64) (*core.Conversation, error) {
	return m.getPrivate(ctx, a, b)
}

func (m *mockAPI) CreateConversation(ctx context.Context, input ConversationCreateInput) (*core.Conversation, error) {
	return m.createConv(ctx, input)
}

func (m *mockAPI) DeleteConversation(ctx context.Context, uuid string) error {
	return m.deleteConv(ctx, uuid)
}

func (m *mockAPI) ListMessages(ctx context.Context, conversationID int64, mq MessageQuery) ([]*core.Message, error) {
	return m.listMessages(ctx, conversationID, mq)
}

func (m *mockAPI) SendMessage(ctx context.Context, input MessageCreateInput) (*core.Message, error) {
	return m.sendMessage(ctx, input)
}

func (m *mockAPI) MarkAllAsRead(ctx context.Context, conversationID, accountID int64) error {
	return m.markAllAsRead(ctx, conversationID, accountID)
}

type mockRealtime struct {
	mu       sync.Mutex
	handlers map[string][]ws.Handler
	sent     []sentEvent
	joined   []string
	left     []string
}

type sentEvent struct {
	event   string
	payload interface{}
}

func newMockRealtime() *mockRealtime {
	return &mockRealtime{handlers: make(map[string][]ws.Handler)}
}

func (m *mockRealtime) On(event string, h ws.Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, event)
	}
}

func (m *mockRealtime) Send(event string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEvent{event: event, payload: payload})
	return nil
}

func (m *mockRealtime) JoinRoom(room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joined = append(m.joined, room)
	return nil
}

func (m *mockRealtime) LeaveRoom(room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = append(m.left, room)
	return nil
}

// push delivers a server event to every registered handler, the way the
// client's read loop would.
func (m *mockRealtime) push(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	m.mu.Lock()
	handlers := append([]ws.Handler(nil), m.handlers[event]...)
	m.mu.Unlock()
	require.NotEmpty(t, handlers, "no handler bound for %s", event)
	for _, h := range handlers {
		h(data)
	}
}

func testConversation(id int64, uuid string, updatedAt time.Time) *core.Conversation {
	return &core.Conversation{
		ID:        id,
		UUID:      uuid,
		Name:      "conv",
		Type:      core.GroupConversation,
		CreatedBy: testAccountID,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func testMessage(id int64, uuid string, conversationID, senderID int64, createdAt time.Time) *core.Message {
	return &core.Message{
		ID:             id,
		UUID:           uuid,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        "hello",
		Type:           core.TextMessage,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func rawMessage(t *testing.T, m *core.Message) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return data
}

func newBoundStore(t *testing.T, api *mockAPI) (*Store, *mockRealtime) {
	t.Helper()
	rt := newMockRealtime()
	s := NewStore(api, rt, testAccountID)
	s.BindRealtime()
	return s, rt
}

func loadTwoConversations(t *testing.T, s *Store, api *mockAPI) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	api.listConversations = func(context.Context, int64, PageOptions) ([]*core.Conversation, error) {
		return []*core.Conversation{
			testConversation(1, "conv-1", base.Add(time.Minute)),
			testConversation(2, "conv-2", base),
		}, nil
	}
	_, err := s.LoadConversations(context.Background(), PageOptions{})
	require.NoError(t, err)
}

func TestStoreMergesRealtimeThenRest(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	api.listMessages = func(context.Context, int64, MessageQuery) ([]*core.Message, error) {
		return nil, nil
	}
	_, err := s.OpenConversation(context.Background(), 1, MessageQuery{})
	require.NoError(t, err)

	msg := testMessage(10, "msg-1", 1, testAccountID, time.Now())

	// Realtime push arrives before the REST response for the same message.
	rt.push(t, core.EventNewMessage, core.NewMessagePayload{
		ConversationID: 1,
		Message:        rawMessage(t, msg),
	})

	api.sendMessage = func(context.Context, MessageCreateInput) (*core.Message, error) {
		return msg, nil
	}
	_, err = s.SendMessage(context.Background(), MessageCreateInput{
		ConversationID: 1,
		Content:        "hello",
		Type:           core.TextMessage,
	})
	require.NoError(t, err)

	assert.Len(t, s.Messages(), 1)
}

func TestStoreMergesRestThenRealtime(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	api.listMessages = func(context.Context, int64, MessageQuery) ([]*core.Message, error) {
		return nil, nil
	}
	_, err := s.OpenConversation(context.Background(), 1, MessageQuery{})
	require.NoError(t, err)

	msg := testMessage(10, "msg-1", 1, testAccountID, time.Now())

	api.sendMessage = func(context.Context, MessageCreateInput) (*core.Message, error) {
		return msg, nil
	}
	_, err = s.SendMessage(context.Background(), MessageCreateInput{
		ConversationID: 1,
		Content:        "hello",
		Type:           core.TextMessage,
	})
	require.NoError(t, err)

	rt.push(t, core.EventNewMessage, core.NewMessagePayload{
		ConversationID: 1,
		Message:        rawMessage(t, msg),
	})
	// Same push twice must also collapse.
	rt.push(t, core.EventNewMessage, core.NewMessagePayload{
		ConversationID: 1,
		Message:        rawMessage(t, msg),
	})

	assert.Len(t, s.Messages(), 1)
}

func TestStorePromotesConversationAndCountsUnread(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	require.Equal(t, int64(1), s.Conversations()[0].ID)

	// A message from another account in the inactive conversation 2.
	msg := testMessage(10, "msg-1", 2, 99, time.Now())
	rt.push(t, core.EventNewMessage, core.NewMessagePayload{
		ConversationID: 2,
		Message:        rawMessage(t, msg),
	})

	convs := s.Conversations()
	require.Equal(t, int64(2), convs[0].ID)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, "msg-1", convs[0].LastMessage.UUID)
	assert.Equal(t, 1, s.UnreadTotal())
}

func TestStoreWindowStaysSortedOnOutOfOrderInsert(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	base := time.Now().Add(-time.Hour)
	api.listMessages = func(context.Context, int64, MessageQuery) ([]*core.Message, error) {
		return []*core.Message{
			testMessage(10, "msg-1", 1, 99, base),
			testMessage(12, "msg-3", 1, 99, base.Add(2*time.Minute)),
		}, nil
	}
	_, err := s.OpenConversation(context.Background(), 1, MessageQuery{})
	require.NoError(t, err)

	// A delayed push for a message older than the newest in the window.
	delayed := testMessage(11, "msg-2", 1, 99, base.Add(time.Minute))
	rt.push(t, core.EventNewMessage, core.NewMessagePayload{
		ConversationID: 1,
		Message:        rawMessage(t, delayed),
	})

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-1", msgs[0].UUID)
	assert.Equal(t, "msg-2", msgs[1].UUID)
	assert.Equal(t, "msg-3", msgs[2].UUID)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
			"window out of order at %d", i)
	}
}

func TestStoreOwnMessagesNeverCountAsUnread(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	msg := testMessage(10, "msg-1", 2, testAccountID, time.Now())
	rt.push(t, core.EventNewMessage, core.NewMessagePayload{
		ConversationID: 2,
		Message:        rawMessage(t, msg),
	})

	convs := s.Conversations()
	require.Equal(t, int64(2), convs[0].ID)
	assert.Equal(t, 0, convs[0].UnreadCount)
}

func TestStoreActiveConversationMessageCountsUnreadUntilRead(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	api.listMessages = func(context.Context, int64, MessageQuery) ([]*core.Message, error) {
		return nil, nil
	}
	_, err := s.OpenConversation(context.Background(), 2, MessageQuery{})
	require.NoError(t, err)

	msg := testMessage(10, "msg-1", 2, 99, time.Now())
	rt.push(t, core.EventNewMessage, core.NewMessagePayload{
		ConversationID: 2,
		Message:        rawMessage(t, msg),
	})

	// Unread grows even for the active conversation until marked read.
	convs := s.Conversations()
	require.Equal(t, int64(2), convs[0].ID)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Len(t, s.Messages(), 1)

	api.markAllAsRead = func(context.Context, int64, int64) error { return nil }
	require.NoError(t, s.MarkConversationAsRead(context.Background(), 2))
	assert.Equal(t, 0, s.UnreadTotal())
}

func TestStoreOpenConversationJoinsAndLeavesRooms(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	now := time.Now()
	api.listMessages = func(_ context.Context, conversationID int64, _ MessageQuery) ([]*core.Message, error) {
		// Out of order on purpose.
		return []*core.Message{
			testMessage(11, "msg-2", conversationID, 99, now),
			testMessage(10, "msg-1", conversationID, 99, now.Add(-time.Minute)),
		}, nil
	}

	msgs, err := s.OpenConversation(context.Background(), 1, MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg-1", msgs[0].UUID)
	assert.Equal(t, []string{"conversation:1"}, rt.joined)

	_, err = s.OpenConversation(context.Background(), 2, MessageQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"conversation:1"}, rt.left)
	assert.Equal(t, []string{"conversation:1", "conversation:2"}, rt.joined)
	assert.Equal(t, int64(2), s.ActiveConversationID())

	s.CloseConversation()
	assert.Equal(t, []string{"conversation:1", "conversation:2"}, rt.left)
	assert.Zero(t, s.ActiveConversationID())
	assert.Empty(t, s.Messages())
}

func TestStoreMarkConversationAsRead(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	msg := testMessage(10, "msg-1", 2, 99, time.Now())
	rt.push(t, core.EventNewMessage, core.NewMessagePayload{
		ConversationID: 2,
		Message:        rawMessage(t, msg),
	})
	require.Equal(t, 1, s.UnreadTotal())

	marked := false
	api.markAllAsRead = func(_ context.Context, conversationID, accountID int64) error {
		marked = true
		assert.Equal(t, int64(2), conversationID)
		assert.Equal(t, testAccountID, accountID)
		return nil
	}
	require.NoError(t, s.MarkConversationAsRead(context.Background(), 2))

	assert.True(t, marked)
	assert.Equal(t, 0, s.UnreadTotal())
}

func TestStoreMarkConversationAsReadUpdatesLoadedStatuses(t *testing.T) {
	api := &mockAPI{}
	s, _ := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	theirs := testMessage(10, "msg-1", 1, 99, time.Now().Add(-time.Minute))
	theirs.Statuses = []core.MessageStatus{{
		MessageID: 10, AccountID: testAccountID, Status: core.StatusDelivered, StatusAt: time.Now(),
	}}
	mine := testMessage(11, "msg-2", 1, testAccountID, time.Now())
	mine.Statuses = []core.MessageStatus{{
		MessageID: 11, AccountID: testAccountID, Status: core.StatusDelivered, StatusAt: time.Now(),
	}}
	api.listMessages = func(context.Context, int64, MessageQuery) ([]*core.Message, error) {
		return []*core.Message{theirs, mine}, nil
	}
	_, err := s.OpenConversation(context.Background(), 1, MessageQuery{})
	require.NoError(t, err)

	api.markAllAsRead = func(context.Context, int64, int64) error { return nil }
	require.NoError(t, s.MarkConversationAsRead(context.Background(), 1))

	// Every loaded status for the account flips to read, own messages included.
	for _, m := range s.Messages() {
		status, ok := m.StatusFor(testAccountID)
		require.True(t, ok)
		assert.Equal(t, core.StatusRead, status.Status, "message %s", m.UUID)
	}
}

func TestStoreDeletingActiveConversationTearsDown(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	api.listMessages = func(context.Context, int64, MessageQuery) ([]*core.Message, error) {
		return []*core.Message{testMessage(10, "msg-1", 1, 99, time.Now())}, nil
	}
	_, err := s.OpenConversation(context.Background(), 1, MessageQuery{})
	require.NoError(t, err)

	rt.push(t, core.EventConversationDeleted, core.ConversationDeletedPayload{ConversationID: 1})

	assert.Zero(t, s.ActiveConversationID())
	assert.Empty(t, s.Messages())
	assert.Len(t, s.Conversations(), 1)
	assert.Contains(t, rt.left, "conversation:1")
}

func TestStoreMessageUpdatedAndDeleted(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	created := time.Now()
	api.listMessages = func(context.Context, int64, MessageQuery) ([]*core.Message, error) {
		return []*core.Message{
			testMessage(10, "msg-1", 1, 99, created.Add(-time.Minute)),
			testMessage(11, "msg-2", 1, 99, created),
		}, nil
	}
	_, err := s.OpenConversation(context.Background(), 1, MessageQuery{})
	require.NoError(t, err)

	edited := testMessage(10, "msg-1", 1, 99, created.Add(-time.Minute))
	edited.Content = "edited"
	rt.push(t, core.EventMessageUpdated, core.MessageUpdatedPayload{
		ConversationID: 1,
		Message:        rawMessage(t, edited),
	})
	assert.Equal(t, "edited", s.Messages()[0].Content)

	rt.push(t, core.EventMessageDeleted, core.MessageDeletedPayload{
		ConversationID: 1,
		MessageID:      11,
		UUID:           "msg-2",
	})
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "msg-1", msgs[0].UUID)
}

func TestStoreMessageStatusChanged(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	api.listMessages = func(context.Context, int64, MessageQuery) ([]*core.Message, error) {
		return []*core.Message{testMessage(10, "msg-1", 1, testAccountID, time.Now())}, nil
	}
	_, err := s.OpenConversation(context.Background(), 1, MessageQuery{})
	require.NoError(t, err)

	rt.push(t, core.EventMessageStatusChanged, core.MessageStatusChangedPayload{
		MessageID: 10, AccountID: 99, Status: core.StatusDelivered, StatusAt: time.Now(),
	})
	status, ok := s.Messages()[0].StatusFor(99)
	require.True(t, ok)
	assert.Equal(t, core.StatusDelivered, status.Status)

	// A later change for the same pair replaces, not appends.
	rt.push(t, core.EventMessageStatusChanged, core.MessageStatusChangedPayload{
		MessageID: 10, AccountID: 99, Status: core.StatusRead, StatusAt: time.Now(),
	})
	msg := s.Messages()[0]
	assert.Len(t, msg.Statuses, 1)
	status, _ = msg.StatusFor(99)
	assert.Equal(t, core.StatusRead, status.Status)
}

func TestStoreConversationCreatedAndUpdated(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	created := testConversation(3, "conv-3", time.Now())
	data, err := json.Marshal(created)
	require.NoError(t, err)
	rt.push(t, core.EventConversationCreated, core.ConversationCreatedPayload{Conversation: data})

	convs := s.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, int64(3), convs[0].ID)

	renamed := testConversation(3, "conv-3", time.Now())
	renamed.Name = "renamed"
	data, err = json.Marshal(renamed)
	require.NoError(t, err)
	rt.push(t, core.EventConversationUpdated, core.ConversationUpdatedPayload{Conversation: data})

	got, ok := s.ConversationByUUID("conv-3")
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Name)
	assert.Len(t, s.Conversations(), 3)
}

func TestStoreReconnectRejoinsActiveRoom(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	api.listMessages = func(context.Context, int64, MessageQuery) ([]*core.Message, error) {
		return nil, nil
	}
	_, err := s.OpenConversation(context.Background(), 1, MessageQuery{})
	require.NoError(t, err)
	require.Equal(t, []string{"conversation:1"}, rt.joined)

	rt.push(t, core.EventReconnected, core.ReconnectedPayload{Attempts: 2})

	assert.Equal(t, []string{"conversation:1", "conversation:1"}, rt.joined)
}

func TestStoreFindOrCreatePrivateConversation(t *testing.T) {
	api := &mockAPI{}
	s, _ := newBoundStore(t, api)

	existing := testConversation(5, "conv-5", time.Now())
	existing.Type = core.PrivateConversation
	api.getPrivate = func(_ context.Context, a, b int64) (*core.Conversation, error) {
		assert.Equal(t, testAccountID, a)
		assert.Equal(t, int64(42), b)
		return existing, nil
	}

	got, err := s.FindOrCreatePrivateConversation(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, existing.UUID, got.UUID)

	api.getPrivate = func(context.Context, int64, int64) (*core.Conversation, error) {
		return nil, core.ErrNotFound
	}
	api.createConv = func(_ context.Context, input ConversationCreateInput) (*core.Conversation, error) {
		assert.Equal(t, core.PrivateConversation, input.Type)
		assert.ElementsMatch(t, []int64{testAccountID, 42}, input.Participants)
		return testConversation(6, "conv-6", time.Now()), nil
	}
	got, err = s.FindOrCreatePrivateConversation(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "conv-6", got.UUID)
}

func TestStoreAcks(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)

	require.NoError(t, s.AckDelivered(10))
	require.NoError(t, s.AckRead(10))

	require.Len(t, rt.sent, 2)
	assert.Equal(t, core.EventMessageDelivered, rt.sent[0].event)
	assert.Equal(t, core.EventMessageRead, rt.sent[1].event)
}

func TestStoreRecordsLastError(t *testing.T) {
	api := &mockAPI{}
	api.listConversations = func(context.Context, int64, PageOptions) ([]*core.Conversation, error) {
		return nil, &APIError{StatusCode: 500, Message: "backend down"}
	}
	s, _ := newBoundStore(t, api)

	_, err := s.LoadConversations(context.Background(), PageOptions{})
	require.Error(t, err)
	assert.Error(t, s.LastError())

	s.ClearError()
	assert.NoError(t, s.LastError())
}

func TestStoreUnbindStopsApplyingEvents(t *testing.T) {
	api := &mockAPI{}
	s, rt := newBoundStore(t, api)
	loadTwoConversations(t, s, api)

	s.UnbindRealtime()

	rt.mu.Lock()
	remaining := len(rt.handlers)
	rt.mu.Unlock()
	assert.Zero(t, remaining)
}
