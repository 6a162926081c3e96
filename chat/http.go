package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/putto11262002/chatsync/core"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPAPI implements API against the chat backend's REST surface.
type HTTPAPI struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

type HTTPAPIOption func(*HTTPAPI)

func WithHTTPClient(client *http.Client) HTTPAPIOption {
	return func(a *HTTPAPI) {
		a.httpClient = client
	}
}

func NewHTTPAPI(baseURL string, opts ...HTTPAPIOption) *HTTPAPI {
	a := &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetToken sets or replaces the bearer token attached to every request.
func (a *HTTPAPI) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	a.mu.RLock()
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	a.mu.RUnlock()

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, core.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &apiErr) == nil {
			if apiErr.Message != "" {
				msg = apiErr.Message
			} else if apiErr.Error != "" {
				msg = apiErr.Error
			}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	return data, nil
}

func pageQuery(opt PageOptions) url.Values {
	q := url.Values{}
	if opt.Limit > 0 {
		q.Set("limit", strconv.Itoa(opt.Limit))
	}
	if opt.Offset > 0 {
		q.Set("offset", strconv.Itoa(opt.Offset))
	}
	return q
}

func decodeConversations(data []byte) ([]*core.Conversation, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode conversation list: %w", err)
	}
	out := make([]*core.Conversation, 0, len(raw))
	for _, r := range raw {
		c, err := core.ConversationFromExternal(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeMessages(data []byte) ([]*core.Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}
	out := make([]*core.Message, 0, len(raw))
	for _, r := range raw {
		m, err := core.MessageFromExternal(r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeParticipants(data []byte) ([]*core.Participant, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode participant list: %w", err)
	}
	out := make([]*core.Participant, 0, len(raw))
	for _, r := range raw {
		p, err := core.ParticipantFromExternal(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (a *HTTPAPI) ListConversations(ctx context.Context, accountID int64, opt PageOptions) ([]*core.Conversation, error) {
	path := fmt.Sprintf("/chat/accounts/%d/conversations", accountID)
	data, err := a.do(ctx, http.MethodGet, path, nil, pageQuery(opt))
	if err != nil {
		return nil, err
	}
	return decodeConversations(data)
}

func (a *HTTPAPI) GetConversation(ctx context.Context, uuid string) (*core.Conversation, error) {
	data, err := a.do(ctx, http.MethodGet, "/chat/conversations/"+uuid, nil, nil)
	if err != nil {
		return nil, err
	}
	return core.ConversationFromExternal(data)
}

func (a *HTTPAPI) GetPrivateConversation(ctx context.Context, accountID1, accountID2 int64) (*core.Conversation, error) {
	q := url.Values{}
	q.Set("accountId1", strconv.FormatInt(accountID1, 10))
	q.Set("accountId2", strconv.FormatInt(accountID2, 10))
	data, err := a.do(ctx, http.MethodGet, "/chat/conversations/private", nil, q)
	if err != nil {
		return nil, err
	}
	return core.ConversationFromExternal(data)
}

func (a *HTTPAPI) CreateConversation(ctx context.Context, input ConversationCreateInput) (*core.Conversation, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	data, err := a.do(ctx, http.MethodPost, "/chat/conversations", input, nil)
	if err != nil {
		return nil, err
	}
	return core.ConversationFromExternal(data)
}

func (a *HTTPAPI) UpdateConversation(ctx context.Context, uuid string, input ConversationUpdateInput) (*core.Conversation, error) {
	data, err := a.do(ctx, http.MethodPut, "/chat/conversations/"+uuid, input, nil)
	if err != nil {
		return nil, err
	}
	return core.ConversationFromExternal(data)
}

func (a *HTTPAPI) DeleteConversation(ctx context.Context, uuid string) error {
	_, err := a.do(ctx, http.MethodDelete, "/chat/conversations/"+uuid, nil, nil)
	return err
}

func (a *HTTPAPI) ListMessages(ctx context.Context, conversationID int64, mq MessageQuery) ([]*core.Message, error) {
	q := pageQuery(PageOptions{Limit: mq.Limit, Offset: mq.Offset})
	if mq.Before != nil {
		q.Set("before", mq.Before.Format(time.RFC3339Nano))
	}
	if mq.After != nil {
		q.Set("after", mq.After.Format(time.RFC3339Nano))
	}
	path := fmt.Sprintf("/chat/conversations/%d/messages", conversationID)
	data, err := a.do(ctx, http.MethodGet, path, nil, q)
	if err != nil {
		return nil, err
	}
	return decodeMessages(data)
}

func (a *HTTPAPI) SendMessage(ctx context.Context, input MessageCreateInput) (*core.Message, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/chat/conversations/%d/messages", input.ConversationID)
	data, err := a.do(ctx, http.MethodPost, path, input, nil)
	if err != nil {
		return nil, err
	}
	return core.MessageFromExternal(data)
}

func (a *HTTPAPI) UpdateMessage(ctx context.Context, uuid string, input MessageUpdateInput) (*core.Message, error) {
	data, err := a.do(ctx, http.MethodPut, "/chat/messages/"+uuid, input, nil)
	if err != nil {
		return nil, err
	}
	return core.MessageFromExternal(data)
}

func (a *HTTPAPI) DeleteMessage(ctx context.Context, uuid string) error {
	_, err := a.do(ctx, http.MethodDelete, "/chat/messages/"+uuid, nil, nil)
	return err
}

func (a *HTTPAPI) SearchMessages(ctx context.Context, conversationID int64, term string, opt PageOptions) ([]*core.Message, error) {
	q := pageQuery(opt)
	q.Set("q", term)
	path := fmt.Sprintf("/chat/conversations/%d/messages/search", conversationID)
	data, err := a.do(ctx, http.MethodGet, path, nil, q)
	if err != nil {
		return nil, err
	}
	return decodeMessages(data)
}

func (a *HTTPAPI) UnreadMessages(ctx context.Context, conversationID, accountID int64) ([]*core.Message, error) {
	q := url.Values{}
	q.Set("accountId", strconv.FormatInt(accountID, 10))
	path := fmt.Sprintf("/chat/conversations/%d/messages/unread", conversationID)
	data, err := a.do(ctx, http.MethodGet, path, nil, q)
	if err != nil {
		return nil, err
	}
	return decodeMessages(data)
}

func (a *HTTPAPI) ListParticipants(ctx context.Context, conversationID int64, includeLeft bool) ([]*core.Participant, error) {
	q := url.Values{}
	if includeLeft {
		q.Set("includeLeft", "true")
	}
	path := fmt.Sprintf("/chat/conversations/%d/participants", conversationID)
	data, err := a.do(ctx, http.MethodGet, path, nil, q)
	if err != nil {
		return nil, err
	}
	return decodeParticipants(data)
}

func (a *HTTPAPI) AddParticipant(ctx context.Context, conversationID int64, input ParticipantInput) (*core.Participant, error) {
	if err := core.Validate(&input); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/chat/conversations/%d/participants", conversationID)
	data, err := a.do(ctx, http.MethodPost, path, input, nil)
	if err != nil {
		return nil, err
	}
	return core.ParticipantFromExternal(data)
}

func (a *HTTPAPI) AddParticipants(ctx context.Context, conversationID int64, inputs []ParticipantInput) ([]*core.Participant, error) {
	for i := range inputs {
		if err := core.Validate(&inputs[i]); err != nil {
			return nil, err
		}
	}
	path := fmt.Sprintf("/chat/conversations/%d/participants/bulk", conversationID)
	data, err := a.do(ctx, http.MethodPost, path, inputs, nil)
	if err != nil {
		return nil, err
	}
	return decodeParticipants(data)
}

func (a *HTTPAPI) RemoveParticipant(ctx context.Context, uuid string) error {
	_, err := a.do(ctx, http.MethodDelete, "/chat/participants/"+uuid, nil, nil)
	return err
}

func (a *HTTPAPI) LeaveConversation(ctx context.Context, uuid string) (*core.Participant, error) {
	data, err := a.do(ctx, http.MethodPost, "/chat/participants/"+uuid+"/leave", nil, nil)
	if err != nil {
		return nil, err
	}
	return core.ParticipantFromExternal(data)
}

func (a *HTTPAPI) UpdateParticipantRole(ctx context.Context, uuid string, role core.ParticipantRole) (*core.Participant, error) {
	body := map[string]core.ParticipantRole{"role": role}
	data, err := a.do(ctx, http.MethodPut, "/chat/participants/"+uuid+"/role", body, nil)
	if err != nil {
		return nil, err
	}
	return core.ParticipantFromExternal(data)
}

func (a *HTTPAPI) MarkAsRead(ctx context.Context, messageID, accountID int64) error {
	body := map[string]int64{"accountId": accountID}
	path := fmt.Sprintf("/chat/messages/%d/read", messageID)
	_, err := a.do(ctx, http.MethodPost, path, body, nil)
	return err
}

func (a *HTTPAPI) MarkAllAsRead(ctx context.Context, conversationID, accountID int64) error {
	body := map[string]int64{"accountId": accountID}
	path := fmt.Sprintf("/chat/conversations/%d/read", conversationID)
	_, err := a.do(ctx, http.MethodPost, path, body, nil)
	return err
}
