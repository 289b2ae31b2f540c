package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockCall records one request made to a MockProvider.
type MockCall struct {
	Schema   string
	Messages []Message
}

// MockProvider is a scripted provider for tests. Each request consumes the next
// scripted reply: an error is returned as is, anything else is round-tripped
// through JSON into the caller's output value.
type MockProvider struct {
	mu      sync.Mutex
	replies []any
	calls   []MockCall
}

// NewMockProvider returns a provider that answers with replies in order.
func NewMockProvider(replies ...any) *MockProvider {
	return &MockProvider{replies: replies}
}

// Push appends more scripted replies.
func (m *MockProvider) Push(replies ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
}

// Name returns "mock".
func (m *MockProvider) Name() string { return "mock" }

// Request answers with the next scripted reply.
func (m *MockProvider) Request(ctx context.Context, schema Schema, msgs []Message, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Schema: schema.Name, Messages: msgs})
	if len(m.replies) == 0 {
		m.mu.Unlock()
		return fmt.Errorf("mock provider: no reply scripted for %s", schema.Name)
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	m.mu.Unlock()

	if err, ok := reply.(error); ok {
		return err
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return decode(data, out)
}

// Calls returns the requests made so far.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}
