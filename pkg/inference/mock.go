package inference

import (
	"context"
	"sync"
)

// Mock implements Provider for tests.
//
// When ChatFunc is nil, Chat replays Responses in order and repeats the last
// one once they run out.
type Mock struct {
	ChatFunc   func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	HealthFunc func(ctx context.Context) error

	Responses []*ChatResponse

	mu       sync.Mutex
	requests []ChatRequest
}

// NewMock returns a mock that answers with the given texts in order.
func NewMock(replies ...string) *Mock {
	m := &Mock{}
	for _, r := range replies {
		m.Responses = append(m.Responses, &ChatResponse{
			Message:      NewAssistantMessage(r),
			FinishReason: "stop",
		})
	}
	return m
}

// WithError returns a mock whose every call fails with err.
func WithError(err error) *Mock {
	return &Mock{
		ChatFunc:   func(context.Context, *ChatRequest) (*ChatResponse, error) { return nil, err },
		HealthFunc: func(context.Context) error { return err },
	}
}

// ToolCallResponse builds a response that requests the given calls.
func ToolCallResponse(calls ...ToolCall) *ChatResponse {
	return &ChatResponse{
		Message:      NewToolCallMessage("", calls),
		FinishReason: "tool_calls",
	}
}

// Chat records the request and returns the next scripted answer.
func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	snapshot := *req
	snapshot.Messages = append([]Message(nil), req.Messages...)
	m.requests = append(m.requests, snapshot)
	n := len(m.requests)
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if len(m.Responses) == 0 {
		return &ChatResponse{Message: NewAssistantMessage("Mock response"), FinishReason: "stop"}, nil
	}
	i := min(n-1, len(m.Responses)-1)
	return m.Responses[i], nil
}

// Health implements Provider.
func (m *Mock) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close implements Provider.
func (m *Mock) Close() error { return nil }

// Requests returns a copy of every request received.
func (m *Mock) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

// CallCount returns how many times Chat was called.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset clears recorded requests.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

var _ Provider = (*Mock)(nil)
