package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/teslashibe/go-voicebot/internal/log"
)

func TestChainFallback(t *testing.T) {
	failing := WithError(errors.New("provider 1 failed"))
	working := NewMock("From working provider")

	chain, err := NewChain(log.Nop(), failing, working)
	if err != nil {
		t.Fatalf("Failed to create chain: %v", err)
	}
	defer chain.Close()

	resp, err := chain.Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("test")}})
	if err != nil {
		t.Fatalf("Chain chat failed: %v", err)
	}
	if resp.Message.Content != "From working provider" {
		t.Errorf("Unexpected response: %s", resp.Message.Content)
	}
	if working.CallCount() != 1 {
		t.Errorf("Expected 1 call on working provider, got %d", working.CallCount())
	}
}

func TestChainAllFail(t *testing.T) {
	first := errors.New("provider 1 failed")
	chain, _ := NewChain(log.Nop(), WithError(first), WithError(errors.New("provider 2 failed")))

	_, err := chain.Chat(context.Background(), &ChatRequest{})
	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("Expected ChainError, got %T", err)
	}
	if len(chainErr.Errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(chainErr.Errors))
	}
	if !errors.Is(err, first) {
		t.Error("Expected chain error to expose every provider error")
	}
}

func TestChainEmpty(t *testing.T) {
	if _, err := NewChain(nil); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Expected ErrProviderUnavailable, got %v", err)
	}
}

func TestMockReplaysResponses(t *testing.T) {
	m := NewMock("one", "two")
	ctx := context.Background()
	for _, want := range []string{"one", "two", "two"} {
		resp, _ := m.Chat(ctx, &ChatRequest{})
		if resp.Message.Content != want {
			t.Errorf("got %q, want %q", resp.Message.Content, want)
		}
	}
	if m.CallCount() != 3 {
		t.Errorf("CallCount = %d", m.CallCount())
	}
	m.Reset()
	if m.CallCount() != 0 {
		t.Error("Reset did not clear calls")
	}
}
