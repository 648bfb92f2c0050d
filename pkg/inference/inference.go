// Package inference talks to OpenAI-compatible chat completion endpoints.
//
// Only chat with function calling is supported; the voice pipeline never
// streams and never sends images. Any server that speaks the
// /chat/completions dialect works: OpenAI, Ollama, vLLM, LM Studio, Groq.
//
//	client, _ := inference.NewClient(
//	    inference.WithBaseURL("http://localhost:11434/v1"),
//	    inference.WithModel("llama3.1"),
//	)
//	resp, _ := client.Chat(ctx, &inference.ChatRequest{
//	    Messages:   history,
//	    Tools:      catalog,
//	    ToolChoice: "auto",
//	})
package inference

import "context"

// Provider generates chat completions.
type Provider interface {
	// Chat sends the conversation and returns the assistant's next message,
	// which is either final text or a set of tool calls.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Health checks provider connectivity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest for chat completions.
type ChatRequest struct {
	Messages []Message

	// Model overrides the default model.
	Model string

	MaxTokens   int
	Temperature float64

	// Tools available for the model to call.
	Tools []Tool

	// ToolChoice controls tool use: "auto", "none", "required".
	ToolChoice string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's reply.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	Usage Usage
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// HasToolCalls reports whether the model asked for tools instead of answering.
func (r *ChatResponse) HasToolCalls() bool {
	return len(r.Message.ToolCalls) > 0
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
