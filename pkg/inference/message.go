package inference

// Role defines message roles in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation.
type Message struct {
	Role    Role
	Content string

	// Name carries the tool name on tool result messages.
	Name string

	// ToolCalls are the functions the assistant asked to run.
	ToolCalls []ToolCall

	// ToolCallID ties a tool result to the call it answers.
	ToolCallID string
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID   string
	Name string

	// Arguments as the raw JSON string the model produced.
	Arguments string
}

// Tool describes a callable function offered to the model.
type Tool struct {
	// Type is always "function".
	Type     string
	Function ToolFunction
}

// ToolFunction describes a function the model can call.
type ToolFunction struct {
	Name        string
	Description string

	// Parameters is a JSON Schema value; anything that marshals to a schema
	// object is accepted.
	Parameters any
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolCallMessage records the assistant's request to run tools.
func NewToolCallMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolMessage creates a tool result message for the given call.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Name: name, Content: content}
}

// NewTool creates a function tool definition.
func NewTool(name, description string, parameters any) Tool {
	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}
