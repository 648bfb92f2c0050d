package session

import (
	"sync"

	"github.com/teslashibe/go-voicebot/pkg/inference"
)

// Chat is the running model context for one primary speaker.
type Chat struct {
	mu       sync.Mutex
	messages []inference.Message
}

// Len returns the number of messages.
func (c *Chat) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Messages returns a copy of the history.
func (c *Chat) Messages() []inference.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]inference.Message(nil), c.messages...)
}

// Append adds messages to the end of the history.
func (c *Chat) Append(msgs ...inference.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msgs...)
	c.mu.Unlock()
}

// Clone returns an independent copy of the chat.
func (c *Chat) Clone() *Chat {
	return &Chat{messages: c.Messages()}
}

// Replace swaps the whole history for msgs.
func (c *Chat) Replace(msgs []inference.Message) {
	c.mu.Lock()
	c.messages = append([]inference.Message(nil), msgs...)
	c.mu.Unlock()
}

// Trim drops the oldest non-system entries until at most max remain. Tool
// results whose call was dropped go with it. Later system messages, such as
// recalled memories, are dropped oldest first only when nothing else is left
// to drop. A leading system message is never dropped.
func (c *Chat) Trim(max int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	lead := 0
	if len(c.messages) > 0 && c.messages[0].Role == inference.RoleSystem {
		lead = 1
	}
	over := len(c.messages) - max
	if over <= 0 {
		return 0
	}

	dropped := make([]bool, len(c.messages))
	drop := func(system bool) {
		for i := lead; i < len(c.messages) && over > 0; i++ {
			if !dropped[i] && (c.messages[i].Role == inference.RoleSystem) == system {
				dropped[i] = true
				over--
			}
		}
	}
	drop(false)
	// The new first exchange cannot open with tool results.
	for i := lead; i < len(c.messages); i++ {
		if dropped[i] || c.messages[i].Role == inference.RoleSystem {
			continue
		}
		if c.messages[i].Role != inference.RoleTool {
			break
		}
		dropped[i] = true
		over--
	}
	drop(true)

	out := make([]inference.Message, 0, len(c.messages))
	for i, m := range c.messages {
		if !dropped[i] {
			out = append(out, m)
		}
	}
	n := len(c.messages) - len(out)
	c.messages = out
	return n
}

// Chats holds one Chat per primary speaker.
type Chats struct {
	mu    sync.Mutex
	chats map[string]*Chat
}

// NewChats creates an empty set.
func NewChats() *Chats {
	return &Chats{chats: make(map[string]*Chat)}
}

// Get returns the speaker's chat, creating it on first use.
func (c *Chats) Get(speaker string) *Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	chat, ok := c.chats[speaker]
	if !ok {
		chat = &Chat{}
		c.chats[speaker] = chat
	}
	return chat
}

// Len returns how many speakers have a chat.
func (c *Chats) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chats)
}

// Reset forgets every chat.
func (c *Chats) Reset() {
	c.mu.Lock()
	c.chats = make(map[string]*Chat)
	c.mu.Unlock()
}
