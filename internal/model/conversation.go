// Package model defines data structures for the cost estimator.
package model

import (
	"sync"
	"time"
)

// Conversation is the append-only message history of one session.
type Conversation struct {
	ID        string
	CreatedAt time.Time

	mu       sync.RWMutex
	messages []Message
}

// NewConversation creates an empty conversation.
func NewConversation(id string) *Conversation {
	return &Conversation{ID: id, CreatedAt: time.Now()}
}

// Append adds messages to the end of the history.
func (c *Conversation) Append(msgs ...Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.messages = append(c.messages, m.Clone())
	}
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CloneMessages(c.messages)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Views returns the display form of the history.
func (c *Conversation) Views() []MessageView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	views := make([]MessageView, len(c.messages))
	for i, m := range c.messages {
		kinds := make([]PartKind, len(m.Parts))
		for j, p := range m.Parts {
			kinds[j] = p.Kind
		}
		views[i] = MessageView{Index: i, Role: m.Role, Text: m.Text(), Kinds: kinds}
	}
	return views
}
