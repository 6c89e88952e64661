package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartKind tags a content part.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// ContentPart is one piece of a message. For PartImage the value is a data URI.
type ContentPart struct {
	Kind  PartKind `json:"kind"`
	Value string   `json:"value"`
}

// TextPart returns a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Value: text}
}

// ImagePart returns an image content part carrying a data URI.
func ImagePart(dataURI string) ContentPart {
	return ContentPart{Kind: PartImage, Value: dataURI}
}

// Message represents a role-tagged prompt or reply. Messages are never
// modified after construction; use the constructors below.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// NewMessage builds a message owning its own copy of parts.
func NewMessage(role Role, parts ...ContentPart) Message {
	return Message{Role: role, Parts: append([]ContentPart(nil), parts...)}
}

// SystemMessage builds a text-only system message.
func SystemMessage(text string) Message {
	return NewMessage(RoleSystem, TextPart(text))
}

// UserMessage builds a text-only user message.
func UserMessage(text string) Message {
	return NewMessage(RoleUser, TextPart(text))
}

// AssistantMessage builds a text-only assistant message.
func AssistantMessage(text string) Message {
	return NewMessage(RoleAssistant, TextPart(text))
}

// Text concatenates all text parts of the message.
func (m Message) Text() string {
	var s string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			s += p.Value
		}
	}
	return s
}

// HasImage reports whether any part is an image.
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Kind == PartImage {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	return NewMessage(m.Role, m.Parts...)
}

// CloneMessages deep copies a message sequence.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// MessageView is the display form of a message. Image payloads are elided.
type MessageView struct {
	Index int        `json:"index"`
	Role  Role       `json:"role"`
	Text  string     `json:"text"`
	Kinds []PartKind `json:"kinds"`
}

// ListMessagesResponse is the response for listing a session's conversation.
type ListMessagesResponse struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []MessageView `json:"messages"`
}

// SendMessageRequest is the request to send a follow-up message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// TokenEvent represents a streaming token event.
type TokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// MessageCompleteEvent is sent once a streamed follow-up reply is appended.
type MessageCompleteEvent struct {
	Content      string        `json:"content"`
	MessageCount int           `json:"message_count"`
	Latency      time.Duration `json:"latency_ns"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
