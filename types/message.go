// Package types provides core types shared across the contextcache packages.
// This package has ZERO dependencies on other contextcache packages.
package types

import (
	"strings"
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Content block types.
const (
	BlockText  = "text"
	BlockCode  = "code"
	BlockImage = "image"
)

// ContentBlock is one element of a structured message body.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Message represents a conversation message. Content carries plain text;
// Blocks carries structured content. Both may be set.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      Role           `json:"role"`
	Content   string         `json:"content,omitempty"`
	Blocks    []ContentBlock `json:"blocks,omitempty"`
	Name      string         `json:"name,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewToolMessage creates a new tool result message.
func NewToolMessage(name, content string) Message {
	return Message{
		Role:      RoleTool,
		Content:   content,
		Name:      name,
		Timestamp: time.Now(),
	}
}

// WithID sets the stable conversation-store id of the message.
func (m Message) WithID(id string) Message {
	m.ID = id
	return m
}

// WithBlocks sets structured content blocks on the message.
func (m Message) WithBlocks(blocks []ContentBlock) Message {
	m.Blocks = blocks
	return m
}

// Text flattens the message body into a single string. Code blocks are
// re-fenced so that downstream extraction still recognizes them. Image
// blocks contribute nothing.
func (m Message) Text() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}

	var sb strings.Builder
	sb.WriteString(m.Content)
	for _, b := range m.Blocks {
		var part string
		switch b.Type {
		case BlockCode:
			part = "```" + b.Language + "\n" + b.Text + "\n```"
		case BlockImage:
			continue
		default:
			part = b.Text
		}
		if part == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(part)
	}
	return sb.String()
}

// IDs returns the ids of msgs in order.
func IDs(msgs []Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
