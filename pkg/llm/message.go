// Package llm holds the provider-neutral chat completion types the relay
// builds, sends, and reassembles.
package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the two kinds of ContentPart.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ImageURL references an image either by fetchable URL or by data-URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ContentPart is one unit of a multimodal message.
type ContentPart struct {
	Type     PartType  `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextPart returns a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart returns an image_url content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: url}}
}

// IsImage reports whether the part carries an image reference.
func (p ContentPart) IsImage() bool {
	return p.Type == PartImageURL && p.ImageURL != nil && p.ImageURL.URL != ""
}

// Content is the body of a message. It is either PlainText or a
// PartSequence, never both.
type Content interface {
	// Text returns the textual content. For a PartSequence the text parts
	// are joined with a newline.
	Text() string

	// HasImages reports whether any image reference is present.
	HasImages() bool

	isContent()
}

// PlainText is a message body made of a single string.
type PlainText string

func (t PlainText) Text() string    { return string(t) }
func (t PlainText) HasImages() bool { return false }
func (PlainText) isContent()        {}

// PartSequence is an ordered, non-empty sequence of content parts.
type PartSequence []ContentPart

func (s PartSequence) Text() string {
	texts := make([]string, 0, len(s))
	for _, p := range s {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (s PartSequence) HasImages() bool {
	for _, p := range s {
		if p.IsImage() {
			return true
		}
	}
	return false
}

// Images returns the image parts in order.
func (s PartSequence) Images() []ContentPart {
	var images []ContentPart
	for _, p := range s {
		if p.IsImage() {
			images = append(images, p)
		}
	}
	return images
}

func (PartSequence) isContent() {}

// IsEmpty reports whether c carries neither text nor images.
func IsEmpty(c Content) bool {
	if c == nil {
		return true
	}
	return strings.TrimSpace(c.Text()) == "" && !c.HasImages()
}

// TextOf returns the text of c, or "" when c is nil.
func TextOf(c Content) string {
	if c == nil {
		return ""
	}
	return c.Text()
}

// Message represents a single message in a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// NewTextMessage creates a plain text message with the given role.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: PlainText(text)}
}

// GetText returns the message text, or "" for content-less messages.
func (m *Message) GetText() string {
	return TextOf(m.Content)
}

type wireMessage struct {
	Role       Role            `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		Role:       m.Role,
		Name:       m.Name,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}

	if m.Content != nil {
		var (
			raw []byte
			err error
		)
		switch c := m.Content.(type) {
		case PlainText:
			raw, err = json.Marshal(string(c))
		case PartSequence:
			raw, err = json.Marshal([]ContentPart(c))
		default:
			err = fmt.Errorf("unsupported content type %T", c)
		}
		if err != nil {
			return nil, err
		}
		w.Content = raw
	}

	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	content, err := decodeContent(w.Content)
	if err != nil {
		return err
	}

	*m = Message{
		Role:       w.Role,
		Content:    content,
		Name:       w.Name,
		ToolCalls:  w.ToolCalls,
		ToolCallID: w.ToolCallID,
	}
	return nil
}

func decodeContent(raw json.RawMessage) (Content, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("decoding text content: %w", err)
		}
		return PlainText(s), nil

	case '[':
		var parts []ContentPart
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return nil, fmt.Errorf("decoding content parts: %w", err)
		}
		if len(parts) == 0 {
			return PlainText(""), nil
		}
		return PartSequence(parts), nil

	default:
		return nil, fmt.Errorf("content must be a string or an array of parts, got %q", string(trimmed[:1]))
	}
}
