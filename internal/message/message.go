package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message is a single chat turn. Timestamp and Metadata are optional and
// survive round-trips through the dictionary form.
type Message struct {
	Role      string         `json:"role" bson:"role"`
	Content   string         `json:"content" bson:"content"`
	Timestamp *time.Time     `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Valid roles on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// WireMessage is the minimal {role, content} projection consumed by LLM
// backends.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// List is an ordered sequence of messages.
type List []Message

// ToWire projects the list onto the [{role, content}] form.
func (l List) ToWire() []WireMessage {
	out := make([]WireMessage, 0, len(l))
	for _, m := range l {
		out = append(out, WireMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// FirstUserContent returns the content of the first user message with
// non-empty content, or "" when none exists.
func (l List) FirstUserContent() string {
	for _, m := range l {
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return ""
}

// FirstSystemContent returns the content of the first system message, or "".
func (l List) FirstSystemContent() string {
	for _, m := range l {
		if m.Role == RoleSystem && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return ""
}

// ToDicts converts the list to its canonical dictionary form.
func (l List) ToDicts() []map[string]any {
	out := make([]map[string]any, 0, len(l))
	for _, m := range l {
		out = append(out, m.ToDict())
	}
	return out
}

// ToDict returns the canonical dictionary form of a message. Empty optional
// fields are omitted so the form is stable under round-trips.
func (m Message) ToDict() map[string]any {
	d := map[string]any{
		"role":    m.Role,
		"content": m.Content,
	}
	if m.Timestamp != nil {
		d["timestamp"] = m.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if len(m.Metadata) > 0 {
		d["metadata"] = m.Metadata
	}
	return d
}

// FromDict rebuilds a message from its dictionary form.
func FromDict(d map[string]any) (Message, error) {
	var m Message
	role, _ := d["role"].(string)
	if role == "" {
		return m, fmt.Errorf("message missing role")
	}
	m.Role = role
	if c, ok := d["content"].(string); ok {
		m.Content = c
	}
	if ts, ok := d["timestamp"].(string); ok && ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return m, fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = &t
	}
	if md, ok := d["metadata"].(map[string]any); ok && len(md) > 0 {
		m.Metadata = md
	}
	return m, nil
}

// ErrInvalidShape reports a messages field whose JSON shape is neither a
// list of message objects, a single message object, nor an already-built
// list. The API maps it to HTTP 422.
type ErrInvalidShape struct {
	Got string
}

func (e *ErrInvalidShape) Error() string {
	return fmt.Sprintf("invalid 'messages' format in request body: %s", e.Got)
}

// ParseWire normalizes the raw messages field of a chat request. It accepts
// a JSON array of message objects or a single message object; anything else
// fails with ErrInvalidShape.
func ParseWire(raw json.RawMessage) (List, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, &ErrInvalidShape{Got: "empty"}
	}
	switch trimmed[0] {
	case '[':
		var list []Message
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, &ErrInvalidShape{Got: "malformed array"}
		}
		return List(list), nil
	case '{':
		var one Message
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, &ErrInvalidShape{Got: "malformed object"}
		}
		return List{one}, nil
	default:
		return nil, &ErrInvalidShape{Got: "not an object or array"}
	}
}
