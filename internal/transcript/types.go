package transcript

import (
	"encoding/json"
	"errors"
	"time"
)

// Role is the author of a canonical message. Only user and assistant turns survive normalization.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a raw author role to a Role. ok is false for system, tool or missing roles.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleUser, RoleAssistant:
		return Role(raw), true
	}
	return "", false
}

// SourceKind records which extraction path produced a record.
type SourceKind string

const (
	SourceAPI    SourceKind = "api"
	SourceDOM    SourceKind = "dom"
	SourceBatch  SourceKind = "batch"
	// SourceExport marks conversations read from a data-export archive. It only
	// appears as meta.extractedVia; such records are uploaded as batch.
	SourceExport SourceKind = "export"
)

// Source is a raw conversation in one of its two shapes: GraphForm or FlatForm.
type Source interface {
	sourceKind() SourceKind
}

// GraphForm is the structured API shape: an unordered node-id -> node mapping.
// Order holds the keys in the order they were decoded; it only breaks timestamp ties.
type GraphForm struct {
	Nodes map[string]Node
	Order []string
}

func (GraphForm) sourceKind() SourceKind { return SourceAPI }

// Node is one entry of the API mapping graph.
type Node struct {
	ID       string       `json:"id"`
	Message  *NodeMessage `json:"message"`
	Parent   *string      `json:"parent"`
	Children []string     `json:"children"`
}

// NodeMessage is the message payload carried by a graph node.
type NodeMessage struct {
	ID         string      `json:"id"`
	Author     NodeAuthor  `json:"author"`
	Content    NodeContent `json:"content"`
	CreateTime *float64    `json:"create_time"`
}

type NodeAuthor struct {
	Role string `json:"role"`
}

// NodeContent is a content block. Parts is only meaningful for content_type "text";
// Raw keeps the whole block for the lossy fallback of other content types.
type NodeContent struct {
	ContentType string
	Parts       []json.RawMessage
	Raw         json.RawMessage
}

func (c *NodeContent) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var head struct {
		ContentType string            `json:"content_type"`
		Parts       []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	c.ContentType = head.ContentType
	c.Parts = head.Parts
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (c NodeContent) MarshalJSON() ([]byte, error) {
	if len(c.Raw) > 0 {
		return c.Raw, nil
	}
	return json.Marshal(struct {
		ContentType string            `json:"content_type"`
		Parts       []json.RawMessage `json:"parts,omitempty"`
	}{c.ContentType, c.Parts})
}

// FlatForm is the DOM shape: elements in document order.
type FlatForm []Element

func (FlatForm) sourceKind() SourceKind { return SourceDOM }

// Element is one scraped message element.
type Element struct {
	Role string
	Text string
	HTML string
}

// Message is a normalized chat turn.
type Message struct {
	Index int    `json:"index"`
	Role  Role   `json:"role"`
	Text  string `json:"text"`
	HTML  string `json:"html"`
}

// Conversation is a decoded structured-API conversation.
type Conversation struct {
	ID          string
	Title       string
	CreateTime  float64
	UpdateTime  float64
	CurrentNode string
	Graph       GraphForm
}

var (
	ErrMissingChatID = errors.New("record has no chat id")
	ErrNoMessages    = errors.New("record has no messages")
)

// Record is the upload unit sent to the datastore.
type Record struct {
	CollectedAt time.Time `json:"collectedAt"`
	ChatID      string    `json:"chatId"`
	ChatURL     string    `json:"chatUrl"`
	ChatTitle   string    `json:"chatTitle"`
	PageTitle   string    `json:"pageTitle"`
	Messages    []Message `json:"messages"`
	Meta        Meta      `json:"meta"`
}

// Validate reports whether the record may be uploaded.
func (r Record) Validate() error {
	if r.ChatID == "" {
		return ErrMissingChatID
	}
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	return nil
}

// Meta is serialized as one flat object: source, fingerprint and every Extra key.
type Meta struct {
	Source      SourceKind
	Fingerprint string
	Extra       map[string]any
}

func (m Meta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["source"] = m.Source
	out["fingerprint"] = m.Fingerprint
	return json.Marshal(out)
}

func (m *Meta) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if s, ok := raw["source"].(string); ok {
		m.Source = SourceKind(s)
	}
	if fp, ok := raw["fingerprint"].(string); ok {
		m.Fingerprint = fp
	}
	delete(raw, "source")
	delete(raw, "fingerprint")
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}
