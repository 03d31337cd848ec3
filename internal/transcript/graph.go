package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// apiConversation is the structured-API conversation document.
type apiConversation struct {
	ConversationID string          `json:"conversation_id"`
	Title          string          `json:"title"`
	CreateTime     float64         `json:"create_time"`
	UpdateTime     float64         `json:"update_time"`
	CurrentNode    string          `json:"current_node"`
	Mapping        json.RawMessage `json:"mapping"`
}

// DecodeGraph decodes a structured-API conversation document.
func DecodeGraph(r io.Reader) (*Conversation, error) {
	var doc apiConversation
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	if len(doc.Mapping) == 0 || string(doc.Mapping) == "null" {
		return nil, fmt.Errorf("decode conversation: missing mapping")
	}

	graph, err := decodeMapping(doc.Mapping)
	if err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}

	return &Conversation{
		ID:          doc.ConversationID,
		Title:       doc.Title,
		CreateTime:  doc.CreateTime,
		UpdateTime:  doc.UpdateTime,
		CurrentNode: doc.CurrentNode,
		Graph:       graph,
	}, nil
}

// decodeMapping walks the mapping object token by token so the key order of the
// document is kept alongside the map.
func decodeMapping(raw json.RawMessage) (GraphForm, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return GraphForm{}, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return GraphForm{}, fmt.Errorf("mapping is not an object")
	}

	g := GraphForm{Nodes: make(map[string]Node)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return GraphForm{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return GraphForm{}, fmt.Errorf("unexpected mapping key %v", tok)
		}

		var node Node
		if err := dec.Decode(&node); err != nil {
			return GraphForm{}, fmt.Errorf("node %s: %w", key, err)
		}
		if node.ID == "" {
			node.ID = key
		}

		if _, dup := g.Nodes[key]; !dup {
			g.Order = append(g.Order, key)
		}
		g.Nodes[key] = node
	}

	if _, err := dec.Token(); err != nil {
		return GraphForm{}, err
	}
	return g, nil
}
