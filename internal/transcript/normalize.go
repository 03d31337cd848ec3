package transcript

import (
	"encoding/json"
	"sort"
	"strings"
)

// partSeparator joins the text parts of one API message.
const partSeparator = "\n\n"

// Normalize converts a raw conversation into canonical messages.
// Only user and assistant turns are kept; the result may be empty.
func Normalize(src Source) []Message {
	switch s := src.(type) {
	case GraphForm:
		return normalizeGraph(s)
	case *GraphForm:
		if s == nil {
			return nil
		}
		return normalizeGraph(*s)
	case FlatForm:
		return normalizeFlat(s)
	default:
		return nil
	}
}

// normalizeGraph orders by create_time; the mapping itself carries no order.
func normalizeGraph(g GraphForm) []Message {
	type item struct {
		role Role
		text string
		ts   float64
	}

	var items []item
	for _, key := range graphKeys(g) {
		node := g.Nodes[key]
		if node.Message == nil {
			continue
		}
		role, ok := ParseRole(node.Message.Author.Role)
		if !ok {
			continue
		}

		var ts float64
		if node.Message.CreateTime != nil {
			ts = *node.Message.CreateTime
		}

		items = append(items, item{
			role: role,
			text: contentText(node.Message.Content),
			ts:   ts,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ts < items[j].ts
	})

	msgs := make([]Message, len(items))
	for i, it := range items {
		msgs[i] = Message{Index: i, Role: it.role, Text: it.text}
	}
	return msgs
}

// graphKeys returns the decode order when it covers the mapping, otherwise sorted keys.
func graphKeys(g GraphForm) []string {
	if len(g.Order) == len(g.Nodes) {
		complete := true
		for _, k := range g.Order {
			if _, ok := g.Nodes[k]; !ok {
				complete = false
				break
			}
		}
		if complete {
			return g.Order
		}
	}
	keys := make([]string, 0, len(g.Nodes))
	for k := range g.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contentText(c NodeContent) string {
	if c.ContentType != "text" {
		data, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(data)
	}

	parts := make([]string, 0, len(c.Parts))
	for _, raw := range c.Parts {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			parts = append(parts, s)
			continue
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, partSeparator)
}

func normalizeFlat(f FlatForm) []Message {
	var msgs []Message
	for _, el := range f {
		role, ok := ParseRole(el.Role)
		if !ok {
			continue
		}
		msgs = append(msgs, Message{
			Index: len(msgs),
			Role:  role,
			Text:  el.Text,
			HTML:  el.HTML,
		})
	}
	return msgs
}
