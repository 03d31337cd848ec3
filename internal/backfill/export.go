package backfill

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/MikeSquared-Agency/chatsync/internal/transcript"
)

// exportHead holds the identifying fields of one export entry.
type exportHead struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

// ReadExport streams the conversations of a data-export conversations.json (a
// JSON array of conversation documents). Entries that fail to decode are
// logged and counted; only a malformed array stops the read.
func ReadExport(r io.Reader, logger *slog.Logger, fn func(*transcript.Conversation) error) (invalid int, err error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return 0, fmt.Errorf("read export: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return 0, fmt.Errorf("read export: expected a JSON array of conversations")
	}

	for i := 0; dec.More(); i++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return invalid, fmt.Errorf("read export entry %d: %w", i, err)
		}

		conv, err := decodeEntry(raw)
		if err != nil {
			logger.Warn("skipping undecodable export entry", "index", i, "error", err)
			invalid++
			continue
		}
		if err := fn(conv); err != nil {
			return invalid, err
		}
	}

	if _, err := dec.Token(); err != nil {
		return invalid, fmt.Errorf("read export: %w", err)
	}
	return invalid, nil
}

func decodeEntry(raw json.RawMessage) (*transcript.Conversation, error) {
	var head exportHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	conv, err := transcript.DecodeGraph(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if conv.ID == "" {
		conv.ID = head.ID
	}
	if conv.ID == "" {
		return nil, fmt.Errorf("entry has no id")
	}
	return conv, nil
}
