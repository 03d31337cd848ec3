package dedup

import (
	"context"
	"log/slog"
)

// ReasonUnchanged is the skip reason when the content fingerprint matches the last sync.
const ReasonUnchanged = "unchanged"

// Action is the gate verdict.
type Action int

const (
	Proceed Action = iota
	Skip
)

func (a Action) String() string {
	if a == Skip {
		return "skip"
	}
	return "proceed"
}

// Decision is the result of comparing a fresh fingerprint with the last synced one.
type Decision struct {
	Action   Action `json:"action"`
	Reason   string `json:"reason,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// Skipped reports whether the upload should be skipped.
func (d Decision) Skipped() bool {
	return d.Action == Skip
}

// LookupFunc returns the last synced fingerprint for a chat, if any.
type LookupFunc func(chatID string) (fingerprint string, ok bool)

// ShouldSync skips only when a prior fingerprint exists and equals fp exactly.
// It has no side effects; recording the new fingerprint is the caller's job.
func ShouldSync(chatID, fp string, lookup LookupFunc) Decision {
	if lookup == nil {
		return Decision{Action: Proceed}
	}
	prev, ok := lookup(chatID)
	if !ok {
		return Decision{Action: Proceed}
	}
	if prev == fp {
		return Decision{Action: Skip, Reason: ReasonUnchanged, Previous: prev}
	}
	return Decision{Action: Proceed, Previous: prev}
}

// Getter is the read side of a fingerprint store.
type Getter interface {
	GetLast(ctx context.Context, chatID string) (string, bool, error)
}

// StoreLookup adapts a fingerprint store to a LookupFunc. Read errors count as
// "no prior fingerprint": the gate is advisory, so a failed read means upload.
func StoreLookup(ctx context.Context, g Getter, logger *slog.Logger) LookupFunc {
	return func(chatID string) (string, bool) {
		fp, ok, err := g.GetLast(ctx, chatID)
		if err != nil {
			if logger != nil {
				logger.Warn("fingerprint lookup failed, treating as unsynced", "chat_id", chatID, "error", err)
			}
			return "", false
		}
		return fp, ok
	}
}
