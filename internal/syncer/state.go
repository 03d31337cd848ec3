package syncer

import (
	"errors"

	"github.com/MikeSquared-Agency/chatsync/internal/transcript"
)

// State is a step of a sync attempt.
type State string

const (
	StateIdle            State = "idle"
	StateConfigResolving State = "config_resolving"
	StateExtracting      State = "extracting"
	StateNormalizing     State = "normalizing"
	StateFingerprinting  State = "fingerprinting"
	StateDedupCheck      State = "dedup_check"
	StateUploading       State = "uploading"
	StateSucceeded       State = "succeeded"
	StateSkipped         State = "skipped"
	StateFailed          State = "failed"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateSkipped || s == StateFailed
}

var (
	ErrConfigMissing = errors.New("datastore connection not configured")
	// ErrExtractionFailed marks a structured-API failure. It is recovered by
	// falling back to the page scrape and never ends an attempt on its own.
	ErrExtractionFailed = errors.New("structured extraction failed")
	ErrNoMessages       = errors.New("no messages found in conversation")
	ErrUploadRejected   = errors.New("upload rejected")
	ErrInvalidRecord    = errors.New("invalid record")
)

// Request identifies one conversation to sync.
type Request struct {
	ChatID  string `json:"chatId"`
	ChatURL string `json:"chatUrl,omitempty"`
}

// Outcome is the result of one sync attempt.
type Outcome struct {
	SyncID      string
	ChatID      string
	State       State
	Path        []State
	Reason      string
	Err         error
	Fingerprint string
	// Source is the path the messages were actually extracted through (api or dom).
	Source transcript.SourceKind
	Record *transcript.Record
}

// attempt accumulates the traversed path of one sync.
type attempt struct {
	out Outcome
}

func newAttempt(syncID, chatID string) *attempt {
	return &attempt{out: Outcome{
		SyncID: syncID,
		ChatID: chatID,
		State:  StateIdle,
		Path:   []State{StateIdle},
	}}
}

func (a *attempt) enter(s State) {
	a.out.State = s
	a.out.Path = append(a.out.Path, s)
}

func (a *attempt) fail(reason string, err error) Outcome {
	a.enter(StateFailed)
	a.out.Reason = reason
	a.out.Err = err
	return a.out
}

func (a *attempt) skip(reason string) Outcome {
	a.enter(StateSkipped)
	a.out.Reason = reason
	return a.out
}

func (a *attempt) succeed() Outcome {
	a.enter(StateSucceeded)
	a.out.Reason = "uploaded"
	return a.out
}

// Visited reports whether the attempt passed through s.
func (o Outcome) Visited(s State) bool {
	for _, p := range o.Path {
		if p == s {
			return true
		}
	}
	return false
}
