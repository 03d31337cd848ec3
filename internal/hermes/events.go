package hermes

import "time"

// SubjectSyncRequested carries on-demand sync requests for service mode.
const SubjectSyncRequested = "chatsync.sync.requested"

// SubjectSyncAll matches every published sync outcome.
const SubjectSyncAll = "chatsync.sync.>"

const subjectSyncPrefix = "chatsync.sync."

// OutcomeSubject is the subject a terminal sync state is published on,
// e.g. chatsync.sync.succeeded.
func OutcomeSubject(state string) string {
	return subjectSyncPrefix + state
}

// SyncRequested asks a running service to sync one conversation.
type SyncRequested struct {
	ChatID  string `json:"chatId"`
	ChatURL string `json:"chatUrl,omitempty"`
}

// SyncOutcome is emitted once per sync attempt when it reaches a terminal state.
type SyncOutcome struct {
	SyncID       string    `json:"sync_id"`
	ChatID       string    `json:"chat_id"`
	State        string    `json:"state"`
	Path         []string  `json:"path"`
	Reason       string    `json:"reason,omitempty"`
	Error        string    `json:"error,omitempty"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	Source       string    `json:"source,omitempty"`
	ExtractedVia string    `json:"extracted_via,omitempty"`
	MessageCount int       `json:"message_count"`
	FinishedAt   time.Time `json:"finished_at"`
}

// MsgID identifies the outcome for broker-side duplicate detection.
func (o SyncOutcome) MsgID() string {
	return o.SyncID
}
