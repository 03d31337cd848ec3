package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/chatsync/internal/syncer"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// maxFailureLines caps the failure list posted in the summary thread.
const maxFailureLines = 20

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostBatchSummary posts the batch tally and, when anything failed, a thread
// reply listing the failed conversations.
func (p *Poster) PostBatchSummary(ctx context.Context, s syncer.Summary) error {
	text := formatBatchSummary(s)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	})
	if err != nil {
		return err
	}
	p.logger.Info("posted batch summary to slack", "ts", ts, "total", s.Total, "failed", s.Failed)

	if len(s.Failures) == 0 {
		return nil
	}
	return p.PostThread(ctx, ts, formatFailures(s.Failures))
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

// APIError is a failed chat.postMessage call: either a non-200 HTTP status or
// an "ok": false response.
type APIError struct {
	StatusCode int
	Code       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return "slack error: " + e.Code
	}
	msg := fmt.Sprintf("slack returned HTTP %d", e.StatusCode)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

type postResponse struct {
	OK    bool   `json:"ok"`
	TS    string `json:"ts"`
	Error string `json:"error,omitempty"`
}

// post sends one chat.postMessage call and returns the message ts.
func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return "", apiErr
	}

	var out postResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !out.OK {
		return "", &APIError{StatusCode: resp.StatusCode, Code: out.Error}
	}
	return out.TS, nil
}

func formatBatchSummary(s syncer.Summary) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Chat sync batch:* %d conversations", s.Total)
	if s.Duration > 0 {
		fmt.Fprintf(&sb, " in %s", s.Duration.Round(time.Second))
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, ":white_check_mark: uploaded: %d\n", s.Succeeded)
	fmt.Fprintf(&sb, ":fast_forward: unchanged: %d\n", s.Skipped)
	fmt.Fprintf(&sb, ":x: failed: %d", s.Failed)

	return sb.String()
}

func formatFailures(failures map[string]string) string {
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("*Failures:*\n")
	for i, id := range ids {
		if i == maxFailureLines {
			fmt.Fprintf(&sb, "_...and %d more_", len(ids)-maxFailureLines)
			break
		}
		fmt.Fprintf(&sb, "• `%s`: %s\n", id, failures[id])
	}
	return strings.TrimRight(sb.String(), "\n")
}
