package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/MikeSquared-Agency/chatsync/internal/config"
	"github.com/MikeSquared-Agency/chatsync/internal/transcript"
)

var ErrInvalidRecord = errors.New("invalid record")

// RejectedError is returned when the datastore could not be reached or answered
// with a non-2xx status. StatusCode is 0 for transport failures.
type RejectedError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RejectedError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upload failed: %v", e.Err)
	}
	return fmt.Sprintf("upload rejected with status %d: %s", e.StatusCode, e.Body)
}

func (e *RejectedError) Unwrap() error { return e.Err }

type Uploader struct {
	client *http.Client
	logger *slog.Logger
}

func New(logger *slog.Logger) *Uploader {
	return &Uploader{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Upload posts one record to {endpoint}/rest/v1/{table}. Only a 2xx answer is success.
func (u *Uploader) Upload(ctx context.Context, conn config.Connection, rec transcript.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := validateBody(body); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	endpoint := conn.EndpointURL + "/rest/v1/" + url.PathEscape(conn.TableName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &RejectedError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("apikey", conn.APIKey)
	req.Header.Set("Authorization", "Bearer "+conn.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := u.client.Do(req)
	if err != nil {
		return &RejectedError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RejectedError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	u.logger.Debug("record uploaded", "chat_id", rec.ChatID, "table", conn.TableName, "status", resp.StatusCode)
	return nil
}
