package chatapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/chatsync/internal/transcript"
)

// Kind classifies a fetch failure. Every kind is recoverable by the caller.
type Kind string

const (
	KindNetwork Kind = "network"
	KindAuth    Kind = "auth"
	KindParse   Kind = "parse"
)

type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chat api %s error (%d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("chat api %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a chat api error of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

var ErrNoToken = errors.New("no access token configured")

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchConversation loads the full message graph of one conversation.
func (c *Client) FetchConversation(ctx context.Context, chatID string) (*transcript.Conversation, error) {
	if c.token == "" {
		return nil, &Error{Kind: KindAuth, Err: ErrNoToken}
	}

	endpoint := c.baseURL + "/backend-api/conversation/" + url.PathEscape(chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("api call: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindAuth, StatusCode: resp.StatusCode, Err: errors.New(readSnippet(resp.Body))}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Err: errors.New(readSnippet(resp.Body))}
	}

	conv, err := transcript.DecodeGraph(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindParse, Err: err}
	}
	if conv.ID == "" {
		conv.ID = chatID
	}
	return conv, nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "empty response body"
	}
	return s
}
