package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/chatsync/internal/config"
	"github.com/MikeSquared-Agency/chatsync/internal/transcript"
)

// Page is what a scrape of one conversation view yields. A failed scrape is an
// empty page, never an error.
type Page struct {
	URL      string
	Title    string
	Elements transcript.FlatForm
}

// Scraper reads rendered conversation pages either from a directory of saved
// pages ({dir}/{chatID}.html) or from a live base URL ({base}/c/{chatID}).
type Scraper struct {
	source string
	remote bool
	client *http.Client
	logger *slog.Logger
}

func New(source string, logger *slog.Logger) *Scraper {
	remote := strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
	if remote {
		source = strings.TrimRight(source, "/")
	} else {
		source = config.ExpandHome(source)
	}
	return &Scraper{
		source: source,
		remote: remote,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Dir returns the saved-page directory, or "" for a remote source.
func (s *Scraper) Dir() string {
	if s.remote {
		return ""
	}
	return s.source
}

// PagePath returns the saved page file for a conversation.
func (s *Scraper) PagePath(chatID string) string {
	return filepath.Join(s.source, chatID+".html")
}

// validPageID reports whether chatID names a file directly inside the page
// directory.
func validPageID(chatID string) bool {
	if chatID == "" || chatID == "." || chatID == ".." {
		return false
	}
	return !strings.ContainsAny(chatID, `/\`) && filepath.Base(chatID) == chatID
}

func (s *Scraper) ScrapeConversation(ctx context.Context, chatID string) Page {
	var (
		page Page
		err  error
	)
	if s.remote {
		page, err = s.fetch(ctx, chatID)
	} else {
		page, err = s.readFile(chatID)
	}
	if err != nil {
		s.logger.Warn("page scrape failed", "chat_id", chatID, "error", err)
		return Page{URL: page.URL}
	}
	s.logger.Debug("page scraped", "chat_id", chatID, "elements", len(page.Elements))
	return page
}

func (s *Scraper) readFile(chatID string) (Page, error) {
	if !validPageID(chatID) {
		return Page{}, fmt.Errorf("invalid chat id %q for a saved page", chatID)
	}
	path := s.PagePath(chatID)
	page := Page{URL: "file://" + path}

	f, err := os.Open(path)
	if err != nil {
		return page, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()

	parsed, err := transcript.ParseFlatHTML(f)
	if err != nil {
		return page, err
	}
	page.Title = parsed.Title
	page.Elements = parsed.Elements
	return page, nil
}

func (s *Scraper) fetch(ctx context.Context, chatID string) (Page, error) {
	page := Page{URL: s.source + "/c/" + url.PathEscape(chatID)}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page.URL, nil)
	if err != nil {
		return page, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		return page, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return page, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	parsed, err := transcript.ParseFlatHTML(resp.Body)
	if err != nil {
		return page, err
	}
	page.Title = parsed.Title
	page.Elements = parsed.Elements
	return page, nil
}
