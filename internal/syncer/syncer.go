package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/chatsync/internal/config"
	"github.com/MikeSquared-Agency/chatsync/internal/dedup"
	"github.com/MikeSquared-Agency/chatsync/internal/hermes"
	"github.com/MikeSquared-Agency/chatsync/internal/scrape"
	"github.com/MikeSquared-Agency/chatsync/internal/transcript"
	"github.com/MikeSquared-Agency/chatsync/internal/uploader"
)

const clientName = "chatsync"

type ConnectionResolver interface {
	Resolve() (config.Connection, error)
}

type ConversationFetcher interface {
	FetchConversation(ctx context.Context, chatID string) (*transcript.Conversation, error)
}

type PageScraper interface {
	ScrapeConversation(ctx context.Context, chatID string) scrape.Page
}

type RecordUploader interface {
	Upload(ctx context.Context, conn config.Connection, rec transcript.Record) error
}

// FingerprintStore is the part of the fingerprint store a sync needs.
type FingerprintStore interface {
	GetLast(ctx context.Context, chatID string) (string, bool, error)
	SetLast(ctx context.Context, chatID, fingerprint string) error
}

type Publisher interface {
	Publish(subject string, data any) error
}

// Notifier receives a summary after each batch run.
type Notifier interface {
	PostBatchSummary(ctx context.Context, s Summary) error
}

type Options struct {
	// ChatBaseURL builds chatUrl ({base}/c/{id}) when a request carries none.
	ChatBaseURL string
	Concurrency int
	Publisher   Publisher
	Notifier    Notifier
}

// Orchestrator drives one conversation at a time through
// config -> extract -> normalize -> fingerprint -> dedup -> upload.
type Orchestrator struct {
	resolver  ConnectionResolver
	fetcher   ConversationFetcher
	scraper   PageScraper
	uploader  RecordUploader
	store     FingerprintStore
	publisher Publisher
	notifier  Notifier
	logger    *slog.Logger

	chatBaseURL string
	concurrency int

	now   func() time.Time
	newID func() string
}

// New builds an orchestrator. fetcher may be nil, in which case every attempt
// extracts from the page scrape.
func New(resolver ConnectionResolver, fetcher ConversationFetcher, scraper PageScraper, up RecordUploader, st FingerprintStore, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Orchestrator{
		resolver:    resolver,
		fetcher:     fetcher,
		scraper:     scraper,
		uploader:    up,
		store:       st,
		publisher:   opts.Publisher,
		notifier:    opts.Notifier,
		logger:      logger,
		chatBaseURL: strings.TrimRight(opts.ChatBaseURL, "/"),
		concurrency: opts.Concurrency,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// Sync runs one attempt for a single conversation. It never returns an error;
// failures are carried in the Outcome.
func (o *Orchestrator) Sync(ctx context.Context, req Request) Outcome {
	a := newAttempt(o.newID(), req.ChatID)
	if req.ChatID == "" {
		return o.finish(a.fail("missing chat id", fmt.Errorf("%w: %w", ErrInvalidRecord, transcript.ErrMissingChatID)))
	}

	a.enter(StateConfigResolving)
	conn, err := o.resolveConnection()
	if err != nil {
		return o.finish(a.fail("connection settings missing", err))
	}

	return o.finish(o.run(ctx, a, req, conn, nil, ""))
}

func (o *Orchestrator) resolveConnection() (config.Connection, error) {
	conn, err := o.resolver.Resolve()
	if err != nil {
		return config.Connection{}, fmt.Errorf("%w: %w", ErrConfigMissing, err)
	}
	return conn, nil
}

// run executes the steps after config resolution. A non-nil pre skips the
// fetch; sourceOverride replaces meta.source on the uploaded record when set.
func (o *Orchestrator) run(ctx context.Context, a *attempt, req Request, conn config.Connection, pre *extraction, sourceOverride transcript.SourceKind) Outcome {
	log := o.logger.With("chat_id", req.ChatID, "sync_id", a.out.SyncID)

	a.enter(StateExtracting)
	var ex extraction
	if pre != nil {
		ex = *pre
	} else {
		ex = o.extract(ctx, req.ChatID, log)
	}
	a.out.Source = ex.kind

	a.enter(StateNormalizing)
	msgs := transcript.Normalize(ex.source)
	if len(msgs) == 0 {
		return a.fail("no messages found", ErrNoMessages)
	}

	a.enter(StateFingerprinting)
	fp := transcript.Fingerprint(req.ChatID, msgs)
	a.out.Fingerprint = fp

	a.enter(StateDedupCheck)
	decision := dedup.ShouldSync(req.ChatID, fp, dedup.StoreLookup(ctx, o.store, log))
	if decision.Skipped() {
		return a.skip("already synced")
	}

	a.enter(StateUploading)
	source := ex.kind
	if sourceOverride != "" {
		source = sourceOverride
	}
	rec := transcript.Record{
		CollectedAt: o.now(),
		ChatID:      req.ChatID,
		ChatURL:     o.chatURL(req, ex),
		ChatTitle:   ex.chatTitle,
		PageTitle:   ex.pageTitle,
		Messages:    msgs,
		Meta: transcript.Meta{
			Source:      source,
			Fingerprint: fp,
			Extra: map[string]any{
				"extractedVia": string(ex.kind),
				"syncId":       a.out.SyncID,
				"messageCount": len(msgs),
				"client":       clientName,
			},
		},
	}
	a.out.Record = &rec

	if err := rec.Validate(); err != nil {
		return a.fail("record failed validation", fmt.Errorf("%w: %w", ErrInvalidRecord, err))
	}

	if err := o.uploader.Upload(ctx, conn, rec); err != nil {
		if errors.Is(err, uploader.ErrInvalidRecord) {
			return a.fail("record failed validation", fmt.Errorf("%w: %w", ErrInvalidRecord, err))
		}
		return a.fail("upload rejected", fmt.Errorf("%w: %w", ErrUploadRejected, err))
	}

	if err := o.store.SetLast(ctx, req.ChatID, fp); err != nil {
		log.Error("failed to persist fingerprint after upload", "fingerprint", fp, "error", err)
	}
	return a.succeed()
}

type extraction struct {
	source    transcript.Source
	kind      transcript.SourceKind
	chatTitle string
	pageTitle string
	pageURL   string
}

// extract tries the structured API first and falls back to the page scrape on
// any API error.
func (o *Orchestrator) extract(ctx context.Context, chatID string, log *slog.Logger) extraction {
	if o.fetcher != nil {
		conv, err := o.fetcher.FetchConversation(ctx, chatID)
		if err == nil && conv == nil {
			err = errors.New("fetcher returned no conversation")
		}
		if err == nil {
			return extraction{
				source:    conv.Graph,
				kind:      transcript.SourceAPI,
				chatTitle: conv.Title,
				pageTitle: conv.Title,
			}
		}
		log.Warn("structured extraction failed, falling back to page scrape",
			"error", fmt.Errorf("%w: %w", ErrExtractionFailed, err))
	}

	page := o.scraper.ScrapeConversation(ctx, chatID)
	return extraction{
		source:    page.Elements,
		kind:      transcript.SourceDOM,
		chatTitle: page.Title,
		pageTitle: page.Title,
		pageURL:   page.URL,
	}
}

func (o *Orchestrator) chatURL(req Request, ex extraction) string {
	switch {
	case req.ChatURL != "":
		return req.ChatURL
	case o.chatBaseURL != "":
		return o.chatBaseURL + "/c/" + url.PathEscape(req.ChatID)
	default:
		return ex.pageURL
	}
}

// finish logs and publishes a terminal outcome.
func (o *Orchestrator) finish(out Outcome) Outcome {
	attrs := []any{
		"chat_id", out.ChatID,
		"sync_id", out.SyncID,
		"state", out.State,
		"reason", out.Reason,
		"source", out.Source,
	}
	switch out.State {
	case StateFailed:
		o.logger.Error("sync failed", append(attrs, "error", out.Err)...)
	case StateSkipped:
		o.logger.Info("sync skipped", attrs...)
	default:
		o.logger.Info("sync succeeded", append(attrs, "fingerprint", out.Fingerprint)...)
	}

	if o.publisher != nil {
		if err := o.publisher.Publish(hermes.OutcomeSubject(string(out.State)), outcomeEvent(out, o.now())); err != nil {
			o.logger.Warn("failed to publish sync outcome", "chat_id", out.ChatID, "error", err)
		}
	}
	return out
}

func outcomeEvent(out Outcome, at time.Time) hermes.SyncOutcome {
	evt := hermes.SyncOutcome{
		SyncID:       out.SyncID,
		ChatID:       out.ChatID,
		State:        string(out.State),
		Reason:       out.Reason,
		Fingerprint:  out.Fingerprint,
		ExtractedVia: string(out.Source),
		FinishedAt:   at,
	}
	for _, s := range out.Path {
		evt.Path = append(evt.Path, string(s))
	}
	if out.Err != nil {
		evt.Error = out.Err.Error()
	}
	if out.Record != nil {
		evt.Source = string(out.Record.Meta.Source)
		evt.MessageCount = len(out.Record.Messages)
	}
	return evt
}

// HandleSyncRequested is the NATS handler for chatsync.sync.requested.
func (o *Orchestrator) HandleSyncRequested(subject string, data []byte) {
	var evt hermes.SyncRequested
	if err := json.Unmarshal(data, &evt); err != nil {
		o.logger.Error("failed to parse sync request", "subject", subject, "error", err)
		return
	}
	if evt.ChatID == "" {
		o.logger.Error("sync request without chat id", "subject", subject)
		return
	}
	o.Sync(context.Background(), Request{ChatID: evt.ChatID, ChatURL: evt.ChatURL})
}
