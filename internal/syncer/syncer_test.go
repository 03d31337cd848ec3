package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/chatsync/internal/config"
	"github.com/MikeSquared-Agency/chatsync/internal/hermes"
	"github.com/MikeSquared-Agency/chatsync/internal/scrape"
	"github.com/MikeSquared-Agency/chatsync/internal/store"
	"github.com/MikeSquared-Agency/chatsync/internal/transcript"
	"github.com/MikeSquared-Agency/chatsync/internal/uploader"
)

const twoNodeJSON = `{
	"title": "Greeting",
	"mapping": {
		"b": {"message": {"author": {"role": "assistant"}, "content": {"content_type": "text", "parts": ["Hi there!"]}, "create_time": 2}},
		"a": {"message": {"author": {"role": "user"}, "content": {"content_type": "text", "parts": ["Hello"]}, "create_time": 1}}
	}
}`

// Fingerprint of "user:Hello\nassistant:Hi there!".
const twoNodeFingerprint = "7vyhaf"

type fakeResolver struct {
	conn  config.Connection
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeResolver) Resolve() (config.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.conn, f.err
}

type fakeFetcher struct {
	body  string
	err   error
	empty bool
}

func (f *fakeFetcher) FetchConversation(ctx context.Context, chatID string) (*transcript.Conversation, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return nil, nil
	}
	return transcript.DecodeGraph(strings.NewReader(f.body))
}

type fakeScraper struct {
	page  scrape.Page
	mu    sync.Mutex
	calls int
}

func (f *fakeScraper) ScrapeConversation(ctx context.Context, chatID string) scrape.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.page
}

type fakeUploader struct {
	err     error
	mu      sync.Mutex
	records []transcript.Record
}

func (f *fakeUploader) Upload(ctx context.Context, conn config.Connection, rec transcript.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type failingSetStore struct {
	*store.MemoryStore
}

func (failingSetStore) SetLast(ctx context.Context, chatID, fingerprint string) error {
	return errors.New("disk full")
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []hermes.SyncOutcome
}

func (f *fakePublisher) Publish(subject string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	if evt, ok := data.(hermes.SyncOutcome); ok {
		f.events = append(f.events, evt)
	}
	return nil
}

type fakeNotifier struct {
	summaries []Summary
}

func (f *fakeNotifier) PostBatchSummary(ctx context.Context, s Summary) error {
	f.summaries = append(f.summaries, s)
	return nil
}

type fixture struct {
	resolver  *fakeResolver
	fetcher   *fakeFetcher
	scraper   *fakeScraper
	uploader  *fakeUploader
	store     FingerprintStore
	publisher *fakePublisher
	notifier  *fakeNotifier
}

func newFixture() *fixture {
	return &fixture{
		resolver:  &fakeResolver{conn: config.Connection{EndpointURL: "https://db.example", APIKey: "k", TableName: "chat_logs"}},
		fetcher:   &fakeFetcher{body: twoNodeJSON},
		scraper:   &fakeScraper{},
		uploader:  &fakeUploader{},
		store:     store.NewMemoryStore(),
		publisher: &fakePublisher{},
		notifier:  &fakeNotifier{},
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	o := New(f.resolver, f.fetcher, f.scraper, f.uploader, f.store, Options{
		ChatBaseURL: "https://chatgpt.com/",
		Concurrency: 2,
		Publisher:   f.publisher,
		Notifier:    f.notifier,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	o.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return o
}

func assertPath(t *testing.T, out Outcome, want ...State) {
	t.Helper()
	if len(out.Path) != len(want) {
		t.Fatalf("path = %v, want %v", out.Path, want)
	}
	for i := range want {
		if out.Path[i] != want[i] {
			t.Fatalf("path = %v, want %v", out.Path, want)
		}
	}
}

func TestSync_TwoNodeConversation(t *testing.T) {
	f := newFixture()
	out := f.orchestrator().Sync(context.Background(), Request{ChatID: "c-1"})

	if out.State != StateSucceeded {
		t.Fatalf("expected succeeded, got %s (%v)", out.State, out.Err)
	}
	assertPath(t, out, StateIdle, StateConfigResolving, StateExtracting, StateNormalizing,
		StateFingerprinting, StateDedupCheck, StateUploading, StateSucceeded)

	if out.Fingerprint != twoNodeFingerprint {
		t.Errorf("fingerprint = %q, want %q", out.Fingerprint, twoNodeFingerprint)
	}
	if f.uploader.count() != 1 {
		t.Fatalf("expected one upload, got %d", f.uploader.count())
	}

	rec := f.uploader.records[0]
	if len(rec.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(rec.Messages))
	}
	if rec.Messages[0].Role != transcript.RoleUser || rec.Messages[0].Text != "Hello" || rec.Messages[0].Index != 0 {
		t.Errorf("unexpected first message %+v", rec.Messages[0])
	}
	if rec.Messages[1].Role != transcript.RoleAssistant || rec.Messages[1].Text != "Hi there!" || rec.Messages[1].Index != 1 {
		t.Errorf("unexpected second message %+v", rec.Messages[1])
	}
	if rec.Meta.Source != transcript.SourceAPI || rec.Meta.Fingerprint != twoNodeFingerprint {
		t.Errorf("unexpected meta %+v", rec.Meta)
	}
	if rec.Meta.Extra["syncId"] != out.SyncID || rec.Meta.Extra["client"] != "chatsync" {
		t.Errorf("unexpected meta extras %v", rec.Meta.Extra)
	}
	if rec.ChatURL != "https://chatgpt.com/c/c-1" {
		t.Errorf("unexpected chat url %q", rec.ChatURL)
	}
	if rec.ChatTitle != "Greeting" {
		t.Errorf("unexpected chat title %q", rec.ChatTitle)
	}
	if !rec.CollectedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected collectedAt %v", rec.CollectedAt)
	}

	fp, ok, _ := f.store.GetLast(context.Background(), "c-1")
	if !ok || fp != twoNodeFingerprint {
		t.Errorf("expected fingerprint persisted, got %q ok=%v", fp, ok)
	}
}

func TestSync_TwiceIsSkipped(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	first := o.Sync(context.Background(), Request{ChatID: "c-1"})
	second := o.Sync(context.Background(), Request{ChatID: "c-1"})

	if first.State != StateSucceeded {
		t.Fatalf("expected first sync to succeed, got %s", first.State)
	}
	if second.State != StateSkipped {
		t.Fatalf("expected second sync skipped, got %s", second.State)
	}
	if second.Reason != "already synced" {
		t.Errorf("unexpected reason %q", second.Reason)
	}
	if second.Err != nil {
		t.Errorf("skipped is not an error, got %v", second.Err)
	}
	if second.Visited(StateUploading) {
		t.Error("skipped attempt must not reach uploading")
	}
	if f.uploader.count() != 1 {
		t.Errorf("expected exactly one upload, got %d", f.uploader.count())
	}
}

func TestSync_ChangedContentUploadsAgain(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	o.Sync(context.Background(), Request{ChatID: "c-1"})

	f.fetcher.body = strings.Replace(twoNodeJSON, "Hi there!", "Hi there!!", 1)
	out := o.Sync(context.Background(), Request{ChatID: "c-1"})

	if out.State != StateSucceeded {
		t.Fatalf("expected changed conversation to upload, got %s", out.State)
	}
	if f.uploader.count() != 2 {
		t.Errorf("expected two uploads, got %d", f.uploader.count())
	}
}

func TestSync_APIFailureFallsBackToPage(t *testing.T) {
	f := newFixture()
	f.fetcher.err = errors.New("401 unauthorized")
	f.scraper.page = scrape.Page{
		URL:   "file:///pages/c-1.html",
		Title: "Greeting - Chat",
		Elements: transcript.FlatForm{
			{Role: "user", Text: "Hello", HTML: "<p>Hello</p>"},
			{Role: "assistant", Text: "Hi there!", HTML: "<p>Hi there!</p>"},
		},
	}

	out := f.orchestrator().Sync(context.Background(), Request{ChatID: "c-1", ChatURL: "https://chatgpt.com/c/c-1"})

	if out.State != StateSucceeded {
		t.Fatalf("expected succeeded, got %s (%v)", out.State, out.Err)
	}
	if out.Source != transcript.SourceDOM {
		t.Errorf("expected dom source, got %s", out.Source)
	}
	if f.scraper.calls != 1 {
		t.Errorf("expected one scrape, got %d", f.scraper.calls)
	}

	rec := f.uploader.records[0]
	if rec.Meta.Source != transcript.SourceDOM {
		t.Errorf("expected meta.source dom, got %s", rec.Meta.Source)
	}
	if rec.Messages[0].HTML != "<p>Hello</p>" {
		t.Errorf("expected html kept from page, got %q", rec.Messages[0].HTML)
	}
	if rec.PageTitle != "Greeting - Chat" {
		t.Errorf("unexpected page title %q", rec.PageTitle)
	}
	if out.Fingerprint != twoNodeFingerprint {
		t.Errorf("expected same fingerprint from either path, got %q", out.Fingerprint)
	}
}

func TestSync_FetcherWithoutConversationFallsBackToPage(t *testing.T) {
	f := newFixture()
	f.fetcher.empty = true
	f.scraper.page = scrape.Page{Elements: transcript.FlatForm{{Role: "user", Text: "Hello"}}}

	out := f.orchestrator().Sync(context.Background(), Request{ChatID: "c-1"})

	if out.State != StateSucceeded || out.Source != transcript.SourceDOM {
		t.Fatalf("expected dom success, got %s via %s (%v)", out.State, out.Source, out.Err)
	}
	if f.scraper.calls != 1 {
		t.Errorf("expected one scrape, got %d", f.scraper.calls)
	}
}

func TestSync_NilFetcherUsesPage(t *testing.T) {
	f := newFixture()
	f.scraper.page = scrape.Page{Elements: transcript.FlatForm{{Role: "user", Text: "Hello"}}}

	o := New(f.resolver, nil, f.scraper, f.uploader, f.store, Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out := o.Sync(context.Background(), Request{ChatID: "c-1"})

	if out.State != StateSucceeded || out.Source != transcript.SourceDOM {
		t.Fatalf("expected dom success, got %s via %s", out.State, out.Source)
	}
}

func TestSync_EmptyConversation(t *testing.T) {
	f := newFixture()
	f.fetcher.body = `{"title": "Empty", "mapping": {"root": {"message": null}}}`

	out := f.orchestrator().Sync(context.Background(), Request{ChatID: "c-1"})

	if out.State != StateFailed {
		t.Fatalf("expected failed, got %s", out.State)
	}
	if !errors.Is(out.Err, ErrNoMessages) {
		t.Errorf("expected ErrNoMessages, got %v", out.Err)
	}
	if out.Visited(StateUploading) {
		t.Error("empty conversation must never reach uploading")
	}
	if f.uploader.count() != 0 {
		t.Errorf("expected no uploads, got %d", f.uploader.count())
	}
	if _, ok, _ := f.store.GetLast(context.Background(), "c-1"); ok {
		t.Error("fingerprint must not be written on failure")
	}
}

func TestSync_ConfigMissing(t *testing.T) {
	f := newFixture()
	f.resolver.err = config.ErrMissing

	out := f.orchestrator().Sync(context.Background(), Request{ChatID: "c-1"})

	if !errors.Is(out.Err, ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", out.Err)
	}
	assertPath(t, out, StateIdle, StateConfigResolving, StateFailed)
	if f.scraper.calls != 0 || f.uploader.count() != 0 {
		t.Error("nothing should run without a connection")
	}
}

func TestSync_UploadRejected(t *testing.T) {
	f := newFixture()
	f.uploader.err = &uploader.RejectedError{StatusCode: 500, Body: "boom"}

	out := f.orchestrator().Sync(context.Background(), Request{ChatID: "c-1"})

	if out.State != StateFailed {
		t.Fatalf("expected failed, got %s", out.State)
	}
	if !errors.Is(out.Err, ErrUploadRejected) {
		t.Errorf("expected ErrUploadRejected, got %v", out.Err)
	}
	var rejected *uploader.RejectedError
	if !errors.As(out.Err, &rejected) || rejected.StatusCode != 500 {
		t.Errorf("expected RejectedError with status 500, got %v", out.Err)
	}
	if _, ok, _ := f.store.GetLast(context.Background(), "c-1"); ok {
		t.Error("fingerprint must not be written when the upload is rejected")
	}
}

func TestSync_UploaderValidationFailure(t *testing.T) {
	f := newFixture()
	f.uploader.err = fmt.Errorf("%w: bad role", uploader.ErrInvalidRecord)

	out := f.orchestrator().Sync(context.Background(), Request{ChatID: "c-1"})
	if !errors.Is(out.Err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord, got %v", out.Err)
	}
}

func TestSync_MissingChatID(t *testing.T) {
	f := newFixture()
	out := f.orchestrator().Sync(context.Background(), Request{})

	if !errors.Is(out.Err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord, got %v", out.Err)
	}
	if f.resolver.calls != 0 {
		t.Error("expected no config resolution without a chat id")
	}
}

func TestSync_PersistFailureStillSucceeds(t *testing.T) {
	f := newFixture()
	f.store = failingSetStore{store.NewMemoryStore()}

	out := f.orchestrator().Sync(context.Background(), Request{ChatID: "c-1"})
	if out.State != StateSucceeded {
		t.Errorf("expected succeeded despite persistence failure, got %s", out.State)
	}
}

func TestSync_PublishesOutcome(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	o.Sync(context.Background(), Request{ChatID: "c-1"})
	o.Sync(context.Background(), Request{ChatID: "c-1"})

	want := []string{"chatsync.sync.succeeded", "chatsync.sync.skipped"}
	if len(f.publisher.subjects) != len(want) {
		t.Fatalf("subjects = %v, want %v", f.publisher.subjects, want)
	}
	for i := range want {
		if f.publisher.subjects[i] != want[i] {
			t.Errorf("subject[%d] = %s, want %s", i, f.publisher.subjects[i], want[i])
		}
	}
	evt := f.publisher.events[0]
	if evt.ChatID != "c-1" || evt.MessageCount != 2 || evt.Source != "api" || evt.Fingerprint != twoNodeFingerprint {
		t.Errorf("unexpected outcome event %+v", evt)
	}
}

func TestSyncBatch(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	o.Sync(context.Background(), Request{ChatID: "c-2"})
	f.resolver.calls = 0

	reqs := []Request{{ChatID: "c-1"}, {ChatID: "c-2"}, {ChatID: "c-3"}, {ChatID: ""}}
	outcomes := o.SyncBatch(context.Background(), reqs)

	if len(outcomes) != len(reqs) {
		t.Fatalf("expected %d outcomes, got %d", len(reqs), len(outcomes))
	}
	for i, out := range outcomes {
		if out.ChatID != reqs[i].ChatID {
			t.Errorf("outcome %d out of order: %s", i, out.ChatID)
		}
	}
	if outcomes[0].State != StateSucceeded || outcomes[2].State != StateSucceeded {
		t.Errorf("expected c-1 and c-3 succeeded, got %s and %s", outcomes[0].State, outcomes[2].State)
	}
	if outcomes[1].State != StateSkipped {
		t.Errorf("expected c-2 skipped, got %s", outcomes[1].State)
	}
	if outcomes[3].State != StateFailed {
		t.Errorf("expected empty chat id to fail, got %s", outcomes[3].State)
	}
	if f.resolver.calls != 1 {
		t.Errorf("expected connection resolved once per batch, got %d", f.resolver.calls)
	}

	rec := outcomes[0].Record
	if rec.Meta.Source != transcript.SourceBatch {
		t.Errorf("expected meta.source batch, got %s", rec.Meta.Source)
	}
	if rec.Meta.Extra["extractedVia"] != "api" {
		t.Errorf("expected extractedVia api, got %v", rec.Meta.Extra["extractedVia"])
	}

	if len(f.notifier.summaries) != 1 {
		t.Fatalf("expected one batch summary, got %d", len(f.notifier.summaries))
	}
	s := f.notifier.summaries[0]
	if s.Total != 4 || s.Succeeded != 2 || s.Skipped != 1 || s.Failed != 1 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestSyncBatch_ConfigMissing(t *testing.T) {
	f := newFixture()
	f.resolver.err = config.ErrMissing

	outcomes := f.orchestrator().SyncBatch(context.Background(), []Request{{ChatID: "c-1"}, {ChatID: "c-2"}})
	for _, out := range outcomes {
		if !errors.Is(out.Err, ErrConfigMissing) {
			t.Errorf("%s: expected ErrConfigMissing, got %v", out.ChatID, out.Err)
		}
	}
	if f.uploader.count() != 0 {
		t.Errorf("expected no uploads, got %d", f.uploader.count())
	}
}

func TestHandleSyncRequested(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	o.HandleSyncRequested(hermes.SubjectSyncRequested, []byte(`{"chatId":"c-9","chatUrl":"https://chatgpt.com/c/c-9"}`))
	o.HandleSyncRequested(hermes.SubjectSyncRequested, []byte(`not json`))
	o.HandleSyncRequested(hermes.SubjectSyncRequested, []byte(`{}`))

	if f.uploader.count() != 1 {
		t.Fatalf("expected one upload, got %d", f.uploader.count())
	}
	if f.uploader.records[0].ChatURL != "https://chatgpt.com/c/c-9" {
		t.Errorf("expected request chat url, got %q", f.uploader.records[0].ChatURL)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Outcome{
		{ChatID: "a", State: StateSucceeded},
		{ChatID: "b", State: StateFailed, Err: ErrNoMessages},
		{ChatID: "c", State: StateFailed, Reason: "upload rejected"},
	})
	if s.Succeeded != 1 || s.Failed != 2 {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.Failures["b"] != ErrNoMessages.Error() || s.Failures["c"] != "upload rejected" {
		t.Errorf("unexpected failures %v", s.Failures)
	}
}
