package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/MikeSquared-Agency/chatsync/internal/dedup"
	"github.com/MikeSquared-Agency/chatsync/internal/syncer"
	"github.com/MikeSquared-Agency/chatsync/internal/transcript"
)

// Config holds the backfill command configuration.
type Config struct {
	ExportPath  string
	Since       time.Time
	Until       time.Time
	DryRun      bool
	BatchSize   int
	MinMessages int
}

// Syncer uploads loaded conversations.
type Syncer interface {
	SyncPrepared(ctx context.Context, items []syncer.Prepared) []syncer.Outcome
}

// Report is the result of one backfill run.
type Report struct {
	Read        int
	Invalid     int
	Filtered    int
	WouldUpload int
	Unchanged   int
	Succeeded   int
	Skipped     int
	Failed      int
	Failures    map[string]string
}

// Runner imports a data-export archive through the sync pipeline. Already
// uploaded conversations are skipped by the fingerprint store, so an
// interrupted run can simply be started again.
type Runner struct {
	cfg    Config
	sync   Syncer
	state  dedup.Getter
	logger *slog.Logger
}

// NewRunner creates a backfill runner.
func NewRunner(cfg Config, sy Syncer, state dedup.Getter, logger *slog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MinMessages <= 0 {
		cfg.MinMessages = 1
	}
	return &Runner{cfg: cfg, sync: sy, state: state, logger: logger}
}

// Run executes the backfill.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	rep := Report{Failures: make(map[string]string)}

	f, err := os.Open(r.cfg.ExportPath)
	if err != nil {
		return rep, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	var pending []syncer.Prepared
	flush := func() {
		if len(pending) == 0 {
			return
		}
		r.logger.Info("uploading backfill batch", "conversations", len(pending))
		s := syncer.Summarize(r.sync.SyncPrepared(ctx, pending))
		rep.Succeeded += s.Succeeded
		rep.Skipped += s.Skipped
		rep.Failed += s.Failed
		for id, reason := range s.Failures {
			rep.Failures[id] = reason
		}
		pending = pending[:0]
	}

	invalid, err := ReadExport(f, r.logger, func(conv *transcript.Conversation) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep.Read++

		if !r.inDateRange(conv) {
			rep.Filtered++
			return nil
		}
		msgs := transcript.Normalize(conv.Graph)
		if len(msgs) < r.cfg.MinMessages {
			rep.Filtered++
			return nil
		}

		if r.cfg.DryRun {
			fp := transcript.Fingerprint(conv.ID, msgs)
			if dedup.ShouldSync(conv.ID, fp, dedup.StoreLookup(ctx, r.state, r.logger)).Skipped() {
				rep.Unchanged++
			} else {
				rep.WouldUpload++
				r.logger.Info("would upload", "chat_id", conv.ID, "messages", len(msgs), "fingerprint", fp)
			}
			return nil
		}

		pending = append(pending, syncer.Prepared{
			Request:      syncer.Request{ChatID: conv.ID},
			Conversation: conv,
		})
		if len(pending) >= r.cfg.BatchSize {
			flush()
		}
		return nil
	})
	rep.Invalid = invalid
	if err != nil {
		r.logger.Info("backfill interrupted", "read", rep.Read, "error", err)
		return rep, err
	}
	flush()

	r.logger.Info("backfill complete",
		"read", rep.Read,
		"invalid", rep.Invalid,
		"filtered", rep.Filtered,
		"succeeded", rep.Succeeded,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
		"dry_run", r.cfg.DryRun,
	)
	return rep, nil
}

// inDateRange checks the conversation's last update (or creation) against since/until.
func (r *Runner) inDateRange(conv *transcript.Conversation) bool {
	if r.cfg.Since.IsZero() && r.cfg.Until.IsZero() {
		return true
	}

	ts := conv.UpdateTime
	if ts == 0 {
		ts = conv.CreateTime
	}
	if ts == 0 {
		return false
	}
	sec, frac := math.Modf(ts)
	at := time.Unix(int64(sec), int64(frac*1e9)).UTC()

	if !r.cfg.Since.IsZero() && at.Before(r.cfg.Since) {
		return false
	}
	if !r.cfg.Until.IsZero() && at.After(r.cfg.Until) {
		return false
	}
	return true
}
