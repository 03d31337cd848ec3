package syncer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/chatsync/internal/transcript"
)

// Summary tallies the outcomes of a batch run.
type Summary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	// Failures maps chat id to the failure reason.
	Failures map[string]string
	Duration time.Duration
}

func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes), Failures: make(map[string]string)}
	for _, out := range outcomes {
		switch out.State {
		case StateSucceeded:
			s.Succeeded++
		case StateSkipped:
			s.Skipped++
		case StateFailed:
			s.Failed++
			reason := out.Reason
			if out.Err != nil {
				reason = out.Err.Error()
			}
			s.Failures[out.ChatID] = reason
		}
	}
	return s
}

// Prepared is a conversation whose content is already in hand, such as an
// entry of an export archive. It skips the fetch step.
type Prepared struct {
	Request
	Conversation *transcript.Conversation
}

// SyncBatch syncs independent conversations concurrently. The connection is
// resolved once for the whole batch and every uploaded record is stamped with
// meta.source "batch". Outcomes are returned in request order.
func (o *Orchestrator) SyncBatch(ctx context.Context, reqs []Request) []Outcome {
	return o.runBatch(ctx, len(reqs), func(i int) (Request, *extraction) {
		return reqs[i], nil
	})
}

// SyncPrepared is SyncBatch for conversations that were already loaded.
// meta.extractedVia is "export" for these records.
func (o *Orchestrator) SyncPrepared(ctx context.Context, items []Prepared) []Outcome {
	return o.runBatch(ctx, len(items), func(i int) (Request, *extraction) {
		it := items[i]
		if it.Conversation == nil {
			return it.Request, &extraction{source: transcript.FlatForm(nil), kind: transcript.SourceExport}
		}
		return it.Request, &extraction{
			source:    it.Conversation.Graph,
			kind:      transcript.SourceExport,
			chatTitle: it.Conversation.Title,
			pageTitle: it.Conversation.Title,
		}
	})
}

func (o *Orchestrator) runBatch(ctx context.Context, n int, item func(i int) (Request, *extraction)) []Outcome {
	start := time.Now()
	outcomes := make([]Outcome, n)

	conn, connErr := o.resolveConnection()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			req, pre := item(i)
			a := newAttempt(o.newID(), req.ChatID)
			switch {
			case req.ChatID == "":
				outcomes[i] = o.finish(a.fail("missing chat id", fmt.Errorf("%w: %w", ErrInvalidRecord, transcript.ErrMissingChatID)))
			case connErr != nil:
				a.enter(StateConfigResolving)
				outcomes[i] = o.finish(a.fail("connection settings missing", connErr))
			default:
				a.enter(StateConfigResolving)
				outcomes[i] = o.finish(o.run(gctx, a, req, conn, pre, transcript.SourceBatch))
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := Summarize(outcomes)
	summary.Duration = time.Since(start)
	o.logger.Info("batch complete",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", summary.Duration,
	)

	if o.notifier != nil && summary.Total > 0 {
		if err := o.notifier.PostBatchSummary(ctx, summary); err != nil {
			o.logger.Warn("failed to post batch summary", "error", err)
		}
	}
	return outcomes
}
