// Package pipeline implements the mention-processing poll cycle for
// FallacySheriff.
//
// One poll cycle fetches mentions newer than the stored cursor, filters
// them through the trigger predicate, drops already-processed tweets,
// analyzes the parent tweet of each survivor, and posts a reply. The
// orchestrator owns the single-flight guard, the counters, and the
// failure-isolation loop: one bad mention never blocks the rest of the
// batch, and the cursor only moves past mentions that were actually
// observed.
package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fallacysheriff/fallacysheriff/internal/models"
	"github.com/fallacysheriff/fallacysheriff/internal/store"
)

// DefaultConfidenceThreshold is the minimum analysis confidence (0-100)
// required before a reply is posted.
const DefaultConfidenceThreshold = 90

// SourceAdapter discovers mentions and resolves the reply chain above them.
type SourceAdapter interface {
	// FetchMentions returns mentions newer than sinceID. An empty sinceID
	// returns everything the source currently has.
	FetchMentions(ctx context.Context, sinceID string) ([]models.Mention, error)

	// FetchThread resolves the tweet to analyze (the mention's parent) and
	// optional context (the grandparent).
	FetchThread(ctx context.Context, mention models.Mention) (models.Thread, error)
}

// AnalysisClient maps target text to a fallacy verdict.
type AnalysisClient interface {
	AnalyzeFallacy(ctx context.Context, targetText, contextText string) (models.FallacyAnalysis, error)
}

// ReplyPublisher posts a reply tweet.
type ReplyPublisher interface {
	PostReply(ctx context.Context, replyToTweetID, text string) error
}

// Opts holds configuration options for the orchestrator.
type Opts struct {
	TriggerPhrase       string
	ConfidenceThreshold int

	thresholdSet bool
}

// Option configures the orchestrator.
type Option func(*Opts)

// WithTriggerPhrase overrides the trigger phrase.
func WithTriggerPhrase(p string) Option {
	return func(o *Opts) { o.TriggerPhrase = p }
}

// WithConfidenceThreshold overrides the minimum confidence for posting.
func WithConfidenceThreshold(v int) Option {
	return func(o *Opts) {
		o.ConfidenceThreshold = v
		o.thresholdSet = true
	}
}

// Orchestrator composes the store, source, analyzer, and publisher into
// one poll cycle.
type Orchestrator struct {
	store     store.Store
	source    SourceAdapter
	analyzer  AnalysisClient
	publisher ReplyPublisher
	trigger   string
	threshold int

	// mu is the single-flight guard: at most one poll cycle runs at a
	// time, whether triggered by the scheduler or manually.
	mu sync.Mutex
}

// NewOrchestrator wires the pipeline's collaborators together.
func NewOrchestrator(st store.Store, source SourceAdapter, analyzer AnalysisClient, publisher ReplyPublisher, opts ...Option) *Orchestrator {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TriggerPhrase == "" {
		cfg.TriggerPhrase = models.DefaultTriggerPhrase
	}
	if !cfg.thresholdSet {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return &Orchestrator{
		store:     st,
		source:    source,
		analyzer:  analyzer,
		publisher: publisher,
		trigger:   cfg.TriggerPhrase,
		threshold: cfg.ConfidenceThreshold,
	}
}

// RunPollCycle executes one poll cycle and reports what happened. If a
// cycle is already in progress the call returns immediately with
// Skipped=true instead of running concurrently or queuing.
func (o *Orchestrator) RunPollCycle(ctx context.Context) models.PollSummary {
	if !o.mu.TryLock() {
		slog.Info("Orchestrator.RunPollCycle: cycle already in progress, skipping")
		return models.PollSummary{Skipped: true}
	}
	defer o.mu.Unlock()

	var summary models.PollSummary

	sinceID, err := o.store.LastSeenID()
	if err != nil {
		slog.Error("Orchestrator.RunPollCycle: could not read cursor, aborting cycle", "error", err)
		summary.Errors++
		return summary
	}

	slog.Info("Orchestrator.RunPollCycle: polling for new mentions", "since_id", sinceID)
	mentions, err := o.source.FetchMentions(ctx, sinceID)
	if err != nil {
		// Fetch failures abort the cycle; the cursor stays put and the
		// next scheduled or manual trigger retries.
		slog.Error("Orchestrator.RunPollCycle: mention fetch failed, aborting cycle", "error", err)
		summary.Errors++
		return summary
	}
	summary.Fetched = len(mentions)

	// Process oldest-to-newest; the feed is typically newest-first and
	// processing order matters for cursor correctness.
	sort.SliceStable(mentions, func(i, j int) bool {
		return models.CompareTweetIDs(mentions[i].TweetID, mentions[j].TweetID) < 0
	})

	newestID := ""
	for _, m := range mentions {
		if newestID == "" || models.CompareTweetIDs(m.TweetID, newestID) > 0 {
			newestID = m.TweetID
		}
		if err := o.processMention(ctx, m, &summary); err != nil {
			// A state store failure mid-cycle aborts the batch before the
			// cursor moves, so the failed mention is re-fetched and retried
			// next cycle instead of being skipped forever.
			slog.Error("Orchestrator.RunPollCycle: state store failed mid-cycle, aborting without cursor movement", "error", err, "tweet_id", m.TweetID)
			return summary
		}
	}

	// The cursor advances past everything observed in this batch, eligible
	// or not, so ineligible mentions are never re-fetched. It never moves
	// backwards.
	if newestID != "" && (sinceID == "" || models.CompareTweetIDs(newestID, sinceID) > 0) {
		if err := o.store.SetLastSeenID(newestID); err != nil {
			slog.Error("Orchestrator.RunPollCycle: could not advance cursor", "error", err, "newest_id", newestID)
			summary.Errors++
		} else {
			slog.Info("Orchestrator.RunPollCycle: cursor advanced", "last_seen_id", newestID)
		}
	}
	if err := o.store.SetLastPollTime(time.Now().UTC()); err != nil {
		slog.Error("Orchestrator.RunPollCycle: could not record poll time", "error", err)
		summary.Errors++
	}

	slog.Info("Orchestrator.RunPollCycle: cycle complete",
		"fetched", summary.Fetched,
		"eligible", summary.Eligible,
		"processed", summary.Processed,
		"replied", summary.Replied,
		"errors", summary.Errors)
	return summary
}

// processMention runs the per-mention pipeline steps. Fetch, analysis, and
// publish failures are isolated to this mention: logged, counted, and left
// unmarked so a future cycle retries it. A state store failure is returned
// instead, because continuing would let the cursor advance past a mention
// whose outcome was never recorded.
func (o *Orchestrator) processMention(ctx context.Context, m models.Mention, summary *models.PollSummary) (storeErr error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Orchestrator.processMention: panic while processing mention", "panic", r, "tweet_id", m.TweetID)
			summary.Errors++
		}
	}()

	if !m.IsEligible(o.trigger) {
		slog.Debug("Orchestrator.processMention: mention not eligible", "tweet_id", m.TweetID)
		return nil
	}
	summary.Eligible++

	processed, err := o.store.IsProcessed(m.TweetID)
	if err != nil {
		slog.Error("Orchestrator.processMention: dedup check failed", "error", err, "tweet_id", m.TweetID)
		summary.Errors++
		return err
	}
	if processed {
		slog.Debug("Orchestrator.processMention: mention already processed", "tweet_id", m.TweetID)
		return nil
	}

	slog.Info("Orchestrator.processMention: processing mention", "tweet_id", m.TweetID, "parent_id", m.InReplyToID)

	thread, err := o.source.FetchThread(ctx, m)
	if err != nil {
		// Cannot analyze without the parent text; the mention stays
		// retry-eligible for the next cycle.
		slog.Error("Orchestrator.processMention: could not resolve parent tweet", "error", err, "tweet_id", m.TweetID)
		summary.Errors++
		return nil
	}

	analysis, err := o.analyzer.AnalyzeFallacy(ctx, thread.TargetText, thread.ContextText)
	if err != nil {
		slog.Error("Orchestrator.processMention: analysis failed", "error", err, "tweet_id", m.TweetID)
		summary.Errors++
		return nil
	}

	if analysis.Confidence < o.threshold {
		// A permanent skip: recorded as processed so low-confidence
		// mentions are not re-analyzed every cycle.
		slog.Info("Orchestrator.processMention: confidence below threshold, not replying",
			"tweet_id", m.TweetID, "confidence", analysis.Confidence, "threshold", o.threshold)
		if err := o.store.MarkProcessed(m.TweetID); err != nil {
			slog.Error("Orchestrator.processMention: could not mark processed", "error", err, "tweet_id", m.TweetID)
			summary.Errors++
			return err
		}
		summary.Processed++
		return nil
	}

	if err := o.publisher.PostReply(ctx, m.TweetID, analysis.ReplyText); err != nil {
		// Not marked processed: the mention is retried next cycle. A
		// duplicate reply on retry is rejected by the platform's own
		// duplicate-content check.
		slog.Error("Orchestrator.processMention: reply publish failed", "error", err, "tweet_id", m.TweetID)
		summary.Errors++
		return nil
	}
	summary.Replied++

	if err := o.store.MarkProcessed(m.TweetID); err != nil {
		slog.Error("Orchestrator.processMention: reply posted but mark processed failed", "error", err, "tweet_id", m.TweetID)
		summary.Errors++
		return err
	}
	if err := o.store.IncrementMentionsProcessed(); err != nil {
		// The mention is already marked, so nothing can be lost; the
		// counter drifting low is not worth aborting the batch.
		slog.Error("Orchestrator.processMention: could not increment processed count", "error", err, "tweet_id", m.TweetID)
		summary.Errors++
	}
	summary.Processed++
	slog.Info("Orchestrator.processMention: replied to mention", "tweet_id", m.TweetID)
	return nil
}

// Status returns the durable poll state snapshot.
func (o *Orchestrator) Status() (models.PollStatus, error) {
	return o.store.Status()
}
