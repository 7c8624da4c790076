package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fallacysheriff/fallacysheriff/internal/models"
	"github.com/fallacysheriff/fallacysheriff/internal/store"
)

type fakeSource struct {
	mentions     []models.Mention
	fetchErr     error
	threads      map[string]models.Thread
	threadErr    map[string]error
	ignoreCursor bool // re-deliver everything regardless of sinceID

	fetchGate chan struct{} // when set, FetchMentions blocks until closed
	fetching  chan struct{} // signals that FetchMentions has been entered
}

func (f *fakeSource) FetchMentions(ctx context.Context, sinceID string) ([]models.Mention, error) {
	if f.fetching != nil {
		f.fetching <- struct{}{}
	}
	if f.fetchGate != nil {
		<-f.fetchGate
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	// Honor the adapter contract: only mentions newer than the cursor.
	var out []models.Mention
	for _, m := range f.mentions {
		if !f.ignoreCursor && sinceID != "" && models.CompareTweetIDs(m.TweetID, sinceID) <= 0 {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeSource) FetchThread(ctx context.Context, mention models.Mention) (models.Thread, error) {
	if err := f.threadErr[mention.TweetID]; err != nil {
		return models.Thread{}, err
	}
	if th, ok := f.threads[mention.TweetID]; ok {
		return th, nil
	}
	return models.Thread{TargetText: "target of " + mention.TweetID}, nil
}

type fakeAnalyzer struct {
	confidence int
	reply      string
	errFor     map[string]error // keyed by target text
	panicFor   map[string]bool
	targets    []string
}

func (f *fakeAnalyzer) AnalyzeFallacy(ctx context.Context, targetText, contextText string) (models.FallacyAnalysis, error) {
	f.targets = append(f.targets, targetText)
	if f.panicFor[targetText] {
		panic("analyzer exploded")
	}
	if err := f.errFor[targetText]; err != nil {
		return models.FallacyAnalysis{}, err
	}
	reply := f.reply
	if reply == "" {
		reply = "Strawman\nMore: yourlogicalfallacyis.com/strawman"
	}
	confidence := f.confidence
	if confidence == 0 {
		confidence = 95
	}
	return models.FallacyAnalysis{
		ReplyText:       reply,
		Confidence:      confidence,
		FallacyDetected: true,
		FallacyName:     "Strawman",
	}, nil
}

type publishCall struct {
	replyTo string
	text    string
}

type fakePublisher struct {
	calls  []publishCall
	errFor map[string]error // keyed by reply-to tweet ID
}

func (f *fakePublisher) PostReply(ctx context.Context, replyToTweetID, text string) error {
	if err := f.errFor[replyToTweetID]; err != nil {
		return err
	}
	f.calls = append(f.calls, publishCall{replyTo: replyToTweetID, text: text})
	return nil
}

func eligibleMention(id, parentID string) models.Mention {
	return models.Mention{
		TweetID:       id,
		Text:          "@FallacySheriff fallacyme",
		Author:        "someone",
		InReplyToID:   parentID,
		InReplyToUser: "parentauthor",
	}
}

func newTestOrchestrator(t *testing.T, src *fakeSource, an *fakeAnalyzer, pub *fakePublisher, opts ...Option) (*Orchestrator, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	return NewOrchestrator(st, src, an, pub, opts...), st
}

func TestRunPollCycleEndToEnd(t *testing.T) {
	src := &fakeSource{
		mentions: []models.Mention{eligibleMention("1", "9")},
		threads:  map[string]models.Thread{"1": {TargetText: "Everyone knows X is bad!!!"}},
	}
	an := &fakeAnalyzer{reply: "Bandwagon + Hyperbole\nMore: yourlogicalfallacyis.com/bandwagon", confidence: 95}
	pub := &fakePublisher{}
	o, st := newTestOrchestrator(t, src, an, pub)

	summary := o.RunPollCycle(context.Background())

	want := models.PollSummary{Fetched: 1, Eligible: 1, Processed: 1, Replied: 1}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}
	if len(pub.calls) != 1 || pub.calls[0].replyTo != "1" {
		t.Fatalf("publish calls = %+v, want one reply to tweet 1", pub.calls)
	}
	if len(an.targets) != 1 || an.targets[0] != "Everyone knows X is bad!!!" {
		t.Errorf("analyzed targets = %v", an.targets)
	}
	processed, _ := st.IsProcessed("1")
	if !processed {
		t.Error("tweet 1 should be marked processed")
	}
	status, _ := st.Status()
	if status.MentionsProcessed != 1 {
		t.Errorf("mentions_processed = %d, want 1", status.MentionsProcessed)
	}
	if status.LastSeenID != "1" {
		t.Errorf("cursor = %q, want %q", status.LastSeenID, "1")
	}
	if status.LastPollTime == nil {
		t.Error("last poll time should be set after a completed cycle")
	}
}

func TestRunPollCycleIdempotent(t *testing.T) {
	// The source re-delivers the same mention every cycle, as an RSS feed
	// does; dedup state, not the cursor, is what guarantees one reply.
	src := &fakeSource{mentions: []models.Mention{eligibleMention("1", "9")}, ignoreCursor: true}
	an := &fakeAnalyzer{}
	pub := &fakePublisher{}
	o, st := newTestOrchestrator(t, src, an, pub)

	o.RunPollCycle(context.Background())
	summary := o.RunPollCycle(context.Background())

	if len(pub.calls) != 1 {
		t.Errorf("got %d publish calls across two cycles, want exactly 1", len(pub.calls))
	}
	if summary.Replied != 0 {
		t.Errorf("second cycle replied = %d, want 0", summary.Replied)
	}
	status, _ := st.Status()
	if status.MentionsProcessed != 1 {
		t.Errorf("mentions_processed = %d, want 1", status.MentionsProcessed)
	}
}

func TestRunPollCycleDedupSkipsProcessed(t *testing.T) {
	src := &fakeSource{mentions: []models.Mention{eligibleMention("5", "9")}}
	an := &fakeAnalyzer{}
	pub := &fakePublisher{}
	o, st := newTestOrchestrator(t, src, an, pub)

	// Processed in a prior run, cursor behind it (e.g. after a partial cycle).
	if err := st.MarkProcessed("5"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}

	summary := o.RunPollCycle(context.Background())
	if len(pub.calls) != 0 {
		t.Errorf("already-processed mention must not be replied to, got %+v", pub.calls)
	}
	if summary.Eligible != 1 || summary.Replied != 0 || summary.Errors != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRunPollCycleFailureIsolation(t *testing.T) {
	src := &fakeSource{
		mentions: []models.Mention{
			eligibleMention("1", "11"),
			eligibleMention("2", "12"),
			eligibleMention("3", "13"),
		},
		threads: map[string]models.Thread{
			"1": {TargetText: "claim one"},
			"2": {TargetText: "claim two"},
			"3": {TargetText: "claim three"},
		},
	}
	an := &fakeAnalyzer{errFor: map[string]error{"claim two": errors.New("analysis service down")}}
	pub := &fakePublisher{}
	o, st := newTestOrchestrator(t, src, an, pub)

	summary := o.RunPollCycle(context.Background())

	if len(pub.calls) != 2 {
		t.Fatalf("got %d publish calls, want 2 (mentions 1 and 3)", len(pub.calls))
	}
	if pub.calls[0].replyTo != "1" || pub.calls[1].replyTo != "3" {
		t.Errorf("publish order = %+v", pub.calls)
	}
	for _, id := range []string{"1", "3"} {
		if ok, _ := st.IsProcessed(id); !ok {
			t.Errorf("mention %s should be marked processed", id)
		}
	}
	if ok, _ := st.IsProcessed("2"); ok {
		t.Error("failed mention 2 must stay retry-eligible, not marked processed")
	}
	if summary.Errors != 1 || summary.Replied != 2 {
		t.Errorf("summary = %+v", summary)
	}
	// The cursor still advances past the failed mention.
	status, _ := st.Status()
	if status.LastSeenID != "3" {
		t.Errorf("cursor = %q, want %q", status.LastSeenID, "3")
	}
}

func TestRunPollCyclePanicContainment(t *testing.T) {
	src := &fakeSource{
		mentions: []models.Mention{eligibleMention("1", "11"), eligibleMention("2", "12")},
		threads: map[string]models.Thread{
			"1": {TargetText: "boom"},
			"2": {TargetText: "fine"},
		},
	}
	an := &fakeAnalyzer{panicFor: map[string]bool{"boom": true}}
	pub := &fakePublisher{}
	o, _ := newTestOrchestrator(t, src, an, pub)

	summary := o.RunPollCycle(context.Background())
	if summary.Errors != 1 {
		t.Errorf("panic should be counted as one error, summary = %+v", summary)
	}
	if len(pub.calls) != 1 || pub.calls[0].replyTo != "2" {
		t.Errorf("mention after the panic should still be processed, calls = %+v", pub.calls)
	}
}

func TestRunPollCycleCursorCoversIneligible(t *testing.T) {
	ineligible := models.Mention{TweetID: "50", Text: "no trigger here", Author: "x"}
	src := &fakeSource{mentions: []models.Mention{eligibleMention("10", "9"), ineligible}}
	o, st := newTestOrchestrator(t, src, &fakeAnalyzer{}, &fakePublisher{})

	summary := o.RunPollCycle(context.Background())
	if summary.Fetched != 2 || summary.Eligible != 1 {
		t.Errorf("summary = %+v", summary)
	}
	status, _ := st.Status()
	if status.LastSeenID != "50" {
		t.Errorf("cursor = %q, want %q (newest observed, not newest eligible)", status.LastSeenID, "50")
	}
}

func TestRunPollCycleCursorMonotonic(t *testing.T) {
	src := &fakeSource{mentions: []models.Mention{eligibleMention("3", "2")}}
	o, st := newTestOrchestrator(t, src, &fakeAnalyzer{}, &fakePublisher{})

	if err := st.SetLastSeenID("10"); err != nil {
		t.Fatalf("SetLastSeenID failed: %v", err)
	}
	o.RunPollCycle(context.Background())

	status, _ := st.Status()
	if status.LastSeenID != "10" {
		t.Errorf("cursor moved backwards to %q", status.LastSeenID)
	}
}

func TestRunPollCycleProcessesOldestFirst(t *testing.T) {
	// Feed order is newest-first, as RSS feeds are.
	src := &fakeSource{mentions: []models.Mention{
		eligibleMention("30", "3"),
		eligibleMention("20", "2"),
		eligibleMention("10", "1"),
	}}
	pub := &fakePublisher{}
	o, _ := newTestOrchestrator(t, src, &fakeAnalyzer{}, pub)

	o.RunPollCycle(context.Background())
	if len(pub.calls) != 3 {
		t.Fatalf("got %d publish calls, want 3", len(pub.calls))
	}
	for i, want := range []string{"10", "20", "30"} {
		if pub.calls[i].replyTo != want {
			t.Errorf("publish %d went to %s, want %s", i, pub.calls[i].replyTo, want)
		}
	}
}

func TestRunPollCycleFetchErrorAbortsCycle(t *testing.T) {
	src := &fakeSource{fetchErr: errors.New("rsshub unreachable")}
	o, st := newTestOrchestrator(t, src, &fakeAnalyzer{}, &fakePublisher{})

	if err := st.SetLastSeenID("7"); err != nil {
		t.Fatalf("SetLastSeenID failed: %v", err)
	}
	summary := o.RunPollCycle(context.Background())

	if summary.Errors != 1 || summary.Fetched != 0 {
		t.Errorf("summary = %+v", summary)
	}
	status, _ := st.Status()
	if status.LastSeenID != "7" {
		t.Errorf("cursor must not move on fetch failure, got %q", status.LastSeenID)
	}
	if status.LastPollTime != nil {
		t.Error("aborted cycle should not count as a completed poll")
	}
}

func TestRunPollCyclePublishFailureRetryEligible(t *testing.T) {
	src := &fakeSource{mentions: []models.Mention{eligibleMention("1", "9")}, ignoreCursor: true}
	pub := &fakePublisher{errFor: map[string]error{"1": errors.New("duplicate content")}}
	o, st := newTestOrchestrator(t, src, &fakeAnalyzer{}, pub)

	summary := o.RunPollCycle(context.Background())
	if summary.Errors != 1 || summary.Replied != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if ok, _ := st.IsProcessed("1"); ok {
		t.Fatal("publish failure must leave the mention unmarked")
	}

	// Publisher recovered; the re-delivered mention passes eligibility and
	// dedup again and the reply goes out this time.
	pub.errFor = nil
	summary = o.RunPollCycle(context.Background())
	if summary.Replied != 1 {
		t.Errorf("retry cycle summary = %+v", summary)
	}
	if ok, _ := st.IsProcessed("1"); !ok {
		t.Error("mention should be marked processed after the successful retry")
	}
}

func TestRunPollCycleBelowThreshold(t *testing.T) {
	src := &fakeSource{mentions: []models.Mention{eligibleMention("1", "9")}}
	an := &fakeAnalyzer{confidence: 40}
	pub := &fakePublisher{}
	o, st := newTestOrchestrator(t, src, an, pub)

	summary := o.RunPollCycle(context.Background())
	if len(pub.calls) != 0 {
		t.Errorf("below-threshold analysis must not be published, calls = %+v", pub.calls)
	}
	if ok, _ := st.IsProcessed("1"); !ok {
		t.Error("below-threshold mention should be marked processed (permanent skip)")
	}
	if summary.Processed != 1 || summary.Replied != 0 {
		t.Errorf("summary = %+v", summary)
	}
	status, _ := st.Status()
	if status.MentionsProcessed != 0 {
		t.Errorf("mentions_processed = %d, want 0 (no reply attempted)", status.MentionsProcessed)
	}
}

func TestRunPollCycleThresholdConfigurable(t *testing.T) {
	src := &fakeSource{mentions: []models.Mention{eligibleMention("1", "9")}}
	an := &fakeAnalyzer{confidence: 40}
	pub := &fakePublisher{}
	o, _ := newTestOrchestrator(t, src, an, pub, WithConfidenceThreshold(30))

	o.RunPollCycle(context.Background())
	if len(pub.calls) != 1 {
		t.Errorf("threshold 30 should allow a confidence-40 reply, calls = %+v", pub.calls)
	}
}

func TestRunPollCycleParentFetchFailure(t *testing.T) {
	src := &fakeSource{
		mentions:  []models.Mention{eligibleMention("1", "9")},
		threadErr: map[string]error{"1": fmt.Errorf("fetch parent tweet: %w", models.ErrNoFeedEntries)},
	}
	pub := &fakePublisher{}
	o, st := newTestOrchestrator(t, src, &fakeAnalyzer{}, pub)

	summary := o.RunPollCycle(context.Background())
	if len(pub.calls) != 0 || summary.Errors != 1 {
		t.Errorf("summary = %+v, calls = %+v", summary, pub.calls)
	}
	if ok, _ := st.IsProcessed("1"); ok {
		t.Error("unresolvable parent must leave the mention retry-eligible")
	}
}

func TestRunPollCycleSingleFlight(t *testing.T) {
	src := &fakeSource{
		mentions:  []models.Mention{eligibleMention("1", "9")},
		fetchGate: make(chan struct{}),
		fetching:  make(chan struct{}, 1),
	}
	o, _ := newTestOrchestrator(t, src, &fakeAnalyzer{}, &fakePublisher{})

	done := make(chan models.PollSummary, 1)
	go func() { done <- o.RunPollCycle(context.Background()) }()
	<-src.fetching // first cycle is inside the fetch, holding the lock

	second := o.RunPollCycle(context.Background())
	if !second.Skipped || second.Fetched != 0 {
		t.Errorf("concurrent cycle = %+v, want skipped with fetched=0", second)
	}

	close(src.fetchGate)
	first := <-done
	if first.Skipped {
		t.Error("first cycle should have executed")
	}
	if first.Replied != 1 {
		t.Errorf("first cycle summary = %+v", first)
	}
}

// errStore wraps a Store and fails a configurable number of dedup checks
// or mark calls, simulating storage loss mid-cycle that later recovers.
type errStore struct {
	store.Store
	checkFailures int
	markFailures  int
}

func (e *errStore) IsProcessed(tweetID string) (bool, error) {
	if e.checkFailures > 0 {
		e.checkFailures--
		return false, errors.New("disk unavailable")
	}
	return e.Store.IsProcessed(tweetID)
}

func (e *errStore) MarkProcessed(tweetID string) error {
	if e.markFailures > 0 {
		e.markFailures--
		return errors.New("disk unavailable")
	}
	return e.Store.MarkProcessed(tweetID)
}

func TestRunPollCycleStoreErrorAbortsWithoutCursorMovement(t *testing.T) {
	src := &fakeSource{mentions: []models.Mention{
		eligibleMention("1", "9"),
		eligibleMention("2", "9"),
	}}
	pub := &fakePublisher{}
	inner := store.NewInMemoryStore()
	st := &errStore{Store: inner, checkFailures: 1}
	o := NewOrchestrator(st, src, &fakeAnalyzer{}, pub)

	summary := o.RunPollCycle(context.Background())
	if len(pub.calls) != 0 {
		t.Error("store failure must abort before any reply is published")
	}
	if summary.Errors != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if cursor, _ := inner.LastSeenID(); cursor != "" {
		t.Errorf("cursor must not advance past an unrecorded mention, got %q", cursor)
	}
	if status, _ := inner.Status(); status.LastPollTime != nil {
		t.Error("aborted cycle must not record a poll time")
	}

	// The store recovers; both mentions are re-fetched and handled.
	second := o.RunPollCycle(context.Background())
	if second.Replied != 2 || len(pub.calls) != 2 {
		t.Errorf("recovered cycle should reply to both mentions, summary = %+v, publishes = %d", second, len(pub.calls))
	}
	if cursor, _ := inner.LastSeenID(); cursor != "2" {
		t.Errorf("cursor = %q, want %q", cursor, "2")
	}
}

func TestRunPollCycleMarkFailureAbortsWithoutCursorMovement(t *testing.T) {
	src := &fakeSource{mentions: []models.Mention{eligibleMention("1", "9")}}
	pub := &fakePublisher{}
	inner := store.NewInMemoryStore()
	st := &errStore{Store: inner, markFailures: 1}
	o := NewOrchestrator(st, src, &fakeAnalyzer{}, pub)

	summary := o.RunPollCycle(context.Background())
	if summary.Errors != 1 || summary.Processed != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if cursor, _ := inner.LastSeenID(); cursor != "" {
		t.Errorf("cursor must not advance when the mark failed, got %q", cursor)
	}
	if ok, _ := inner.IsProcessed("1"); ok {
		t.Error("mention must not be marked processed after a store failure")
	}

	// Next cycle retries the whole mention once the store recovers.
	second := o.RunPollCycle(context.Background())
	if second.Processed != 1 {
		t.Errorf("recovered cycle summary = %+v", second)
	}
	if ok, _ := inner.IsProcessed("1"); !ok {
		t.Error("mention should be marked processed after the retry")
	}
	if cursor, _ := inner.LastSeenID(); cursor != "1" {
		t.Errorf("cursor = %q, want %q", cursor, "1")
	}
}
