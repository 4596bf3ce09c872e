package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tkilaker/newsroom/internal/database"
	"github.com/tkilaker/newsroom/internal/logger"
	"github.com/tkilaker/newsroom/internal/source"
	"github.com/tkilaker/newsroom/internal/summarizer"
)

type fakeFetcher struct {
	articles []source.Article
	err      error
}

func (f *fakeFetcher) FetchArticles(_ context.Context, target int) ([]source.Article, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.articles) > target {
		return f.articles[:target], nil
	}
	return f.articles, nil
}

type fakeSummarizer struct {
	mu       sync.Mutex
	calls    map[string]int
	failFor  map[string]error
	headings map[string]string
}

func newFakeSummarizer() *fakeSummarizer {
	return &fakeSummarizer{calls: map[string]int{}, failFor: map[string]error{}, headings: map[string]string{}}
}

// Summarize keys its behaviour on the first word of the text, which the tests set to the article id.
func (f *fakeSummarizer) Summarize(_ context.Context, text, section string) (*summarizer.Result, error) {
	id := strings.Fields(text)[0]
	f.mu.Lock()
	f.calls[id]++
	err := f.failFor[id]
	heading, ok := f.headings[id]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		heading = "Story about " + id
	}
	return &summarizer.Result{
		Heading:          heading,
		Category:         "World",
		Summary:          strings.Repeat("A paragraph of summary text. ", 10),
		TLDR:             []string{"one", "two", "three"},
		FAQs:             make([]summarizer.FAQ, 5),
		TokensUsed:       1000,
		EstimatedCostUSD: 0.000285,
	}, nil
}

func candidates(n int) []source.Article {
	out := make([]source.Article, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("world-%02d", i)
		out = append(out, source.Article{
			ExternalID:  id,
			ContentType: "article",
			Section:     "world",
			PublishedAt: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
			WebURL:      "https://example.com/" + id,
			Body:        "<p>" + id + " body   text</p>&nbsp;more",
		})
	}
	return out
}

func newTestOrchestrator(store *memStore, fetcher Fetcher, sum Summarizer) *Orchestrator {
	return New(store, fetcher, sum, nil, Config{DefaultCount: 12}, logger.Nop())
}

func TestRunAggregatesOutcomes(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.markers["world-03"] = true
	store.markers["world-07"] = true

	sum := newFakeSummarizer()
	sum.failFor["world-05"] = &summarizer.ValidationError{Reason: "tldr count mismatch"}

	o := newTestOrchestrator(store, &fakeFetcher{articles: candidates(10)}, sum)
	res, err := o.Run(context.Background(), RunRequest{Count: 10, Type: database.RunManual})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.ArticlesFound != 10 || res.ArticlesProcessed != 7 || res.ArticlesFailed != 1 {
		t.Fatalf("unexpected counts found=%d processed=%d failed=%d",
			res.ArticlesFound, res.ArticlesProcessed, res.ArticlesFailed)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "world-05") {
		t.Errorf("unexpected errors %v", res.Errors)
	}

	if sum.calls["world-03"] != 0 || sum.calls["world-07"] != 0 {
		t.Error("duplicates must not reach the summarizer")
	}
	if _, ok := store.articles["world-03"]; ok {
		t.Error("duplicate article was stored")
	}

	failed := store.summaries["world-05"]
	if failed.Status != database.StatusFailed || failed.Slug != nil || failed.Error == nil {
		t.Errorf("unexpected failed summary %+v", failed)
	}
	if !store.markers["world-05"] {
		t.Error("marker of a failed article must remain")
	}

	done := store.summaries["world-00"]
	if done.Status != database.StatusCompleted || done.Slug == nil || *done.Slug != "story-about-world-00" {
		t.Errorf("unexpected completed summary %+v", done)
	}
	if done.SourceWordCount != 4 || done.SummaryWordCount != 50 {
		t.Errorf("unexpected counts source=%d summary=%d", done.SourceWordCount, done.SummaryWordCount)
	}

	if store.creates != 1 || store.finishes != 1 {
		t.Errorf("expected one ledger start and finish, got %d/%d", store.creates, store.finishes)
	}
	run := store.runs[res.RunID]
	if run.Status != database.RunCompleted || run.ArticlesProcessed != 7 || run.ArticlesFailed != 1 || run.ArticlesFound != 10 {
		t.Errorf("unexpected ledger row %+v", run)
	}
	if run.RequestedCount == nil || *run.RequestedCount != 10 {
		t.Errorf("manual run should keep requested count")
	}
	if run.ErrorSummary == nil || !strings.Contains(*run.ErrorSummary, "tldr count mismatch") {
		t.Errorf("error summary missing: %v", run.ErrorSummary)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	sum := newFakeSummarizer()
	sum.failFor["world-01"] = errors.New("upstream timeout")
	fetcher := &fakeFetcher{articles: candidates(3)}
	o := newTestOrchestrator(store, fetcher, sum)

	first, err := o.Run(context.Background(), RunRequest{Count: 3})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.ArticlesProcessed != 2 || first.ArticlesFailed != 1 {
		t.Fatalf("unexpected first run %+v", first)
	}

	second, err := o.Run(context.Background(), RunRequest{Count: 3})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.ArticlesFound != 3 || second.ArticlesProcessed != 0 || second.ArticlesFailed != 0 {
		t.Fatalf("second run should skip everything, got %+v", second)
	}

	for _, id := range []string{"world-00", "world-01", "world-02"} {
		if sum.calls[id] != 1 {
			t.Errorf("%s summarized %d times", id, sum.calls[id])
		}
	}
	if len(store.articles) != 3 || len(store.summaries) != 3 {
		t.Errorf("expected 3 article/summary pairs, got %d/%d", len(store.articles), len(store.summaries))
	}
}

func TestRunConcurrentRunsClaimOnce(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	sum := newFakeSummarizer()
	o := newTestOrchestrator(store, &fakeFetcher{articles: candidates(5)}, sum)

	var wg sync.WaitGroup
	results := make([]*RunResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.Run(context.Background(), RunRequest{Count: 5})
			if err != nil {
				t.Errorf("Run: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if results[0] == nil || results[1] == nil {
		t.Fatal("missing run result")
	}
	if total := results[0].ArticlesProcessed + results[1].ArticlesProcessed; total != 5 {
		t.Errorf("expected 5 articles processed across runs, got %d", total)
	}
	for id, n := range sum.calls {
		if n != 1 {
			t.Errorf("%s summarized %d times", id, n)
		}
	}
}

func TestRunAssignsUniqueSlugs(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	sum := newFakeSummarizer()
	for _, a := range candidates(4) {
		sum.headings[a.ExternalID] = "Breaking News"
	}
	o := newTestOrchestrator(store, &fakeFetcher{articles: candidates(4)}, sum)

	if _, err := o.Run(context.Background(), RunRequest{Count: 4}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	seen := map[string]bool{}
	for _, s := range store.completedSlugs() {
		if seen[s] {
			t.Errorf("duplicate slug %q", s)
		}
		seen[s] = true
	}
	for _, want := range []string{"breaking-news", "breaking-news-1", "breaking-news-2", "breaking-news-3"} {
		if !seen[want] {
			t.Errorf("missing slug %q", want)
		}
	}
}

func TestRunRetriesSlugConflict(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.racedSlugs["climate-crisis-deepens"] = true
	sum := newFakeSummarizer()
	sum.headings["world-00"] = "Climate Crisis Deepens"

	o := newTestOrchestrator(store, &fakeFetcher{articles: candidates(1)}, sum)
	res, err := o.Run(context.Background(), RunRequest{Count: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ArticlesProcessed != 1 {
		t.Fatalf("expected article to complete after slug retry, got %+v", res)
	}
	got := store.summaries["world-00"]
	if got.Slug == nil || *got.Slug != "climate-crisis-deepens-1" {
		t.Errorf("expected climate-crisis-deepens-1, got %v", got.Slug)
	}
}

func TestRunContinuesAfterPersistenceFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.failCreateArticle = errors.New("disk full")
	o := newTestOrchestrator(store, &fakeFetcher{articles: candidates(3)}, newFakeSummarizer())

	res, err := o.Run(context.Background(), RunRequest{Count: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ArticlesFailed != 3 || len(res.Errors) != 3 {
		t.Errorf("expected 3 failures, got %+v", res)
	}
}

func TestRunFetchFailureMarksRunFailed(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	o := newTestOrchestrator(store, &fakeFetcher{err: errors.New("no sections")}, newFakeSummarizer())

	res, err := o.Run(context.Background(), RunRequest{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ArticlesFound != 0 || len(res.Errors) != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	run := store.runs[res.RunID]
	if run.Status != database.RunFailed {
		t.Errorf("expected FAILED run, got %s", run.Status)
	}
	if run.RequestedCount != nil {
		t.Error("scheduled run should not record a requested count")
	}
}

func TestRunReportsBookkeepingFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.failFinishRun = errors.New("connection reset")
	o := newTestOrchestrator(store, &fakeFetcher{articles: candidates(2)}, newFakeSummarizer())

	res, err := o.Run(context.Background(), RunRequest{Count: 2})
	if err == nil {
		t.Fatal("expected bookkeeping error")
	}
	if res == nil || res.ArticlesProcessed != 2 {
		t.Errorf("result should still carry counts, got %+v", res)
	}
	if o.Progress().IsActive() {
		t.Error("tracker should be inactive after the run")
	}
}

func TestRunStopsStartingArticlesWhenCancelled(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	sum := newFakeSummarizer()
	o := newTestOrchestrator(store, &fakeFetcher{articles: candidates(3)}, sum)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.Run(ctx, RunRequest{Count: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ArticlesProcessed != 0 || len(store.markers) != 0 {
		t.Errorf("no article should be claimed after cancellation, got %+v", res)
	}
	if store.runs[res.RunID].Status != database.RunFailed {
		t.Error("interrupted run should be recorded as FAILED")
	}
}

func TestReprocess(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	sum := newFakeSummarizer()
	sum.failFor["world-00"] = errors.New("rate limited")
	o := newTestOrchestrator(store, &fakeFetcher{articles: candidates(1)}, sum)

	if _, err := o.Run(context.Background(), RunRequest{Count: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.summaries["world-00"].Status != database.StatusFailed {
		t.Fatal("expected initial failure")
	}

	delete(sum.failFor, "world-00")
	outcome, err := o.Reprocess(context.Background(), "world-00")
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("Reprocess: %s %v", outcome, err)
	}
	first := *store.summaries["world-00"].Slug

	outcome, err = o.Reprocess(context.Background(), "world-00")
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("second Reprocess: %s %v", outcome, err)
	}
	if got := *store.summaries["world-00"].Slug; got != first {
		t.Errorf("reprocessing should keep slug %q, got %q", first, got)
	}
}

func TestReprocessRejectsDeleted(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	deleted := time.Now()
	store.articles["gone"] = &database.Article{ExternalID: "gone", DeletedAt: &deleted}
	o := newTestOrchestrator(store, &fakeFetcher{}, newFakeSummarizer())

	if _, err := o.Reprocess(context.Background(), "gone"); !errors.Is(err, ErrArticleDeleted) {
		t.Fatalf("expected ErrArticleDeleted, got %v", err)
	}
	if _, err := o.Reprocess(context.Background(), "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecoverStale(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.articles["stuck"] = &database.Article{ExternalID: "stuck", Section: "world", Body: "stuck article body"}
	store.summaries["stuck"] = &database.Summary{
		ExternalID: "stuck", Status: database.StatusProcessing, UpdatedAt: time.Now().Add(-2 * time.Hour),
	}
	store.articles["fresh"] = &database.Article{ExternalID: "fresh", Section: "world", Body: "fresh article body"}
	store.summaries["fresh"] = &database.Summary{
		ExternalID: "fresh", Status: database.StatusProcessing, UpdatedAt: time.Now(),
	}

	sum := newFakeSummarizer()
	o := newTestOrchestrator(store, &fakeFetcher{}, sum)

	res, err := o.RecoverStale(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if res.Claimed != 1 || res.Completed != 1 || res.Failed != 0 {
		t.Errorf("unexpected recovery %+v", res)
	}
	if store.summaries["stuck"].Status != database.StatusCompleted {
		t.Error("stale summary should be completed")
	}
	if store.summaries["fresh"].Status != database.StatusProcessing || sum.calls["fresh"] != 0 {
		t.Error("fresh PROCESSING summary must not be touched")
	}

	if _, err := o.RecoverStale(context.Background(), 0); err == nil {
		t.Error("expected error for zero threshold")
	}
}

func TestRecoverStaleFailsRecordWithoutArticle(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.summaries["orphan"] = &database.Summary{
		ExternalID: "orphan", Status: database.StatusProcessing, UpdatedAt: time.Now().Add(-2 * time.Hour),
	}

	sum := newFakeSummarizer()
	o := newTestOrchestrator(store, &fakeFetcher{}, sum)

	res, err := o.RecoverStale(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if res.Claimed != 1 || res.Failed != 1 || len(res.Errors) != 1 {
		t.Errorf("unexpected recovery %+v", res)
	}

	got := store.summaries["orphan"]
	if got.Status != database.StatusFailed {
		t.Errorf("expected FAILED, got %s", got.Status)
	}
	if got.Error == nil || !strings.Contains(*got.Error, database.ErrNotFound.Error()) {
		t.Errorf("expected the lookup error on the record, got %v", got.Error)
	}
	if sum.calls["orphan"] != 0 {
		t.Error("summarizer must not run without an article")
	}
}

func TestProgressTrackerReflectsRun(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.markers["world-01"] = true
	o := newTestOrchestrator(store, &fakeFetcher{articles: candidates(3)}, newFakeSummarizer())

	ch := o.Progress().Subscribe()
	defer o.Progress().Unsubscribe(ch)
	if initial := <-ch; initial.Status != StatusIdle {
		t.Errorf("expected idle snapshot, got %s", initial.Status)
	}

	if _, err := o.Run(context.Background(), RunRequest{Count: 3}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := o.Progress().GetCurrent()
	if got.Status != StatusCompleted || got.Processed != 2 || got.Skipped != 1 || got.TotalItems != 3 {
		t.Errorf("unexpected final progress %+v", got)
	}
	if o.Progress().IsActive() {
		t.Error("tracker should be inactive")
	}
}
