// Package pipeline runs ingestion: fetch, dedupe, store, summarize and record each article.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tkilaker/newsroom/internal/database"
	"github.com/tkilaker/newsroom/internal/logger"
	"github.com/tkilaker/newsroom/internal/normalize"
	"github.com/tkilaker/newsroom/internal/slug"
	"github.com/tkilaker/newsroom/internal/source"
	"github.com/tkilaker/newsroom/internal/summarizer"
)

const (
	slugConflictRetries = 3
	staleBatchSize      = 50
)

// ErrArticleDeleted is returned when re-processing a soft-deleted article
var ErrArticleDeleted = errors.New("article is deleted")

// Store is the persistence the orchestrator needs
type Store interface {
	LedgerStore
	slug.Store

	MarkerExists(ctx context.Context, externalID string) (bool, error)
	ClaimMarker(ctx context.Context, externalID string) (bool, error)
	CreateArticle(ctx context.Context, article *database.Article) error
	GetArticle(ctx context.Context, externalID string) (*database.Article, error)
	BeginSummary(ctx context.Context, externalID string, sourceWords, sourceChars int) error
	CompleteSummary(ctx context.Context, summary *database.Summary) error
	FailSummary(ctx context.Context, externalID, message string) error
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	ClaimStale(ctx context.Context, externalID string, cutoff time.Time) (bool, error)
}

// Fetcher supplies candidate articles
type Fetcher interface {
	FetchArticles(ctx context.Context, target int) ([]source.Article, error)
}

// Summarizer produces a validated summary for article text
type Summarizer interface {
	Summarize(ctx context.Context, cleanText, section string) (*summarizer.Result, error)
}

// Outcome is the terminal state of one candidate within a run
type Outcome string

const (
	OutcomeSkipped   Outcome = "SKIPPED"
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeFailed    Outcome = "FAILED"
)

// RunRequest asks for one ingestion run
type RunRequest struct {
	Count int
	Type  database.RunType
}

// RunResult is the aggregate returned to the trigger
type RunResult struct {
	RunID             string   `json:"runId"`
	ArticlesFound     int      `json:"articlesFound"`
	ArticlesProcessed int      `json:"articlesProcessed"`
	ArticlesFailed    int      `json:"articlesFailed"`
	Errors            []string `json:"errors"`
}

// RecoveryResult reports a stale PROCESSING sweep
type RecoveryResult struct {
	Claimed   int      `json:"claimed"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// Orchestrator ties the fetcher, summarizer, slug assigner and store together
type Orchestrator struct {
	store        Store
	fetcher      Fetcher
	summarizer   Summarizer
	slugs        *slug.Assigner
	ledger       *Ledger
	progress     *ProgressTracker
	log          *logger.Logger
	defaultCount int
	now          func() time.Time
}

// Config holds orchestrator settings
type Config struct {
	DefaultCount    int
	SlugMaxAttempts int
}

// New creates an Orchestrator
func New(store Store, fetcher Fetcher, sum Summarizer, progress *ProgressTracker, cfg Config, log *logger.Logger) *Orchestrator {
	if progress == nil {
		progress = NewProgressTracker()
	}
	if cfg.DefaultCount <= 0 {
		cfg.DefaultCount = 12
	}
	return &Orchestrator{
		store:        store,
		fetcher:      fetcher,
		summarizer:   sum,
		slugs:        slug.NewAssigner(store, cfg.SlugMaxAttempts),
		ledger:       NewLedger(store),
		progress:     progress,
		log:          log.With("component", "pipeline"),
		defaultCount: cfg.DefaultCount,
		now:          time.Now,
	}
}

// Progress exposes the run tracker
func (o *Orchestrator) Progress() *ProgressTracker {
	return o.progress
}

// Run executes one ingestion run. Article-level failures are folded into the result;
// an error is returned only when the run bookkeeping itself fails.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	count := req.Count
	if count <= 0 {
		count = o.defaultCount
	}
	if req.Type == "" {
		req.Type = database.RunScheduled
	}
	var requested *int
	if req.Count > 0 {
		requested = &req.Count
	}

	handle, err := o.ledger.StartRun(ctx, req.Type, requested)
	if err != nil {
		return nil, err
	}

	runID := handle.ID().String()
	log := o.log.With("run_id", runID, "run_type", string(req.Type))
	log.Info("ingestion run started", "count", count)
	o.progress.Begin(runID, string(req.Type))

	result := &RunResult{RunID: runID, Errors: []string{}}
	counters := Counters{}

	o.progress.UpdateStatus(runID, StatusFetching, fmt.Sprintf("fetching %d articles", count))
	candidates, err := o.fetcher.FetchArticles(ctx, count)
	if err != nil {
		log.Error("fetch failed", "error", err)
		result.Errors = append(result.Errors, fmt.Sprintf("fetch: %v", err))
		counters.RunFailed = true
	}
	result.ArticlesFound = len(candidates)

	o.progress.UpdateStatus(runID, StatusProcessing, fmt.Sprintf("processing %d articles", len(candidates)))
	for i, candidate := range candidates {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("run interrupted before %s: %v", candidate.ExternalID, ctx.Err()))
			counters.RunFailed = true
			break
		}
		o.progress.UpdateProgress(runID, i+1, len(candidates), candidate.ExternalID)

		outcome, err := o.processArticle(ctx, candidate)
		o.progress.Record(runID, outcome)
		switch outcome {
		case OutcomeCompleted:
			result.ArticlesProcessed++
		case OutcomeFailed:
			result.ArticlesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", candidate.ExternalID, err))
			log.Warn("article failed", "external_id", candidate.ExternalID, "error", err)
		case OutcomeSkipped:
			log.Debug("article skipped", "external_id", candidate.ExternalID)
		}
	}

	counters.Found = result.ArticlesFound
	counters.Processed = result.ArticlesProcessed
	counters.Failed = result.ArticlesFailed
	counters.Errors = result.Errors

	if err := o.ledger.FinishRun(context.WithoutCancel(ctx), handle, counters); err != nil {
		o.progress.Finish(runID, StatusFailed, err.Error())
		return result, err
	}

	status := StatusCompleted
	if counters.RunFailed {
		status = StatusFailed
	}
	o.progress.Finish(runID, status, fmt.Sprintf("%d processed, %d failed", result.ArticlesProcessed, result.ArticlesFailed))
	log.Info("ingestion run finished",
		"found", result.ArticlesFound,
		"processed", result.ArticlesProcessed,
		"failed", result.ArticlesFailed,
	)
	return result, nil
}

// processArticle moves one candidate through dedupe, storage and summarization
func (o *Orchestrator) processArticle(ctx context.Context, candidate source.Article) (Outcome, error) {
	exists, err := o.store.MarkerExists(ctx, candidate.ExternalID)
	if err != nil {
		return OutcomeFailed, err
	}
	if exists {
		return OutcomeSkipped, nil
	}

	claimed, err := o.store.ClaimMarker(ctx, candidate.ExternalID)
	if err != nil {
		return OutcomeFailed, err
	}
	if !claimed {
		return OutcomeSkipped, nil
	}

	// The marker is committed; the rest of this article runs to completion.
	ctx = context.WithoutCancel(ctx)

	text := normalize.Normalize(candidate.Body)
	article := &database.Article{
		ExternalID:     candidate.ExternalID,
		ContentType:    candidate.ContentType,
		Section:        candidate.Section,
		WebURL:         candidate.WebURL,
		Body:           candidate.Body,
		WordCount:      text.WordCount,
		CharacterCount: text.CharacterCount,
		IsPublished:    true,
	}
	if !candidate.PublishedAt.IsZero() {
		published := candidate.PublishedAt
		article.PublishedAt = &published
	}
	if candidate.ThumbnailURL != "" {
		thumb := candidate.ThumbnailURL
		article.ThumbnailURL = &thumb
	}

	if err := o.store.CreateArticle(ctx, article); err != nil {
		return OutcomeFailed, err
	}
	if err := o.store.BeginSummary(ctx, article.ExternalID, text.WordCount, text.CharacterCount); err != nil {
		return OutcomeFailed, err
	}

	return o.summarize(ctx, article.ExternalID, article.Section, text.Clean)
}

// summarize runs the summarizer for a record already in PROCESSING and stores the outcome
func (o *Orchestrator) summarize(ctx context.Context, externalID, section, cleanText string) (Outcome, error) {
	result, err := o.summarizer.Summarize(ctx, cleanText, section)
	if err == nil {
		err = o.complete(ctx, externalID, result)
	}
	if err == nil {
		return OutcomeCompleted, nil
	}

	if ferr := o.store.FailSummary(ctx, externalID, err.Error()); ferr != nil {
		o.log.Error("failed to record summary failure", "external_id", externalID, "error", ferr)
		return OutcomeFailed, errors.Join(err, ferr)
	}
	return OutcomeFailed, err
}

// complete assigns a slug and stores the summary, re-assigning when the unique constraint rejects the slug
func (o *Orchestrator) complete(ctx context.Context, externalID string, result *summarizer.Result) error {
	faqs := make([]database.FAQ, 0, len(result.FAQs))
	for _, f := range result.FAQs {
		faqs = append(faqs, database.FAQ{Question: f.Question, Answer: f.Answer})
	}
	summary := &database.Summary{
		ExternalID:            externalID,
		Heading:               result.Heading,
		Category:              result.Category,
		Summary:               result.Summary,
		TLDR:                  result.TLDR,
		FAQs:                  faqs,
		SummaryWordCount:      normalize.WordCount(result.Summary),
		SummaryCharacterCount: normalize.CharacterCount(result.Summary),
		TokensUsed:            result.TokensUsed,
		EstimatedCostUSD:      result.EstimatedCostUSD,
	}

	for attempt := 1; ; attempt++ {
		s, err := o.slugs.Assign(ctx, result.Heading, externalID)
		if err != nil {
			return fmt.Errorf("failed to assign slug: %w", err)
		}
		summary.Slug = &s

		err = o.store.CompleteSummary(ctx, summary)
		if err == nil {
			return nil
		}
		if !errors.Is(err, database.ErrSlugConflict) || attempt >= slugConflictRetries {
			return err
		}
		o.log.Warn("slug taken concurrently, reassigning", "external_id", externalID, "slug", s)
	}
}

// Reprocess re-summarizes a stored article on explicit request. It is the only path
// that rewrites a COMPLETED summary and it ignores the processed marker.
func (o *Orchestrator) Reprocess(ctx context.Context, externalID string) (Outcome, error) {
	article, err := o.store.GetArticle(ctx, externalID)
	if err != nil {
		return OutcomeFailed, err
	}
	if article.DeletedAt != nil {
		return OutcomeFailed, ErrArticleDeleted
	}

	ctx = context.WithoutCancel(ctx)
	text := normalize.Normalize(article.Body)
	if err := o.store.BeginSummary(ctx, externalID, text.WordCount, text.CharacterCount); err != nil {
		return OutcomeFailed, err
	}

	outcome, err := o.summarize(ctx, externalID, article.Section, text.Clean)
	o.log.Info("article reprocessed", "external_id", externalID, "outcome", string(outcome), "error", err)
	return outcome, err
}

// RecoverStale re-runs summaries stuck in PROCESSING since before olderThan ago.
// Each record is claimed atomically so concurrent sweeps do not double-process it.
func (o *Orchestrator) RecoverStale(ctx context.Context, olderThan time.Duration) (*RecoveryResult, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("stale threshold must be positive")
	}
	cutoff := o.now().Add(-olderThan)

	ids, err := o.store.ListStaleProcessing(ctx, cutoff, staleBatchSize)
	if err != nil {
		return nil, err
	}

	res := &RecoveryResult{Errors: []string{}}
	for _, id := range ids {
		claimed, err := o.store.ClaimStale(ctx, id, cutoff)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		if !claimed {
			continue
		}
		res.Claimed++

		workCtx := context.WithoutCancel(ctx)
		article, err := o.store.GetArticle(workCtx, id)
		if err != nil {
			if ferr := o.store.FailSummary(workCtx, id, err.Error()); ferr != nil {
				o.log.Error("failed to record summary failure", "external_id", id, "error", ferr)
				err = errors.Join(err, ferr)
			}
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}

		text := normalize.Normalize(article.Body)
		outcome, err := o.summarize(workCtx, id, article.Section, text.Clean)
		if outcome == OutcomeCompleted {
			res.Completed++
		} else {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", id, err))
		}
	}

	if res.Claimed > 0 {
		o.log.Info("stale summaries recovered", "claimed", res.Claimed, "completed", res.Completed, "failed", res.Failed)
	}
	return res, nil
}
