package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

var summaryColumns = []string{
	"s.external_id", "s.heading", "s.category", "s.summary", "s.tldr", "s.faqs", "s.slug",
	"s.source_word_count", "s.source_character_count", "s.summary_word_count", "s.summary_character_count",
	"s.tokens_used", "s.estimated_cost_usd", "s.status", "s.error", "s.deleted_at", "s.created_at", "s.updated_at",
}

// FeedEntry is a completed summary joined with the article fields readers need
type FeedEntry struct {
	Summary     *Summary
	Section     string
	WebURL      string
	PublishedAt *time.Time
}

// BeginSummary creates or resets the summary shell of an article to PROCESSING.
// Any previous slug and error are cleared so the slug/status invariant holds.
func (db *DB) BeginSummary(ctx context.Context, externalID string, sourceWords, sourceChars int) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO summaries (external_id, status, source_word_count, source_character_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE SET
			status = EXCLUDED.status,
			slug = NULL,
			error = NULL,
			source_word_count = EXCLUDED.source_word_count,
			source_character_count = EXCLUDED.source_character_count,
			updated_at = NOW()
	`, externalID, StatusProcessing, sourceWords, sourceChars)
	if err != nil {
		return fmt.Errorf("failed to begin summary: %w", err)
	}
	return nil
}

// CompleteSummary stores generated content and the slug, moving the record to COMPLETED.
// A slug collision at the unique constraint is reported as ErrSlugConflict.
func (db *DB) CompleteSummary(ctx context.Context, summary *Summary) error {
	if summary.Slug == nil || *summary.Slug == "" {
		return fmt.Errorf("failed to complete summary %s: slug is required", summary.ExternalID)
	}

	faqs, err := json.Marshal(nonNilFAQs(summary.FAQs))
	if err != nil {
		return fmt.Errorf("failed to encode faqs: %w", err)
	}

	query, args, err := db.psql.Update("summaries").
		SetMap(map[string]interface{}{
			"heading":                 summary.Heading,
			"category":                summary.Category,
			"summary":                 summary.Summary,
			"tldr":                    nonNilStrings(summary.TLDR),
			"faqs":                    faqs,
			"slug":                    *summary.Slug,
			"summary_word_count":      summary.SummaryWordCount,
			"summary_character_count": summary.SummaryCharacterCount,
			"tokens_used":             summary.TokensUsed,
			"estimated_cost_usd":      summary.EstimatedCostUSD,
			"status":                  StatusCompleted,
			"error":                   nil,
			"updated_at":              sq.Expr("NOW()"),
		}).
		Where(sq.Eq{"external_id": summary.ExternalID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build summary update: %w", err)
	}

	tag, err := db.pool.Exec(ctx, query, args...)
	if isUniqueViolation(err, slugConstraintName) {
		return ErrSlugConflict
	}
	if err != nil {
		return fmt.Errorf("failed to complete summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	summary.Status = StatusCompleted
	summary.Error = nil
	return nil
}

// FailSummary records a processing failure; content fields are emptied
func (db *DB) FailSummary(ctx context.Context, externalID, message string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE summaries SET
			status = $2,
			error = $3,
			heading = '',
			category = '',
			summary = '',
			tldr = '{}',
			faqs = '[]',
			slug = NULL,
			summary_word_count = 0,
			summary_character_count = 0,
			updated_at = NOW()
		WHERE external_id = $1
	`, externalID, StatusFailed, message)
	if err != nil {
		return fmt.Errorf("failed to record summary failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SlugTaken reports whether slug is held by any summary other than excludeID.
// Soft-deleted summaries keep their slug reserved.
func (db *DB) SlugTaken(ctx context.Context, slug, excludeID string) (bool, error) {
	q := db.psql.Select("1").From("summaries").Where(sq.Eq{"slug": slug})
	if excludeID != "" {
		q = q.Where(sq.NotEq{"external_id": excludeID})
	}
	query, args, err := q.Prefix("SELECT EXISTS(").Suffix(")").ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build slug query: %w", err)
	}

	var taken bool
	if err := db.pool.QueryRow(ctx, query, args...).Scan(&taken); err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return taken, nil
}

// GetSummary retrieves a summary by external id
func (db *DB) GetSummary(ctx context.Context, externalID string) (*Summary, error) {
	return db.getSummaryWhere(ctx, sq.Eq{"s.external_id": externalID})
}

// GetSummaryBySlug retrieves a live completed summary by slug
func (db *DB) GetSummaryBySlug(ctx context.Context, slug string) (*Summary, error) {
	return db.getSummaryWhere(ctx, sq.And{
		sq.Eq{"s.slug": slug},
		sq.Eq{"s.status": StatusCompleted},
		sq.Eq{"s.deleted_at": nil},
	})
}

func (db *DB) getSummaryWhere(ctx context.Context, pred sq.Sqlizer) (*Summary, error) {
	query, args, err := db.psql.Select(summaryColumns...).
		From("summaries s").
		Where(pred).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build summary query: %w", err)
	}

	summary, err := scanSummary(db.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return summary, nil
}

// ListFeedEntries returns the newest completed summaries of published, non-deleted articles
func (db *DB) ListFeedEntries(ctx context.Context, since time.Time, limit int) ([]*FeedEntry, error) {
	columns := append(append([]string{}, summaryColumns...), "a.section", "a.web_url", "a.published_at")
	query, args, err := db.psql.Select(columns...).
		From("summaries s").
		Join("articles a ON a.external_id = s.external_id").
		Where(sq.Eq{
			"s.status":       StatusCompleted,
			"s.deleted_at":   nil,
			"a.deleted_at":   nil,
			"a.is_published": true,
		}).
		Where(sq.GtOrEq{"a.published_at": since}).
		OrderBy("a.published_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build feed query: %w", err)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feed entries: %w", err)
	}
	defer rows.Close()

	var entries []*FeedEntry
	for rows.Next() {
		var (
			s     Summary
			entry FeedEntry
			faqs  []byte
		)
		err := rows.Scan(
			&s.ExternalID, &s.Heading, &s.Category, &s.Summary, &s.TLDR, &faqs, &s.Slug,
			&s.SourceWordCount, &s.SourceCharacterCount, &s.SummaryWordCount, &s.SummaryCharacterCount,
			&s.TokensUsed, &s.EstimatedCostUSD, &s.Status, &s.Error, &s.DeletedAt, &s.CreatedAt, &s.UpdatedAt,
			&entry.Section, &entry.WebURL, &entry.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed entry: %w", err)
		}
		if err := json.Unmarshal(faqs, &s.FAQs); err != nil {
			return nil, fmt.Errorf("failed to decode faqs: %w", err)
		}
		entry.Summary = &s
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed entries: %w", err)
	}

	return entries, nil
}

// ListStaleProcessing returns ids of summaries stuck in PROCESSING since before cutoff
func (db *DB) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	query, args, err := db.psql.Select("external_id").
		From("summaries").
		Where(sq.Eq{"status": StatusProcessing, "deleted_at": nil}).
		Where(sq.Lt{"updated_at": cutoff}).
		OrderBy("updated_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stale query: %w", err)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale summaries: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect stale summaries: %w", err)
	}
	return ids, nil
}

// ClaimStale refreshes a stale PROCESSING summary so that only one caller re-runs it
func (db *DB) ClaimStale(ctx context.Context, externalID string, cutoff time.Time) (bool, error) {
	query, args, err := db.psql.Update("summaries").
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"external_id": externalID, "status": StatusProcessing}).
		Where(sq.Lt{"updated_at": cutoff}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build stale claim: %w", err)
	}

	tag, err := db.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to claim stale summary: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanSummary(row pgx.Row) (*Summary, error) {
	var (
		s    Summary
		faqs []byte
	)
	err := row.Scan(
		&s.ExternalID, &s.Heading, &s.Category, &s.Summary, &s.TLDR, &faqs, &s.Slug,
		&s.SourceWordCount, &s.SourceCharacterCount, &s.SummaryWordCount, &s.SummaryCharacterCount,
		&s.TokensUsed, &s.EstimatedCostUSD, &s.Status, &s.Error, &s.DeletedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(faqs, &s.FAQs); err != nil {
		return nil, fmt.Errorf("failed to decode faqs: %w", err)
	}
	return &s, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilFAQs(v []FAQ) []FAQ {
	if v == nil {
		return []FAQ{}
	}
	return v
}
