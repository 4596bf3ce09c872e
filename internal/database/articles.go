package database

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

var articleColumns = []string{
	"external_id", "content_type", "section", "published_at", "web_url", "thumbnail_url",
	"body", "word_count", "character_count", "is_published", "deleted_at", "created_at", "updated_at",
}

// CreateArticle inserts a new article into the database
func (db *DB) CreateArticle(ctx context.Context, article *Article) error {
	query, args, err := db.psql.Insert("articles").
		Columns("external_id", "content_type", "section", "published_at", "web_url", "thumbnail_url",
			"body", "word_count", "character_count", "is_published").
		Values(article.ExternalID, article.ContentType, article.Section, article.PublishedAt, article.WebURL,
			article.ThumbnailURL, article.Body, article.WordCount, article.CharacterCount, article.IsPublished).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build article insert: %w", err)
	}

	if err := db.pool.QueryRow(ctx, query, args...).Scan(&article.CreatedAt, &article.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create article: %w", err)
	}

	return nil
}

// GetArticle retrieves an article by its external id, including soft-deleted ones
func (db *DB) GetArticle(ctx context.Context, externalID string) (*Article, error) {
	query, args, err := db.psql.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"external_id": externalID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build article query: %w", err)
	}

	article, err := scanArticle(db.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}

	return article, nil
}

// SoftDeleteArticle hides an article and its summary together; the dedupe marker is left in place
func (db *DB) SoftDeleteArticle(ctx context.Context, externalID string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE articles SET deleted_at = NOW(), updated_at = NOW() WHERE external_id = $1 AND deleted_at IS NULL`,
		externalID)
	if err != nil {
		return fmt.Errorf("failed to soft delete article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE summaries SET deleted_at = NOW(), updated_at = NOW() WHERE external_id = $1 AND deleted_at IS NULL`,
		externalID); err != nil {
		return fmt.Errorf("failed to soft delete summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit soft delete: %w", err)
	}

	return nil
}

// SetArticlePublished toggles the publication flag of a live article
func (db *DB) SetArticlePublished(ctx context.Context, externalID string, published bool) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE articles SET is_published = $2, updated_at = NOW() WHERE external_id = $1 AND deleted_at IS NULL`,
		externalID, published)
	if err != nil {
		return fmt.Errorf("failed to update article publication: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanArticle(row pgx.Row) (*Article, error) {
	var article Article
	err := row.Scan(
		&article.ExternalID,
		&article.ContentType,
		&article.Section,
		&article.PublishedAt,
		&article.WebURL,
		&article.ThumbnailURL,
		&article.Body,
		&article.WordCount,
		&article.CharacterCount,
		&article.IsPublished,
		&article.DeletedAt,
		&article.CreatedAt,
		&article.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &article, nil
}
