package database

import (
	"time"

	"github.com/google/uuid"
)

// SummaryStatus is the processing state of a Summary
type SummaryStatus string

const (
	StatusPending    SummaryStatus = "PENDING"
	StatusProcessing SummaryStatus = "PROCESSING"
	StatusCompleted  SummaryStatus = "COMPLETED"
	StatusFailed     SummaryStatus = "FAILED"
)

// RunType distinguishes scheduled from manually requested runs
type RunType string

const (
	RunScheduled RunType = "SCHEDULED"
	RunManual    RunType = "MANUAL"
)

// RunStatus is the state of a JobRun
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Article is one news item pulled from the content API
type Article struct {
	ExternalID     string     `db:"external_id"`
	ContentType    string     `db:"content_type"`
	Section        string     `db:"section"`
	PublishedAt    *time.Time `db:"published_at"`
	WebURL         string     `db:"web_url"`
	ThumbnailURL   *string    `db:"thumbnail_url"`
	Body           string     `db:"body"`
	WordCount      int        `db:"word_count"`
	CharacterCount int        `db:"character_count"`
	IsPublished    bool       `db:"is_published"`
	DeletedAt      *time.Time `db:"deleted_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// FAQ is one question/answer pair of a summary
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Summary is the AI-generated companion of an Article, keyed by the same external id
type Summary struct {
	ExternalID            string        `db:"external_id"`
	Heading               string        `db:"heading"`
	Category              string        `db:"category"`
	Summary               string        `db:"summary"`
	TLDR                  []string      `db:"tldr"`
	FAQs                  []FAQ         `db:"faqs"`
	Slug                  *string       `db:"slug"`
	SourceWordCount       int           `db:"source_word_count"`
	SourceCharacterCount  int           `db:"source_character_count"`
	SummaryWordCount      int           `db:"summary_word_count"`
	SummaryCharacterCount int           `db:"summary_character_count"`
	TokensUsed            int           `db:"tokens_used"`
	EstimatedCostUSD      float64       `db:"estimated_cost_usd"`
	Status                SummaryStatus `db:"status"`
	Error                 *string       `db:"error"`
	DeletedAt             *time.Time    `db:"deleted_at"`
	CreatedAt             time.Time     `db:"created_at"`
	UpdatedAt             time.Time     `db:"updated_at"`
}

// JobRun is one ingestion run in the append-only ledger
type JobRun struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	RunType           RunType    `db:"run_type" json:"runType"`
	Status            RunStatus  `db:"status" json:"status"`
	RequestedCount    *int       `db:"requested_count" json:"requestedCount"`
	ArticlesFound     int        `db:"articles_found" json:"articlesFound"`
	ArticlesProcessed int        `db:"articles_processed" json:"articlesProcessed"`
	ArticlesFailed    int        `db:"articles_failed" json:"articlesFailed"`
	ErrorSummary      *string    `db:"error_summary" json:"errorSummary"`
	StartedAt         time.Time  `db:"started_at" json:"startedAt"`
	FinishedAt        *time.Time `db:"finished_at" json:"finishedAt"`
}
