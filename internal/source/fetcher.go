// Package source pulls candidate articles from the content API, one query per topic section.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/tkilaker/newsroom/internal/config"
	"github.com/tkilaker/newsroom/internal/logger"
	"github.com/tkilaker/newsroom/internal/normalize"
)

// Article is one candidate item returned by the content API
type Article struct {
	ExternalID   string
	ContentType  string
	Section      string
	PublishedAt  time.Time
	WebURL       string
	ThumbnailURL string
	Body         string
}

// FetchError is a failure fetching a single section
type FetchError struct {
	Section string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch section %s: %v", e.Section, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options configures a Fetcher
type Options struct {
	BaseURL           string
	APIKey            string
	Sections          []config.Section
	LookbackDays      int
	MinBodyChars      int
	Timeout           time.Duration
	EnrichShortBodies bool
}

// Fetcher queries the content API
type Fetcher struct {
	log        *logger.Logger
	opts       Options
	httpClient *http.Client
	now        func() time.Time
	shuffle    func(n int, swap func(i, j int))
}

// NewFetcher creates a Fetcher
func NewFetcher(opts Options, log *logger.Logger) (*Fetcher, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("missing content api key")
	}
	if len(opts.Sections) == 0 {
		return nil, fmt.Errorf("at least one section is required")
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = "https://content.guardianapis.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MinBodyChars <= 0 {
		opts.MinBodyChars = 500
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 3
	}

	return &Fetcher{
		log:        log.With("component", "source"),
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		now:        time.Now,
		shuffle:    rand.Shuffle,
	}, nil
}

type searchResponse struct {
	Response struct {
		Status  string         `json:"status"`
		Total   int            `json:"total"`
		Message string         `json:"message"`
		Results []searchResult `json:"results"`
	} `json:"response"`
}

type searchResult struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	SectionID          string    `json:"sectionId"`
	WebPublicationDate time.Time `json:"webPublicationDate"`
	WebURL             string    `json:"webUrl"`
	Fields             struct {
		BodyText  string `json:"bodyText"`
		Thumbnail string `json:"thumbnail"`
	} `json:"fields"`
}

// FetchArticles returns up to target candidates drawn across all sections.
// A failing section contributes nothing; the fetch as a whole only fails on a bad target.
func (f *Fetcher) FetchArticles(ctx context.Context, target int) ([]Article, error) {
	if target <= 0 {
		return nil, fmt.Errorf("target count must be positive, got %d", target)
	}

	perSection := (target + len(f.opts.Sections) - 1) / len(f.opts.Sections)

	var all []Article
	for _, section := range f.opts.Sections {
		articles, err := f.fetchSection(ctx, section, perSection)
		if err != nil {
			f.log.Warn("section fetch failed", "section", section.ID, "error", err)
			continue
		}
		f.log.Debug("section fetched", "section", section.ID, "count", len(articles))
		all = append(all, articles...)
	}

	f.shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if len(all) > target {
		all = all[:target]
	}
	return all, nil
}

func (f *Fetcher) fetchSection(ctx context.Context, section config.Section, pageSize int) ([]Article, error) {
	articles, err := f.query(ctx, section, "section", section.ID, pageSize)
	if err == nil && len(articles) > 0 {
		return articles, nil
	}
	if section.FallbackTag == "" {
		if err != nil {
			return nil, &FetchError{Section: section.ID, Err: err}
		}
		return articles, nil
	}

	f.log.Info("trying tag fallback", "section", section.ID, "tag", section.FallbackTag, "primary_error", err)
	fallback, ferr := f.query(ctx, section, "tag", section.FallbackTag, pageSize)
	if ferr != nil {
		return nil, &FetchError{Section: section.ID, Err: errors.Join(err, ferr)}
	}
	return fallback, nil
}

func (f *Fetcher) query(ctx context.Context, section config.Section, filterKey, filterValue string, pageSize int) ([]Article, error) {
	params := url.Values{}
	params.Set("api-key", f.opts.APIKey)
	params.Set("show-fields", "thumbnail,bodyText")
	params.Set("page-size", fmt.Sprintf("%d", pageSize))
	params.Set("order-by", "newest")
	params.Set("from-date", f.now().AddDate(0, 0, -f.opts.LookbackDays).Format("2006-01-02"))
	params.Set(filterKey, filterValue)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.BaseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("content api http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.Response.Status != "ok" {
		return nil, fmt.Errorf("content api status %q: %s", decoded.Response.Status, decoded.Response.Message)
	}

	var articles []Article
	for _, r := range decoded.Response.Results {
		body := strings.TrimSpace(r.Fields.BodyText)
		if normalize.CharacterCount(body) < f.opts.MinBodyChars && f.opts.EnrichShortBodies && r.WebURL != "" {
			body = f.enrich(ctx, r.WebURL, body)
		}
		if normalize.CharacterCount(body) < f.opts.MinBodyChars {
			continue
		}

		sectionID := r.SectionID
		if sectionID == "" {
			sectionID = section.ID
		}
		articles = append(articles, Article{
			ExternalID:   r.ID,
			ContentType:  r.Type,
			Section:      sectionID,
			PublishedAt:  r.WebPublicationDate,
			WebURL:       r.WebURL,
			ThumbnailURL: r.Fields.Thumbnail,
			Body:         body,
		})
	}
	return articles, nil
}

// enrich replaces a stub body with the readable text of the canonical page when that is longer
func (f *Fetcher) enrich(ctx context.Context, pageURL, body string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return body
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return body
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.log.Debug("enrichment fetch failed", "url", pageURL, "error", err)
		return body
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return body
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		f.log.Debug("readability extraction failed", "url", pageURL, "error", err)
		return body
	}

	text := normalize.Clean(article.TextContent)
	if normalize.CharacterCount(text) > normalize.CharacterCount(body) {
		return text
	}
	return body
}
