package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/tkilaker/newsroom/internal/database"
)

// memStore is an in-memory Store enforcing the same uniqueness rules as Postgres
type memStore struct {
	mu        sync.Mutex
	markers   map[string]bool
	articles  map[string]*database.Article
	summaries map[string]*database.Summary
	runs      map[string]*database.JobRun
	creates   int
	finishes  int

	failCreateArticle error
	failFinishRun     error
	// slugs reported free by SlugTaken but rejected at CompleteSummary
	racedSlugs map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		markers:    map[string]bool{},
		articles:   map[string]*database.Article{},
		summaries:  map[string]*database.Summary{},
		runs:       map[string]*database.JobRun{},
		racedSlugs: map[string]bool{},
	}
}

func (m *memStore) MarkerExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[id], nil
}

func (m *memStore) ClaimMarker(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markers[id] {
		return false, nil
	}
	m.markers[id] = true
	return true, nil
}

func (m *memStore) CreateArticle(_ context.Context, a *database.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateArticle != nil {
		return m.failCreateArticle
	}
	cp := *a
	m.articles[a.ExternalID] = &cp
	return nil
}

func (m *memStore) GetArticle(_ context.Context, id string) (*database.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) BeginSummary(_ context.Context, id string, words, chars int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[id]
	if !ok {
		s = &database.Summary{ExternalID: id}
		m.summaries[id] = s
	}
	s.Status = database.StatusProcessing
	s.Slug = nil
	s.Error = nil
	s.SourceWordCount = words
	s.SourceCharacterCount = chars
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) CompleteSummary(_ context.Context, sum *database.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.racedSlugs[*sum.Slug] {
		delete(m.racedSlugs, *sum.Slug)
		m.summaries["racer/"+*sum.Slug] = &database.Summary{
			ExternalID: "racer/" + *sum.Slug, Slug: sum.Slug, Status: database.StatusCompleted,
		}
		return database.ErrSlugConflict
	}
	for id, other := range m.summaries {
		if id != sum.ExternalID && other.Slug != nil && *other.Slug == *sum.Slug {
			return database.ErrSlugConflict
		}
	}
	existing, ok := m.summaries[sum.ExternalID]
	if !ok {
		return database.ErrNotFound
	}
	cp := *sum
	cp.Status = database.StatusCompleted
	cp.SourceWordCount = existing.SourceWordCount
	cp.SourceCharacterCount = existing.SourceCharacterCount
	m.summaries[sum.ExternalID] = &cp
	return nil
}

func (m *memStore) FailSummary(_ context.Context, id, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[id]
	if !ok {
		return database.ErrNotFound
	}
	s.Status = database.StatusFailed
	s.Error = &msg
	s.Slug = nil
	s.Heading, s.Category, s.Summary = "", "", ""
	s.TLDR, s.FAQs = nil, nil
	return nil
}

func (m *memStore) SlugTaken(_ context.Context, slug, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.summaries {
		if id != excludeID && s.Slug != nil && *s.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListStaleProcessing(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.summaries {
		if s.Status == database.StatusProcessing && s.UpdatedAt.Before(cutoff) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) ClaimStale(_ context.Context, id string, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[id]
	if !ok || s.Status != database.StatusProcessing || !s.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) CreateJobRun(_ context.Context, run *database.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	run.StartedAt = time.Now()
	cp := *run
	m.runs[run.ID.String()] = &cp
	return nil
}

func (m *memStore) FinishJobRun(_ context.Context, run *database.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishes++
	if m.failFinishRun != nil {
		return m.failFinishRun
	}
	existing, ok := m.runs[run.ID.String()]
	if !ok || existing.Status != database.RunRunning {
		return database.ErrNotFound
	}
	now := time.Now()
	run.FinishedAt = &now
	cp := *run
	m.runs[run.ID.String()] = &cp
	return nil
}

func (m *memStore) completedSlugs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.summaries {
		if s.Status == database.StatusCompleted && s.Slug != nil {
			out = append(out, *s.Slug)
		}
	}
	return out
}
