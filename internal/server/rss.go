package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/tkilaker/newsroom/internal/config"
	"github.com/tkilaker/newsroom/internal/database"
)

const (
	feedWindow = 30 * 24 * time.Hour
	feedLimit  = 50
)

// handleRSS serves the latest completed summaries as RSS 2.0
func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListFeedEntries(r.Context(), time.Now().Add(-feedWindow), feedLimit)
	if err != nil {
		s.log.Error("failed to fetch feed entries", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch feed entries")
		return
	}

	feed, err := GenerateRSSFeed(entries, s.config)
	if err != nil {
		s.log.Error("failed to generate feed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate feed")
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write([]byte(feed))
}

// GenerateRSSFeed creates an RSS feed from completed summaries
func GenerateRSSFeed(entries []*database.FeedEntry, cfg *config.Config) (string, error) {
	feed := &feeds.Feed{
		Title:       cfg.FeedTitle,
		Link:        &feeds.Link{Href: cfg.FeedLink},
		Description: cfg.FeedDescription,
		Author:      &feeds.Author{Name: cfg.FeedAuthor},
		Created:     time.Now(),
	}

	base := strings.TrimRight(cfg.FeedLink, "/")
	feed.Items = make([]*feeds.Item, 0, len(entries))
	for _, entry := range entries {
		s := entry.Summary
		if s.Slug == nil {
			continue
		}
		link := fmt.Sprintf("%s/articles/%s", base, url.PathEscape(*s.Slug))

		item := &feeds.Item{
			Title:       s.Heading,
			Link:        &feeds.Link{Href: link},
			Source:      &feeds.Link{Href: entry.WebURL},
			Id:          link,
			Description: strings.Join(s.TLDR, " "),
			Content:     s.Summary,
			Created:     s.CreatedAt,
			Updated:     s.UpdatedAt,
		}
		if entry.PublishedAt != nil {
			item.Created = *entry.PublishedAt
		}

		feed.Items = append(feed.Items, item)
	}

	rss, err := feed.ToRss()
	if err != nil {
		return "", fmt.Errorf("failed to generate RSS: %w", err)
	}

	return rss, nil
}
