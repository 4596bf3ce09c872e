// Package slug derives unique URL identifiers from generated headings.
package slug

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLength is the longest base slug produced by Base
const MaxLength = 60

// DefaultMaxAttempts bounds the collision loop when no bound is configured
const DefaultMaxAttempts = 100

// ErrExhausted is returned when no free suffix was found within the attempt bound
var ErrExhausted = errors.New("slug candidates exhausted")

var (
	disallowed = regexp.MustCompile(`[^a-z0-9\s-]`)
	whitespace = regexp.MustCompile(`\s+`)
	hyphenRuns = regexp.MustCompile(`-+`)
)

// Store answers whether a slug is held by a summary other than excludeID
type Store interface {
	SlugTaken(ctx context.Context, slug, excludeID string) (bool, error)
}

// Assigner picks collision-free slugs. The check is best effort: the unique
// constraint on the slug column is what actually prevents duplicates.
type Assigner struct {
	store       Store
	maxAttempts int
}

// NewAssigner builds an Assigner; maxAttempts <= 0 uses DefaultMaxAttempts
func NewAssigner(store Store, maxAttempts int) *Assigner {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Assigner{store: store, maxAttempts: maxAttempts}
}

// Base turns a heading into its lowercase hyphenated form, at most MaxLength characters
func Base(heading string) string {
	s := strings.ToLower(heading)
	s = disallowed.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = whitespace.ReplaceAllString(s, "-")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxLength {
		s = s[:MaxLength]
	}
	return strings.TrimSuffix(s, "-")
}

// Assign returns the base slug of heading, or the first free "-N" variant of it.
// excludeID lets an article keep a slug it already holds.
func (a *Assigner) Assign(ctx context.Context, heading, excludeID string) (string, error) {
	base := Base(heading)
	if base == "" {
		return "", fmt.Errorf("heading %q has no slug characters", heading)
	}

	candidate := base
	for i := 0; i < a.maxAttempts; i++ {
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		taken, err := a.store.SlugTaken(ctx, candidate, excludeID)
		if err != nil {
			return "", fmt.Errorf("failed to check slug %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: %s after %d attempts", ErrExhausted, base, a.maxAttempts)
}
