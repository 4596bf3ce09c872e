package summarizer

import (
	"strings"
	"unicode/utf8"
)

const (
	minHeadingChars  = 5
	maxCategoryWords = 3
	minSummaryChars  = 200
	tldrCount        = 3
	faqCount         = 5
)

// Validate checks a result against the output contract and returns the first violation
func Validate(r *Result) error {
	if utf8.RuneCountInString(strings.TrimSpace(r.Heading)) < minHeadingChars {
		return &ValidationError{Reason: "heading too short"}
	}

	words := len(strings.Fields(r.Category))
	if words == 0 {
		return &ValidationError{Reason: "category missing"}
	}
	if words > maxCategoryWords {
		return &ValidationError{Reason: "category too long"}
	}

	if utf8.RuneCountInString(strings.TrimSpace(r.Summary)) < minSummaryChars {
		return &ValidationError{Reason: "summary too short"}
	}

	if len(r.TLDR) != tldrCount {
		return &ValidationError{Reason: "tldr count mismatch"}
	}
	for _, bullet := range r.TLDR {
		if strings.TrimSpace(bullet) == "" {
			return &ValidationError{Reason: "tldr count mismatch"}
		}
	}

	if len(r.FAQs) != faqCount {
		return &ValidationError{Reason: "faq incomplete"}
	}
	for _, faq := range r.FAQs {
		if strings.TrimSpace(faq.Question) == "" || strings.TrimSpace(faq.Answer) == "" {
			return &ValidationError{Reason: "faq incomplete"}
		}
	}

	return nil
}

// normalizeParagraphs trims each paragraph and rejoins them with a single blank line
func normalizeParagraphs(summary string) string {
	summary = strings.ReplaceAll(summary, "\r\n", "\n")
	var paragraphs []string
	for _, p := range strings.Split(summary, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}
