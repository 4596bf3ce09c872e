// Package summarizer turns article text into a structured summary through an
// OpenAI-compatible chat completions API with a strict JSON schema.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/tkilaker/newsroom/internal/logger"
	"github.com/tkilaker/newsroom/internal/normalize"
)

// DefaultMaxInputChars bounds the article text sent to the model
const DefaultMaxInputChars = 15000

const systemPrompt = `You are a senior news editor. Summarize the article you are given for a general audience.
Return JSON matching the schema:
- heading: a fresh, specific headline (not a copy of the original title)
- category: a short topical label of at most three words
- summary: three to five paragraphs separated by a blank line, neutral and factual
- tldr: exactly three one-sentence takeaways
- faqs: exactly five question and answer pairs a reader might ask
Do not invent facts that are not in the article.`

// FAQ is one question/answer pair
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Result is a validated summary together with its usage accounting
type Result struct {
	Heading          string   `json:"heading"`
	Category         string   `json:"category"`
	Summary          string   `json:"summary"`
	TLDR             []string `json:"tldr"`
	FAQs             []FAQ    `json:"faqs"`
	TokensUsed       int      `json:"-"`
	EstimatedCostUSD float64  `json:"-"`
}

// Options configures a Client
type Options struct {
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	InputCostPer1K  float64
	OutputCostPer1K float64
	MaxInputChars   int
}

// Client calls the chat completions endpoint. It never retries; callers own retry policy.
type Client struct {
	log           *logger.Logger
	api           *openai.Client
	model         string
	inputPer1K    float64
	outputPer1K   float64
	maxInputChars int
}

// NewClient builds a Client from options
func NewClient(opts Options, log *logger.Logger) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("missing summarization api key")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxInput := opts.MaxInputChars
	if maxInput <= 0 {
		maxInput = DefaultMaxInputChars
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = baseURL + "/v1"
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		log:           log.With("component", "summarizer"),
		api:           openai.NewClientWithConfig(cfg),
		model:         model,
		inputPer1K:    opts.InputCostPer1K,
		outputPer1K:   opts.OutputCostPer1K,
		maxInputChars: maxInput,
	}, nil
}

// Summarize sends cleanText for summarization and validates the reply
func (c *Client) Summarize(ctx context.Context, cleanText, section string) (*Result, error) {
	text := normalize.Truncate(cleanText, c.maxInputChars)

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Section: %s\n\nArticle:\n%s", section, text)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "article_summary",
				Strict: true,
				Schema: summarySchema(),
			},
		},
	})
	if err != nil {
		return nil, mapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", msg.Refusal)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	var result Result
	if err := json.Unmarshal([]byte(msg.Content), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	result.Heading = strings.TrimSpace(result.Heading)
	result.Category = strings.TrimSpace(result.Category)
	result.Summary = normalizeParagraphs(result.Summary)

	if err := Validate(&result); err != nil {
		return nil, err
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	result.TokensUsed = tokens
	result.EstimatedCostUSD = EstimateCost(tokens, c.inputPer1K, c.outputPer1K)

	c.log.Debug("summary generated",
		"section", section,
		"input_chars", normalize.CharacterCount(text),
		"tokens", tokens,
		"duration", time.Since(start).String(),
	)

	return &result, nil
}

// mapError turns SDK failures carrying an HTTP status into *APIError
func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Body: truncateBody(apiErr.Message)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Body: truncateBody(body)}
	}
	return fmt.Errorf("summarization request failed: %w", err)
}

func truncateBody(s string) string {
	const limit = 1024
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

// jsonSchema adapts a schema document to the SDK's json.Marshaler field
type jsonSchema map[string]any

func (s jsonSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(s))
}

func summarySchema() jsonSchema {
	str := map[string]any{"type": "string"}
	return jsonSchema{
		"type": "object",
		"properties": map[string]any{
			"heading":  str,
			"category": str,
			"summary":  str,
			"tldr": map[string]any{
				"type":     "array",
				"items":    str,
				"minItems": tldrCount,
				"maxItems": tldrCount,
			},
			"faqs": map[string]any{
				"type":     "array",
				"minItems": faqCount,
				"maxItems": faqCount,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": str,
						"answer":   str,
					},
					"required":             []string{"question", "answer"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"heading", "category", "summary", "tldr", "faqs"},
		"additionalProperties": false,
	}
}
