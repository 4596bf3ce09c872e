package summarizer

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when the model output is not the expected JSON document
var ErrMalformedResponse = errors.New("malformed summarization response")

// ValidationError reports a summary that does not satisfy the output contract
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid summary: " + e.Reason
}

// APIError is a non-2xx reply from the language-model API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("summarization api http %d: %s", e.StatusCode, e.Body)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
