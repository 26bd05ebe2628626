package rook

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoData is returned when the aggregator answers with an explicit empty
// response for the requested day
var ErrNoData = errors.New("no data for this day")

// ErrThrottled is returned without calling the aggregator while a
// Retry-After pause is in effect
var ErrThrottled = errors.New("rook API paused after 429")

// HTTPError is a non-success response from the aggregator
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("rook API returned status %d: %s", e.StatusCode, e.Body)
}

// IsUnauthorized reports whether err is a 401 from the aggregator
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

// IsTooManyRequests reports whether err is a 429 from the aggregator or a
// call skipped during the following pause
func IsTooManyRequests(err error) bool {
	return errors.Is(err, ErrThrottled) || hasStatus(err, http.StatusTooManyRequests)
}

func hasStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}
