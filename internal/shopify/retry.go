package shopify

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIError is a definitive error response from the Admin API. Anything with a
// status below 500 (other than 429) is not retried.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 500 {
		body = body[:500]
	}
	return "shopify: " + e.Method + " " + e.Path + " returned " + strconv.Itoa(e.StatusCode) + ": " + body
}

// IsNotFound reports whether err is a 404 from the Admin API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsHandleTaken reports whether err is the 422 returned when a product handle
// collides with an existing one.
func IsHandleTaken(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	return containsAny(apiErr.Body, "has already been taken", "already exists")
}

// IsInvalidImage reports whether err is the 422 Shopify returns for an image
// it cannot fetch or decode.
func IsInvalidImage(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnprocessableEntity ||
		containsAny(apiErr.Body, "Invalid image")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// retryBackoff returns the wait before retrying a transient failure:
// exponential, base 2s doubling per attempt (2s, 4s, 8s, ...), scaled by the
// configured base.
func retryBackoff(attempt int, base time.Duration) time.Duration {
	return base << uint(attempt)
}

// parseRetryAfter extracts the server-suggested wait from a 429 response,
// falling back to the given default.
func parseRetryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	if resp == nil {
		return fallback
	}
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return fallback
	}
	if seconds, err := strconv.ParseFloat(retryAfter, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return time.Until(t)
	}
	return fallback
}
