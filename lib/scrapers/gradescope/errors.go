package gradescope

import (
	"errors"
	"fmt"
)

// ErrAuth is returned when gradescope rejects the session cookies on a
// discovery page, either with a 401/403 or by serving the login page to an
// authenticated-only route. Not retryable, the user has to grab fresh
// cookies. File downloads never produce it.
var ErrAuth = errors.New("gradescope rejected the session cookies")

// StatusError is a non-2xx response that is not an authentication failure.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// ParseError means a page did not contain the structural markers scraping
// depends on, most likely because the site layout changed.
type ParseError struct {
	Page    string
	Missing string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: expected %s", e.Page, e.Missing)
}
