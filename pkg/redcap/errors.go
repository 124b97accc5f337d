package redcap

import "fmt"

// FetchError wraps any failure to pull data from the REDCap API: network
// errors, timeouts, auth rejections, or non-2xx responses. The cache layer
// recovers from these by serving stale data when a prior entry exists.
type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("redcap %s: upstream returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("redcap %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retriable reports whether retrying the request can plausibly succeed.
// Auth rejections and other 4xx responses are permanent.
func (e *FetchError) Retriable() bool {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return false
	}
	return true
}
