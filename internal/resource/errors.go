package resource

import (
	"fmt"
)

// FetchKind classifies a failed fetch.
type FetchKind int

const (
	// FetchNetwork covers DNS, connection, TLS and timeout failures, and bodies that could not be read.
	FetchNetwork FetchKind = iota
	// FetchHTTPStatus means the server answered with a non-2xx status.
	FetchHTTPStatus
	// FetchTooLarge means the body exceeded the configured byte cap.
	FetchTooLarge
)

func (k FetchKind) String() string {
	switch k {
	case FetchNetwork:
		return "network"
	case FetchHTTPStatus:
		return "http_status"
	case FetchTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// FetchError is returned by Fetch when the resource could not be retrieved.
type FetchError struct {
	Kind       FetchKind
	URL        string
	StatusCode int   // Set for FetchHTTPStatus
	Limit      int64 // Set for FetchTooLarge
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchHTTPStatus:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	case FetchTooLarge:
		return fmt.Sprintf("fetch %s: body exceeds %d bytes", e.URL, e.Limit)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// temporary reports whether a retry may succeed.
func (e *FetchError) temporary() bool {
	switch e.Kind {
	case FetchNetwork:
		return true
	case FetchHTTPStatus:
		return e.StatusCode == 429 || e.StatusCode >= 500
	default:
		return false
	}
}
