package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared across subsystems.
var (
	ErrNotFound          = errors.New("not found")
	ErrNotResumable      = errors.New("job is not resumable")
	ErrCircuitOpen       = errors.New("listing circuit breaker open")
	ErrCheckpointPersist = errors.New("checkpoint persistence failed")
	ErrFetch             = errors.New("fetch failed")
	ErrDownload          = errors.New("download failed")
	ErrExtraction        = errors.New("extraction failed")
)

// FetchError reports a failed page fetch with the HTTP status when known.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrFetch) match any FetchError.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// Permanent reports whether retrying the request cannot help.
func (e *FetchError) Permanent() bool {
	if e.StatusCode == 0 {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}
