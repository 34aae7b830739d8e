package refresh

import (
	"errors"
	"fmt"
)

// ErrCycleTimeout marks a source that did not answer before the cycle deadline.
var ErrCycleTimeout = errors.New("refresh cycle timed out")

var errNoFetcher = errors.New("no fetcher configured")

// FetchError is a recoverable failure of a single source. The previous
// payload of the source stays in place.
type FetchError struct {
	Source SourceID
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a cycle timeout for any source.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrCycleTimeout)
}
