package refresh

import "time"

// Observer receives refresh instrumentation. Implementations must be safe
// for concurrent use when shared between coordinators.
type Observer interface {
	ObserveCycle(device string, d time.Duration)
	ObserveFetch(device string, source SourceID, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveCycle(string, time.Duration) {}
func (nopObserver) ObserveFetch(string, SourceID, error) {}
