package refresh

import (
	"context"
	"time"

	"github.com/JHOFER-Cloud/mypv-exporter/internal/device"
)

// SourceID identifies one polled device resource.
type SourceID string

const (
	LiveData     SourceID = "data"
	DeviceInfo   SourceID = "info"
	SetupConfig  SourceID = "setup"
	FirmwareInfo SourceID = "firmware"
)

// Sources lists every source in fetch order.
var Sources = []SourceID{LiveData, DeviceInfo, SetupConfig, FirmwareInfo}

// Once is the interval of a source that is fetched a single time and then
// cached for the lifetime of the coordinator.
const Once time.Duration = -1

// Default refresh intervals
const (
	DefaultLiveDataInterval = 10 * time.Second
	DefaultSetupInterval    = 120 * time.Second
	DefaultFirmwareInterval = 7 * 24 * time.Hour
)

// Valid reports whether id is one of the known sources.
func (id SourceID) Valid() bool {
	switch id {
	case LiveData, DeviceInfo, SetupConfig, FirmwareInfo:
		return true
	}
	return false
}

func (id SourceID) String() string { return string(id) }

// Source describes where a resource lives and how often it is refreshed.
type Source struct {
	ID       SourceID
	Endpoint string
	Interval time.Duration

	// After holds the source back until the named source has a payload.
	After SourceID

	// RetryAfter holds the source back for this long after a failed fetch.
	// Zero retries on the next due check.
	RetryAfter time.Duration
}

// DefaultSources returns the standard source definitions.
func DefaultSources() map[SourceID]Source {
	return map[SourceID]Source{
		LiveData:     {ID: LiveData, Endpoint: "data", Interval: DefaultLiveDataInterval},
		DeviceInfo:   {ID: DeviceInfo, Endpoint: "mypv_dev", Interval: Once},
		SetupConfig:  {ID: SetupConfig, Endpoint: "setup", Interval: DefaultSetupInterval},
		FirmwareInfo: {ID: FirmwareInfo, Endpoint: "firmware", Interval: DefaultFirmwareInterval},
	}
}

// Fetcher retrieves the JSON object behind an endpoint name.
type Fetcher interface {
	FetchJSON(ctx context.Context, endpoint string) (device.Payload, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, endpoint string) (device.Payload, error)

// FetchJSON calls f(ctx, endpoint).
func (f FetcherFunc) FetchJSON(ctx context.Context, endpoint string) (device.Payload, error) {
	return f(ctx, endpoint)
}

// sourceState is the mutable per-source state owned by the coordinator.
type sourceState struct {
	def       Source
	fetcher   Fetcher
	payload   device.Payload
	fetchedAt time.Time
	failedAt  time.Time
	lastErr   error
}

func (s *sourceState) due(now time.Time) bool {
	if !s.failedAt.IsZero() && s.def.RetryAfter > 0 && now.Sub(s.failedAt) < s.def.RetryAfter {
		return false
	}
	if s.fetchedAt.IsZero() {
		return true
	}
	if s.def.Interval == Once {
		return false
	}
	return now.Sub(s.fetchedAt) >= s.def.Interval
}
