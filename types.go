package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JHOFER-Cloud/mypv-exporter/internal/device"
	"github.com/JHOFER-Cloud/mypv-exporter/internal/refresh"
	"github.com/JHOFER-Cloud/mypv-exporter/internal/sensor"
)

// Device represents a single my-PV device
type Device struct {
	Name string
	Host string
}

// monitoredDevice ties a configured device to its coordinator and the last
// known value of every sensor resolved for it.
type monitoredDevice struct {
	Device
	coord   *refresh.Coordinator
	sensors []string

	mu   sync.Mutex
	last map[string]sensor.Value
}

// newMonitoredDevice creates the coordinator for d. The firmware source is
// served by the vendor endpoint, keyed by the serial number the device
// reports in its info resource. It waits for that resource and, after a
// failed check, for a full firmware interval.
func newMonitoredDevice(d Device, cfg *Config, obs refresh.Observer, logger *slog.Logger) *monitoredDevice {
	firmware := &device.FirmwareClient{BaseURL: cfg.FirmwareURL}
	coord := refresh.New(d.Name, device.NewClient(d.Host),
		refresh.WithFetcher(refresh.FirmwareInfo, firmware),
		refresh.WithSource(refresh.Source{ID: refresh.LiveData, Endpoint: "data", Interval: cfg.PollInterval}),
		refresh.WithSource(refresh.Source{ID: refresh.SetupConfig, Endpoint: "setup", Interval: cfg.SetupInterval}),
		refresh.WithSource(refresh.Source{
			ID:         refresh.FirmwareInfo,
			Endpoint:   "firmware",
			Interval:   cfg.FirmwareInterval,
			After:      refresh.DeviceInfo,
			RetryAfter: cfg.FirmwareInterval,
		}),
		refresh.WithCycleTimeout(cfg.CycleTimeout),
		refresh.WithObserver(obs),
		refresh.WithLogger(logger),
	)
	firmware.Serial = coord.Serial

	return &monitoredDevice{
		Device:  d,
		coord:   coord,
		sensors: cfg.Sensors,
		last:    make(map[string]sensor.Value),
	}
}

// resolve resolves a sensor against the current snapshot, falling back to
// and updating the device's last known value.
func (m *monitoredDevice) resolve(r *sensor.Resolver, snap *refresh.Snapshot, id string) (sensor.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := r.Resolve(snap, id, m.last[id])
	if err != nil {
		return sensor.Value{}, err
	}
	if v.Available() {
		m.last[id] = v
	}
	return v, nil
}

// sensorIDs returns the configured sensors, or every sensor that applies to
// the device model once it is known.
func (m *monitoredDevice) sensorIDs(r *sensor.Resolver, snap *refresh.Snapshot) []string {
	if len(m.sensors) > 0 {
		return m.sensors
	}
	specs := r.Catalog().All()
	if short, ok := r.ModelShortName(snap); ok {
		specs = r.Catalog().ForModel(short)
	}
	ids := make([]string, 0, len(specs))
	for _, s := range specs {
		ids = append(ids, s.ID)
	}
	return ids
}

// poll refreshes the device every interval until ctx is done.
func (m *monitoredDevice) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Tick times are snapped to the interval grid so scheduling jitter never
	// makes a source look a few microseconds early.
	start := time.Now()
	for {
		m.coord.Refresh(ctx, start.Add(time.Since(start).Round(interval)))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
