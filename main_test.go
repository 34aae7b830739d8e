package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JHOFER-Cloud/mypv-exporter/internal/device"
	"github.com/JHOFER-Cloud/mypv-exporter/internal/sensor"
)

// mockDevice simulates the JSON resources of an AC-THOR and the vendor
// firmware endpoint.
type mockDevice struct {
	*httptest.Server
	dataRequests atomic.Int32
	failData     atomic.Bool
}

func newMockDevice() *mockDevice {
	m := &mockDevice{}
	mux := http.NewServeMux()

	mux.HandleFunc("/data.jsn", func(w http.ResponseWriter, r *http.Request) {
		m.dataRequests.Add(1)
		if m.failData.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, device.Payload{
			"power_act": 150,
			"rel1_out":  1,
			"load_nom":  2000,
			"temp1":     225,
			"status":    9,
			"fwversion": "a0010700",
		})
	})

	mux.HandleFunc("/mypv_dev.jsn", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, device.Payload{
			"device":    "AC-THOR",
			"sn":        "2001002105220012",
			"fwversion": "a0010700",
		})
	})

	mux.HandleFunc("/setup.jsn", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, device.Payload{"mainmode": 1})
	})

	mux.HandleFunc("/firmware", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, device.Payload{"sn": r.URL.Query().Get("sn"), "version": "a0010800"})
	})

	m.Server = httptest.NewServer(mux)
	return m
}

// host returns the address without the "http://" prefix
func (m *mockDevice) host() string {
	return strings.TrimPrefix(m.URL, "http://")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(firmwareURL string) *Config {
	return &Config{
		Port:             defaultPort,
		PollInterval:     10 * time.Second,
		CycleTimeout:     5 * time.Second,
		SetupInterval:    120 * time.Second,
		FirmwareInterval: 24 * time.Hour,
		FirmwareURL:      firmwareURL,
		Language:         sensor.DefaultLanguage,
	}
}

func testResolver(t *testing.T) *sensor.Resolver {
	t.Helper()
	r, err := sensor.NewDefaultResolver(sensor.WithResolverLogger(testLogger()))
	if err != nil {
		t.Fatalf("NewDefaultResolver() error = %v", err)
	}
	return r
}

// newRefreshedDevice creates a monitored device for the mock and runs one
// refresh cycle.
func newRefreshedDevice(t *testing.T, name string, m *mockDevice) *monitoredDevice {
	t.Helper()
	d := newMonitoredDevice(Device{Name: name, Host: m.host()}, testConfig(m.URL+"/firmware"), nil, testLogger())
	d.coord.Refresh(context.Background(), time.Now())
	return d
}

func TestMonitoredDevice_FirstCycleHealthy(t *testing.T) {
	m := newMockDevice()
	defer m.Close()

	d := newMonitoredDevice(Device{Name: "thor", Host: m.host()}, testConfig(m.URL+"/firmware"), nil, testLogger())

	snap, errs := d.coord.Refresh(context.Background(), time.Now())
	if len(errs) != 0 {
		t.Fatalf("first Refresh() errors = %v, want none", errs)
	}
	if snap.Has("firmware") {
		t.Error("firmware fetched before the serial number was known")
	}
	for _, st := range d.coord.Status() {
		if st.LastErr != nil {
			t.Errorf("source %s LastErr = %v, want nil", st.Source, st.LastErr)
		}
	}
}

func TestMonitoredDevice_FirmwareUsesSerial(t *testing.T) {
	m := newMockDevice()
	defer m.Close()

	d := newRefreshedDevice(t, "thor", m)

	// The serial arrives with the first cycle, the firmware source follows on the next.
	snap, errs := d.coord.Refresh(context.Background(), time.Now().Add(time.Second))
	if len(errs) != 0 {
		t.Fatalf("Refresh() errors = %v, want none", errs)
	}

	sn, ok := snap.StringField("firmware", "sn")
	if !ok || sn != "2001002105220012" {
		t.Errorf("firmware sn = %q, %v; want 2001002105220012", sn, ok)
	}
}

func TestMonitoredDevice_FirmwarePostponedAfterFailure(t *testing.T) {
	m := newMockDevice()
	defer m.Close()

	var vendorRequests atomic.Int32
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vendorRequests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer vendor.Close()

	d := newMonitoredDevice(Device{Name: "thor", Host: m.host()}, testConfig(vendor.URL), nil, testLogger())
	start := time.Now()
	d.coord.Refresh(context.Background(), start)

	_, errs := d.coord.Refresh(context.Background(), start.Add(time.Second))
	if len(errs) != 1 {
		t.Fatalf("Refresh() errors = %v, want the firmware failure", errs)
	}

	// Later ticks leave the vendor alone until the firmware interval has passed.
	for i := 1; i <= 6; i++ {
		if _, errs := d.coord.Refresh(context.Background(), start.Add(time.Duration(i)*10*time.Second)); len(errs) != 0 {
			t.Errorf("tick %d errors = %v, want none", i, errs)
		}
	}
	if got := vendorRequests.Load(); got != 1 {
		t.Errorf("vendor requests = %d, want 1", got)
	}
}

func TestMonitoredDevice_ResolveKeepsLastKnown(t *testing.T) {
	m := newMockDevice()
	defer m.Close()

	r := testResolver(t)
	d := newRefreshedDevice(t, "thor", m)

	v, err := d.resolve(r, d.coord.Snapshot(), "temp1")
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	if v.Number != 22.5 {
		t.Errorf("temp1 = %v, want 22.5", v.Number)
	}

	// A snapshot without live data falls back to the held value.
	v, err = d.resolve(r, nil, "temp1")
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	if v.Number != 22.5 {
		t.Errorf("temp1 fallback = %v, want 22.5", v.Number)
	}
}

func TestMonitoredDevice_SensorIDs(t *testing.T) {
	m := newMockDevice()
	defer m.Close()

	r := testResolver(t)
	d := newRefreshedDevice(t, "thor", m)

	ids := d.sensorIDs(r, d.coord.Snapshot())
	if !containsString(ids, "power_act") {
		t.Error("sensorIDs() missing power_act for AC-THOR")
	}
	if containsString(ids, "power") {
		t.Error("sensorIDs() contains ELWA-only sensor power")
	}
	if len(ids) >= r.Catalog().Len() {
		t.Errorf("sensorIDs() = %d ids, want fewer than the full catalog (%d)", len(ids), r.Catalog().Len())
	}

	d.sensors = []string{"temp1"}
	if ids := d.sensorIDs(r, d.coord.Snapshot()); len(ids) != 1 || ids[0] != "temp1" {
		t.Errorf("sensorIDs() with allow-list = %v, want [temp1]", ids)
	}
}

func TestMonitoredDevice_Poll(t *testing.T) {
	m := newMockDevice()
	defer m.Close()

	d := newMonitoredDevice(Device{Name: "thor", Host: m.host()}, testConfig(m.URL+"/firmware"), nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.poll(ctx, 20*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for d.coord.Snapshot() == nil {
		select {
		case <-deadline:
			t.Fatal("poll() did not publish a snapshot")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll() did not return after cancel")
	}

	if m.dataRequests.Load() == 0 {
		t.Error("poll() never fetched live data")
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
