package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JHOFER-Cloud/mypv-exporter/internal/refresh"
	"github.com/JHOFER-Cloud/mypv-exporter/internal/sensor"
)

// sourceResponse is the JSON view of one source's fetch state
type sourceResponse struct {
	Source    string     `json:"source"`
	Interval  string     `json:"interval"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type deviceResponse struct {
	Name        string           `json:"name"`
	Host        string           `json:"host"`
	Model       string           `json:"model,omitempty"`
	Serial      string           `json:"serial,omitempty"`
	AssembledAt *time.Time       `json:"assembled_at,omitempty"`
	Sources     []sourceResponse `json:"sources"`
}

type sensorResponse struct {
	Device    string       `json:"device"`
	Sensor    string       `json:"sensor"`
	Name      string       `json:"name"`
	Unit      string       `json:"unit,omitempty"`
	Value     sensor.Value `json:"value"`
	Formatted string       `json:"formatted"`
}

type server struct {
	devices  map[string]*monitoredDevice
	order    []*monitoredDevice
	resolver *sensor.Resolver
	logger   *slog.Logger
}

// newRouter wires the HTTP endpoints
func newRouter(devices []*monitoredDevice, resolver *sensor.Resolver, gatherer prometheus.Gatherer, logger *slog.Logger) *mux.Router {
	s := &server{
		devices:  make(map[string]*monitoredDevice, len(devices)),
		order:    devices,
		resolver: resolver,
		logger:   logger,
	}
	for _, d := range devices {
		s.devices[d.Name] = d
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{device}", s.handleDevice).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{device}/sensors/{sensor}", s.handleSensor).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	page := `<!DOCTYPE html>
<html>
<head><title>my-PV Exporter</title></head>
<body>
<h1>my-PV Prometheus Exporter</h1>
<p>Monitoring %d device(s)</p>
<ul>
%s
</ul>
<p><a href="/metrics">Metrics</a></p>
</body>
</html>`
	var list strings.Builder
	for _, d := range s.order {
		fmt.Fprintf(&list, "<li><a href=\"/api/devices/%s\">%s</a>: %s</li>\n",
			html.EscapeString(d.Name), html.EscapeString(d.Name), html.EscapeString(d.Host))
	}
	fmt.Fprintf(w, page, len(s.order), list.String())
}

func (s *server) handleDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.devices[mux.Vars(r)["device"]]
	if !ok {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}

	snap := d.coord.Snapshot()
	resp := deviceResponse{Name: d.Name, Host: d.Host}
	resp.Model, _ = snap.StringField(refresh.DeviceInfo, "device")
	resp.Serial, _ = d.coord.Serial()
	if snap != nil {
		t := snap.AssembledAt
		resp.AssembledAt = &t
	}
	for _, st := range d.coord.Status() {
		src := sourceResponse{Source: st.Source.String(), Interval: st.Interval.String()}
		if st.Interval == refresh.Once {
			src.Interval = "once"
		}
		if st.HasData {
			t := st.FetchedAt
			src.FetchedAt = &t
		}
		if st.LastErr != nil {
			src.Error = st.LastErr.Error()
		}
		resp.Sources = append(resp.Sources, src)
	}

	s.writeJSON(w, resp)
}

func (s *server) handleSensor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	d, ok := s.devices[vars["device"]]
	if !ok {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}

	id := vars["sensor"]
	v, err := d.resolve(s.resolver, d.coord.Snapshot(), id)
	if errors.Is(err, sensor.ErrUnknownSensor) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	spec, _ := s.resolver.Spec(id)
	s.writeJSON(w, sensorResponse{
		Device:    d.Name,
		Sensor:    id,
		Name:      spec.Name,
		Unit:      spec.Unit.Symbol(),
		Value:     v,
		Formatted: s.resolver.Format(id, v),
	})
}

func (s *server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "err", err)
	}
}
