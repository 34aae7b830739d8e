package main

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JHOFER-Cloud/mypv-exporter/internal/refresh"
	"github.com/JHOFER-Cloud/mypv-exporter/internal/sensor"
)

// Collector implements prometheus.Collector for my-PV sensor values
type Collector struct {
	devices  []*monitoredDevice
	resolver *sensor.Resolver
	logger   *slog.Logger

	// Metrics
	sensorValue   *prometheus.Desc
	sensorText    *prometheus.Desc
	sourceUp      *prometheus.Desc
	sourceFetched *prometheus.Desc
	snapshotTime  *prometheus.Desc
	info          *prometheus.Desc
	scrapeSuccess *prometheus.Desc
}

// NewCollector creates a new my-PV collector
func NewCollector(devices []*monitoredDevice, resolver *sensor.Resolver, logger *slog.Logger) *Collector {
	return &Collector{
		devices:  devices,
		resolver: resolver,
		logger:   logger,
		sensorValue: prometheus.NewDesc(
			"mypv_sensor_value",
			"Normalized numeric sensor value",
			[]string{"device_name", "sensor", "name", "unit"},
			nil,
		),
		sensorText: prometheus.NewDesc(
			"mypv_sensor_text",
			"Textual sensor value, always 1",
			[]string{"device_name", "sensor", "name", "value"},
			nil,
		),
		sourceUp: prometheus.NewDesc(
			"mypv_source_up",
			"Whether the last fetch of a device resource succeeded (1=yes, 0=no)",
			[]string{"device_name", "source"},
			nil,
		),
		sourceFetched: prometheus.NewDesc(
			"mypv_source_last_success_timestamp_seconds",
			"Time of the last successful fetch of a device resource",
			[]string{"device_name", "source"},
			nil,
		),
		snapshotTime: prometheus.NewDesc(
			"mypv_snapshot_timestamp_seconds",
			"Time the current snapshot was assembled",
			[]string{"device_name"},
			nil,
		),
		info: prometheus.NewDesc(
			"mypv_info",
			"my-PV device information",
			[]string{"device_name", "model", "serial", "firmware", "host"},
			nil,
		),
		scrapeSuccess: prometheus.NewDesc(
			"mypv_scrape_success",
			"Whether live data is available for the device",
			[]string{"device_name"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sensorValue
	ch <- c.sensorText
	ch <- c.sourceUp
	ch <- c.sourceFetched
	ch <- c.snapshotTime
	ch <- c.info
	ch <- c.scrapeSuccess
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var wg sync.WaitGroup

	for _, d := range c.devices {
		wg.Add(1)
		go func(d *monitoredDevice) {
			defer wg.Done()
			c.collectDevice(d, ch)
		}(d)
	}

	wg.Wait()
}

func (c *Collector) collectDevice(d *monitoredDevice, ch chan<- prometheus.Metric) {
	snap := d.coord.Snapshot()

	for _, st := range d.coord.Status() {
		up := 0.0
		if st.HasData && st.LastErr == nil {
			up = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.sourceUp, prometheus.GaugeValue, up, d.Name, st.Source.String())
		if st.HasData {
			ch <- prometheus.MustNewConstMetric(c.sourceFetched, prometheus.GaugeValue, float64(st.FetchedAt.Unix()), d.Name, st.Source.String())
		}
	}

	if !snap.Has(refresh.LiveData) {
		ch <- prometheus.MustNewConstMetric(c.scrapeSuccess, prometheus.GaugeValue, 0, d.Name)
		return
	}

	// Mark as successful
	ch <- prometheus.MustNewConstMetric(c.scrapeSuccess, prometheus.GaugeValue, 1, d.Name)
	ch <- prometheus.MustNewConstMetric(c.snapshotTime, prometheus.GaugeValue, float64(snap.AssembledAt.Unix()), d.Name)

	// Device info once DeviceInfo arrived
	if model, ok := snap.StringField(refresh.DeviceInfo, "device"); ok {
		serial, _ := snap.StringField(refresh.DeviceInfo, "sn")
		firmware, _ := snap.StringField(refresh.DeviceInfo, "fwversion")
		ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1, d.Name, model, serial, firmware, d.Host)
	}

	for _, id := range d.sensorIDs(c.resolver, snap) {
		spec, err := c.resolver.Spec(id)
		if err != nil {
			c.logger.Warn("skipping sensor", "device", d.Name, "err", err)
			continue
		}

		v, err := d.resolve(c.resolver, snap, id)
		if err != nil || !v.Available() {
			continue
		}

		if v.Numeric {
			ch <- prometheus.MustNewConstMetric(c.sensorValue, prometheus.GaugeValue, v.Number, d.Name, id, spec.Name, spec.Unit.Symbol())
		}
		if v.Kind == sensor.Text {
			ch <- prometheus.MustNewConstMetric(c.sensorText, prometheus.GaugeValue, 1, d.Name, id, spec.Name, v.Text)
		}
	}
}
