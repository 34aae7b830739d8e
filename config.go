package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JHOFER-Cloud/mypv-exporter/internal/device"
	"github.com/JHOFER-Cloud/mypv-exporter/internal/refresh"
	"github.com/JHOFER-Cloud/mypv-exporter/internal/sensor"
)

const (
	defaultPort = "9090"
	envPrefix   = "MYPV"
)

// Config holds the exporter configuration
type Config struct {
	Port             string
	Devices          []Device
	PollInterval     time.Duration
	CycleTimeout     time.Duration
	SetupInterval    time.Duration
	FirmwareInterval time.Duration
	FirmwareURL      string
	Language         string
	Sensors          []string
	LogLevel         slog.Level
}

// newViper returns a viper instance reading MYPV_* environment variables and
// an optional mypv.yaml
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mypv")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/mypv-exporter")

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", defaultPort)
	v.SetDefault("poll_interval", refresh.DefaultLiveDataInterval)
	v.SetDefault("cycle_timeout", refresh.DefaultCycleTimeout)
	v.SetDefault("setup_interval", refresh.DefaultSetupInterval)
	v.SetDefault("firmware_interval", refresh.DefaultFirmwareInterval)
	v.SetDefault("firmware_url", device.DefaultFirmwareURL)
	v.SetDefault("language", sensor.DefaultLanguage)
	v.SetDefault("log_level", "info")
}

// loadConfig reads the configuration and validates it
func loadConfig(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	devices, err := parseDevices(stringList(v, "hosts"), stringList(v, "names"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:             v.GetString("port"),
		Devices:          devices,
		PollInterval:     v.GetDuration("poll_interval"),
		CycleTimeout:     v.GetDuration("cycle_timeout"),
		SetupInterval:    v.GetDuration("setup_interval"),
		FirmwareInterval: v.GetDuration("firmware_interval"),
		FirmwareURL:      v.GetString("firmware_url"),
		Language:         v.GetString("language"),
		Sensors:          stringList(v, "sensors"),
	}

	catalog, err := sensor.LoadCatalog()
	if err != nil {
		return nil, err
	}
	if cfg.Sensors, err = sensorList(catalog, cfg.Sensors); err != nil {
		return nil, err
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return nil, fmt.Errorf("invalid log_level: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("port %q is not a number", c.Port)
	}
	for name, d := range map[string]time.Duration{
		"poll_interval":     c.PollInterval,
		"cycle_timeout":     c.CycleTimeout,
		"setup_interval":    c.SetupInterval,
		"firmware_interval": c.FirmwareInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.CycleTimeout > c.PollInterval {
		return fmt.Errorf("cycle_timeout (%s) must not exceed poll_interval (%s)", c.CycleTimeout, c.PollInterval)
	}
	return nil
}

// parseDevices pairs hosts with optional names
func parseDevices(hosts, names []string) ([]Device, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("%s_HOSTS must be set", envPrefix)
	}

	devices := make([]Device, 0, len(hosts))
	for i, host := range hosts {
		if host == "" {
			continue
		}

		name := "mypv" + strconv.Itoa(i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}

		devices = append(devices, Device{
			Name: name,
			Host: host,
		})
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("no valid devices configured")
	}

	return devices, nil
}

// sensorList drops empty and repeated ids from the allow-list and rejects
// ids missing from the catalog.
func sensorList(catalog *sensor.Catalog, ids []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		if _, ok := catalog.Lookup(id); !ok {
			return nil, fmt.Errorf("sensors: %w", &sensor.UnknownSensorError{ID: id})
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// stringList reads a comma separated string or a YAML list. Entries are
// trimmed; empty entries keep their position.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		raw = strings.Split(val, ",")
	case []string:
		raw = val
	case []any:
		for _, item := range val {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = []string{fmt.Sprint(val)}
	}

	out := make([]string, len(raw))
	for i, s := range raw {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
