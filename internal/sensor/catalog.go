// Package sensor holds the static sensor catalogs and resolves normalized
// sensor values from a refresh snapshot.
package sensor

import (
	"embed"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/JHOFER-Cloud/mypv-exporter/internal/refresh"
)

//go:embed sensors.yaml devices.yaml translations.yaml
var catalogFS embed.FS

// Spec is the static definition of one sensor.
type Spec struct {
	ID      string           `yaml:"id"`
	Name    string           `yaml:"name"`
	Unit    Unit             `yaml:"unit"`
	Icon    string           `yaml:"icon"`
	Source  refresh.SourceID `yaml:"source"`
	Devices []string         `yaml:"devices"`
	Derived bool             `yaml:"derived"`
}

// AppliesTo reports whether the sensor exists on a device model, given by
// its short name. Sensors without a device restriction apply to all models.
func (s Spec) AppliesTo(model string) bool {
	return len(s.Devices) == 0 || slices.Contains(s.Devices, model)
}

// Catalog is the immutable set of known sensors.
type Catalog struct {
	specs map[string]Spec
	order []string
}

// LoadCatalog parses the embedded sensor catalog.
func LoadCatalog() (*Catalog, error) {
	data, err := catalogFS.ReadFile("sensors.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates a YAML sensor list.
func ParseCatalog(data []byte) (*Catalog, error) {
	var specs []Spec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to decode sensor catalog: %w", err)
	}

	c := &Catalog{
		specs: make(map[string]Spec, len(specs)),
		order: make([]string, 0, len(specs)),
	}
	for i, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("sensor %d: missing id", i)
		}
		if _, dup := c.specs[s.ID]; dup {
			return nil, fmt.Errorf("sensor %s: duplicate id", s.ID)
		}
		if !s.Unit.Valid() {
			return nil, fmt.Errorf("sensor %s: unknown unit %q", s.ID, s.Unit)
		}
		if s.Source == "" {
			s.Source = refresh.LiveData
		}
		if !s.Source.Valid() {
			return nil, fmt.Errorf("sensor %s: unknown source %q", s.ID, s.Source)
		}
		if _, ok := derivations[s.ID]; s.Derived && !ok {
			return nil, fmt.Errorf("sensor %s: no derivation registered", s.ID)
		}
		c.specs[s.ID] = s
		c.order = append(c.order, s.ID)
	}
	return c, nil
}

// Lookup returns the spec for id.
func (c *Catalog) Lookup(id string) (Spec, bool) {
	s, ok := c.specs[id]
	return s, ok
}

// Len returns the number of sensors.
func (c *Catalog) Len() int { return len(c.order) }

// All returns every sensor in catalog order.
func (c *Catalog) All() []Spec {
	out := make([]Spec, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.specs[id])
	}
	return out
}

// ForModel returns the sensors that apply to a device model short name.
func (c *Catalog) ForModel(model string) []Spec {
	var out []Spec
	for _, id := range c.order {
		if s := c.specs[id]; s.AppliesTo(model) {
			out = append(out, s)
		}
	}
	return out
}

// DeviceTable maps the model string reported by a device to its short name.
type DeviceTable map[string]string

// LoadDeviceTable parses the embedded device table.
func LoadDeviceTable() (DeviceTable, error) {
	data, err := catalogFS.ReadFile("devices.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read device table: %w", err)
	}
	var t DeviceTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode device table: %w", err)
	}
	return t, nil
}

// ShortName returns the short name of a device model.
func (t DeviceTable) ShortName(model string) (string, bool) {
	s, ok := t[model]
	return s, ok
}
