package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/JHOFER-Cloud/mypv-exporter/internal/refresh"
)

// Sensor identifiers with special handling.
const (
	ChipTemperature = "tempchip"
	StatusSensor    = "status"
	RelayPower      = "power_act"
)

// DevStateSensors report a meter's communication state as a bitmask.
var DevStateSensors = []string{"m1devstate", "m2devstate", "m3devstate", "m4devstate"}

// devStateBits is checked in order; the first set bit selects the key.
var devStateBits = []struct {
	mask int64
	code string
}{
	{1 << 0, "err1"},
	{1 << 1, "err2"},
	{1 << 2, "err3"},
	{1 << 3, "err4"},
}

// ErrUnknownSensor is matched by errors.Is for any *UnknownSensorError.
var ErrUnknownSensor = errors.New("unknown sensor")

// UnknownSensorError is returned when a sensor id is not in the catalog.
type UnknownSensorError struct {
	ID string
}

func (e *UnknownSensorError) Error() string {
	return fmt.Sprintf("unknown sensor %q", e.ID)
}

func (e *UnknownSensorError) Is(target error) bool { return target == ErrUnknownSensor }

// derivation computes a composite raw value from a snapshot.
type derivation func(snap *refresh.Snapshot, spec Spec) (float64, bool)

var derivations = map[string]derivation{
	RelayPower: relayPower,
}

// relayPower adds the nominal load switched through relay 1 to the measured
// power: rel1_out * load_nom + power_act.
func relayPower(snap *refresh.Snapshot, spec Spec) (float64, bool) {
	power, ok := integerField(snap, spec.Source, RelayPower)
	if !ok {
		return 0, false
	}
	relay, ok := integerField(snap, spec.Source, "rel1_out")
	if !ok {
		return 0, false
	}
	load, ok := integerField(snap, spec.Source, "load_nom")
	if !ok {
		return 0, false
	}
	return relay*load + power, true
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLanguage selects the translation language.
func WithLanguage(lang string) ResolverOption {
	return func(r *Resolver) {
		if lang != "" {
			r.lang = lang
		}
	}
}

// WithResolverLogger sets the logger used for degraded lookups.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// Resolver turns raw snapshot fields into normalized sensor values. It holds
// no per-call state and is safe for concurrent use.
type Resolver struct {
	catalog      *Catalog
	devices      DeviceTable
	translations Translations
	lang         string
	logger       *slog.Logger
}

// NewResolver creates a resolver over the given catalogs.
func NewResolver(catalog *Catalog, devices DeviceTable, translations Translations, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		catalog:      catalog,
		devices:      devices,
		translations: translations,
		lang:         DefaultLanguage,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultResolver creates a resolver over the embedded catalogs.
func NewDefaultResolver(opts ...ResolverOption) (*Resolver, error) {
	catalog, err := LoadCatalog()
	if err != nil {
		return nil, err
	}
	devices, err := LoadDeviceTable()
	if err != nil {
		return nil, err
	}
	translations, err := LoadTranslations()
	if err != nil {
		return nil, err
	}
	return NewResolver(catalog, devices, translations, opts...), nil
}

// Catalog returns the sensor catalog.
func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Spec returns the definition of a sensor.
func (r *Resolver) Spec(id string) (Spec, error) {
	spec, ok := r.catalog.Lookup(id)
	if !ok {
		return Spec{}, &UnknownSensorError{ID: id}
	}
	return spec, nil
}

// ModelShortName returns the short name of the device in snap.
func (r *Resolver) ModelShortName(snap *refresh.Snapshot) (string, bool) {
	model, ok := snap.StringField(refresh.DeviceInfo, "device")
	if !ok {
		return "", false
	}
	return r.devices.ShortName(model)
}

// Resolve computes the value of sensor id from snap. When the raw field is
// missing, lastKnown is returned unchanged; pass the zero Value if none is
// held. Only an unknown id is an error.
func (r *Resolver) Resolve(snap *refresh.Snapshot, id string, lastKnown Value) (Value, error) {
	spec, err := r.Spec(id)
	if err != nil {
		return Value{}, err
	}

	var raw any
	if spec.Derived {
		v, ok := derivations[spec.ID](snap, spec)
		if !ok {
			if snap.Has(spec.Source) {
				r.logger.Debug("composite sensor operand missing", "sensor", id)
			}
			return lastKnown, nil
		}
		raw = v
	} else {
		v, ok := snap.Field(spec.Source, spec.ID)
		if !ok {
			return lastKnown, nil
		}
		raw = v
	}

	num, ok := toNumber(raw)
	if !ok {
		return r.decorateText(spec, fmt.Sprint(raw)), nil
	}

	if d := spec.Unit.divisor(spec.ID); d != 1 {
		return NumberValue(num / d), nil
	}
	return r.decorateNumber(snap, spec, num), nil
}

// Format renders a value with its unit symbol for display.
func (r *Resolver) Format(id string, v Value) string {
	spec, ok := r.catalog.Lookup(id)
	if !ok || v.Kind != Number || spec.Unit.Symbol() == "" {
		return v.String()
	}
	return v.String() + " " + spec.Unit.Symbol()
}

func (r *Resolver) decorateNumber(snap *refresh.Snapshot, spec Spec, num float64) Value {
	key, ok := r.numberKey(snap, spec, num)
	if !ok {
		return NumberValue(num)
	}
	label, ok := r.translations.Lookup(key, r.lang)
	if !ok {
		return NumberValue(num)
	}
	return Value{Kind: Text, Number: num, Numeric: true, Text: formatNumber(num) + " " + label}
}

func (r *Resolver) decorateText(spec Spec, s string) Value {
	if spec.ID == StatusSensor || slices.Contains(DevStateSensors, spec.ID) {
		return TextValue(s)
	}
	if label, ok := r.translations.Lookup("info_"+spec.ID+"_"+s, r.lang); ok {
		return TextValue(s + " " + label)
	}
	return TextValue(s)
}

// numberKey builds the translation key for a numeric value.
func (r *Resolver) numberKey(snap *refresh.Snapshot, spec Spec, num float64) (string, bool) {
	switch {
	case spec.ID == StatusSensor:
		short, ok := r.ModelShortName(snap)
		if !ok {
			return "", false
		}
		return "info_state_" + short + "_" + formatNumber(num), true
	case slices.Contains(DevStateSensors, spec.ID):
		bits := int64(num)
		for _, b := range devStateBits {
			if bits&b.mask != 0 {
				return "info_measure_devstate_" + b.code, true
			}
		}
		return "", false
	}
	return "info_" + spec.ID + "_" + formatNumber(num), true
}

// toNumber converts a decoded JSON scalar to float64. Booleans map to 0/1.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// integerField reads a field as a whole number, accepting numeric strings.
func integerField(snap *refresh.Snapshot, source refresh.SourceID, key string) (float64, bool) {
	v, ok := snap.Field(source, key)
	if !ok {
		return 0, false
	}
	if s, isString := v.(string); isString {
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, false
		}
		return float64(i), true
	}
	f, ok := toNumber(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return math.Trunc(f), true
}
