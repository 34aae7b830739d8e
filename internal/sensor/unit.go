package sensor

// Unit is the display unit of a sensor. It also selects the scaling applied
// to the raw device value.
type Unit string

const (
	UnitNone        Unit = ""
	UnitPower       Unit = "power"
	UnitTemperature Unit = "temperature"
	UnitCurrent     Unit = "current"
	UnitVoltage     Unit = "voltage"
	UnitFrequency   Unit = "frequency"
	UnitPercentage  Unit = "percentage"
	UnitDays        Unit = "days"
)

var unitSymbols = map[Unit]string{
	UnitNone:        "",
	UnitPower:       "W",
	UnitTemperature: "°C",
	UnitCurrent:     "A",
	UnitVoltage:     "V",
	UnitFrequency:   "Hz",
	UnitPercentage:  "%",
	UnitDays:        "d",
}

// Symbol returns the unit symbol, e.g. "°C".
func (u Unit) Symbol() string { return unitSymbols[u] }

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	_, ok := unitSymbols[u]
	return ok
}

// divisor returns the factor a raw value is divided by for this unit.
// chipTemperature readings are already whole degrees.
func (u Unit) divisor(id string) float64 {
	switch u {
	case UnitFrequency:
		return 1000
	case UnitTemperature:
		if id == ChipTemperature {
			return 1
		}
		return 10
	case UnitCurrent:
		return 10
	}
	return 1
}
