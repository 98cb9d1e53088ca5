package mill

import "fmt"

// Instrument identifies a tool mounted on the gantry head. Each sits at
// a fixed offset from the head's reference point.
type Instrument string

const (
	Center    Instrument = "center"
	Pipette   Instrument = "pipette"
	Electrode Instrument = "electrode"
	Lens      Instrument = "lens"
)

// Instruments lists every mountable tool.
var Instruments = []Instrument{Center, Pipette, Electrode, Lens}

func (i Instrument) Valid() bool {
	switch i {
	case Center, Pipette, Electrode, Lens:
		return true
	}
	return false
}

// HasOffset reports whether the instrument sits away from the reference
// point. The lens shares the center's axis.
func (i Instrument) HasOffset() bool {
	return i == Pipette || i == Electrode
}

// ParseInstrument maps an instrument name to its variant.
func ParseInstrument(s string) (Instrument, error) {
	i := Instrument(s)
	if !i.Valid() {
		return "", fmt.Errorf("unknown instrument %q", s)
	}
	return i, nil
}
