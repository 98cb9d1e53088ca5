package mill

import "github.com/pandalab/grblmill/coord"

// Transformer converts between logical (per-tool) and machine (head
// center) coordinates. The two spaces are never mixed without passing
// through here.
type Transformer struct {
	cfg *Config
}

func NewTransformer(cfg *Config) *Transformer {
	return &Transformer{cfg: cfg}
}

// ToMachine applies the instrument's offset to a logical position.
func (t *Transformer) ToMachine(p coord.Point, i Instrument) coord.Point {
	return p.Add(t.cfg.Offset(i))
}

// ToLogical is the inverse of ToMachine.
func (t *Transformer) ToLogical(p coord.Point, i Instrument) coord.Point {
	return p.Sub(t.cfg.Offset(i))
}

// Validate checks a machine-space target against the travel envelope.
// The legal interval per axis is [bound, 0].
func (t *Transformer) Validate(p coord.Point) error {
	vol := t.cfg.WorkingVolume
	if p.X > 0 || p.X < vol.X {
		return &OutOfRangeError{Axis: "x", Value: p.X, Bound: vol.X}
	}
	if p.Y > 0 || p.Y < vol.Y {
		return &OutOfRangeError{Axis: "y", Value: p.Y, Bound: vol.Y}
	}
	if p.Z > 0 || p.Z < vol.Z {
		return &OutOfRangeError{Axis: "z", Value: p.Z, Bound: vol.Z}
	}
	return nil
}
