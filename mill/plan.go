package mill

import (
	"github.com/pandalab/grblmill/coord"
	"github.com/pandalab/grblmill/grbl"
)

// Plunge describes an optional slow final Z insertion, used to lower a
// tool into a vial without splashing. The default feed rate is restored
// afterwards.
type Plunge struct {
	Z    float64 // logical target depth
	Feed int
}

// PlanRequest is one safe-move request: where the machine is now and
// where the instrument should logically end up.
type PlanRequest struct {
	Current    coord.Point // machine space
	Target     coord.Point // logical space
	Instrument Instrument
	Plunge     *Plunge
}

// A Plan is the ordered command sequence for one safe move. Commands
// are single-axis or XY only; XY and Z are never combined, so the
// device can never execute an uncommanded 3-D diagonal.
type Plan struct {
	Commands  []string
	Retracted bool
}

// Planner decides the safe ordered command sequence for a move request.
// Every intermediate and final target is validated before any command
// is emitted; on failure the plan is empty.
type Planner struct {
	cfg       *Config
	transform *Transformer
}

func NewPlanner(cfg *Config) *Planner {
	return &Planner{cfg: cfg, transform: NewTransformer(cfg)}
}

func (pl *Planner) Plan(req PlanRequest) (*Plan, error) {
	target := pl.transform.ToMachine(req.Target, req.Instrument)
	cur := req.Current

	zOnly := target.EqualXY(cur)
	// a lowered tool must clear the deck before any XY travel
	retract := !zOnly && cur.Z < 0 && cur.Z < pl.cfg.SafeHeightFloor

	var plunge coord.Point
	if req.Plunge != nil {
		plunge = pl.transform.ToMachine(coord.Point{X: req.Target.X, Y: req.Target.Y, Z: req.Plunge.Z}, req.Instrument)
	}

	// validate every point the machine will visit before emitting anything
	waypoints := []coord.Point{target}
	if retract {
		waypoints = append(waypoints, coord.Point{X: cur.X, Y: cur.Y, Z: 0})
	}
	if !zOnly {
		z := cur.Z
		if retract {
			z = 0
		}
		waypoints = append(waypoints, coord.Point{X: target.X, Y: target.Y, Z: z})
	}
	if req.Plunge != nil {
		waypoints = append(waypoints, plunge)
	}
	for _, p := range waypoints {
		if err := pl.transform.Validate(p); err != nil {
			return nil, err
		}
	}

	p := &Plan{Retracted: retract}
	travelZ := cur.Z
	if retract {
		p.Commands = append(p.Commands, grbl.MoveZ(0))
		travelZ = 0
	}
	if !zOnly {
		switch {
		case cur.X != target.X && cur.Y != target.Y:
			p.Commands = append(p.Commands, grbl.MoveXY(target.X, target.Y))
		case cur.X != target.X:
			p.Commands = append(p.Commands, grbl.MoveX(target.X))
		default:
			p.Commands = append(p.Commands, grbl.MoveY(target.Y))
		}
	}
	if target.Z != travelZ {
		p.Commands = append(p.Commands, grbl.MoveZ(target.Z))
	}
	if req.Plunge != nil {
		p.Commands = append(p.Commands,
			grbl.FeedRate(req.Plunge.Feed),
			grbl.MoveZ(plunge.Z),
			grbl.FeedRate(pl.cfg.DefaultFeedRate),
		)
	}
	return p, nil
}
