package expression

import "math"

// NormalizeOptions controls load-time clamping.
type NormalizeOptions struct {
	// AllowNegativeThreshold keeps negative thresholds, which are meaningful
	// when levels are reported in dBFS.
	AllowNegativeThreshold bool
}

// Normalize clamps a user-supplied expression into the range the engine
// expects. It never rejects a record.
func Normalize(e Expression, opts NormalizeOptions) Expression {
	e = e.clone()

	e.Threshold = finite(e.Threshold)
	if e.Threshold < 0 && !opts.AllowNegativeThreshold {
		e.Threshold = 0
	}
	e.AttackMS = nonNegative(e.AttackMS)
	e.ReleaseMS = nonNegative(e.ReleaseMS)

	if e.Bounce != nil {
		if e.Bounce.TotalFrames <= 0 {
			e.Bounce = nil
		} else {
			v := math.Min(nonNegative(float64(e.Bounce.MaxVelocity)), math.MaxFloat32)
			e.Bounce.MaxVelocity = float32(v)
		}
	}
	return e
}

// NormalizeAll normalizes every expression, assigns ids to the ones missing an
// id and re-keys duplicates so that ids are unique in the result.
func NormalizeAll(exprs []Expression, opts NormalizeOptions) []Expression {
	seen := make(map[ID]struct{}, len(exprs))
	out := make([]Expression, 0, len(exprs))
	for _, e := range exprs {
		e = Normalize(e, opts)
		if _, dup := seen[e.ID]; e.ID == "" || dup {
			e.ID = NewID()
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	if math.IsInf(v, -1) {
		return -math.MaxFloat64
	}
	return v
}

func nonNegative(v float64) float64 {
	v = finite(v)
	if v < 0 {
		return 0
	}
	return v
}
