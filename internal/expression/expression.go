// Package expression holds the avatar's expression catalog and the threshold
// selector that picks which expression a given audio level qualifies for.
package expression

import "github.com/google/uuid"

// ID is the stable identity of an expression. It survives edits and reordering,
// so state that refers to an expression holds an ID, never a pointer.
type ID string

// NewID returns a fresh random expression id.
func NewID() ID {
	return ID(uuid.NewString())
}

// Bounce configures the vertical bounce played once per activation.
type Bounce struct {
	MaxVelocity float32
	TotalFrames int32
}

// Expression is one threshold-gated visual state of the avatar.
type Expression struct {
	ID   ID
	Name string

	// Threshold uses the same unit as the level source (linear magnitude or dBFS).
	Threshold float64

	AttackMS  float64
	ReleaseMS float64

	// Bounce is nil when the expression does not bounce.
	Bounce *Bounce

	// Asset is resolved by the asset provider; nothing else interprets it.
	Asset string
}

// HasBounce reports whether the expression carries a playable bounce.
func (e Expression) HasBounce() bool {
	return e.Bounce != nil && e.Bounce.TotalFrames > 0
}

// clone copies e so that the returned value shares no pointers with it.
func (e Expression) clone() Expression {
	if e.Bounce != nil {
		b := *e.Bounce
		e.Bounce = &b
	}
	return e
}
