package model

import "fmt"

// BoundKind distinguishes how an inherited constraint binds the tier below.
type BoundKind int

const (
	// BoundSoft is a penalized tracking target: deviation is allowed but
	// charged in the objective.
	BoundSoft BoundKind = iota
	// BoundHard is a strict per-step band the lower tier may not leave.
	BoundHard
)

// Bound is the typed constraint one tier inherits from the tier above,
// aligned to the inheriting tier's step grid.
type Bound struct {
	Kind BoundKind

	// Target and Penalty apply to soft bounds.
	Target  []float64
	Penalty float64

	// Lower and Upper apply to hard bounds.
	Lower []float64
	Upper []float64
}

// Validate checks internal consistency over the given number of steps. Hard
// bounds must cover every step with lower <= upper; soft bounds must cover
// every step with a positive penalty.
func (b Bound) Validate(steps int) error {
	switch b.Kind {
	case BoundSoft:
		if len(b.Target) < steps {
			return fmt.Errorf("soft bound target covers %d of %d steps", len(b.Target), steps)
		}
		if b.Penalty <= 0 {
			return fmt.Errorf("soft bound penalty must be positive, got %g", b.Penalty)
		}
	case BoundHard:
		if len(b.Lower) < steps || len(b.Upper) < steps {
			return fmt.Errorf("hard bound covers %d/%d of %d steps", len(b.Lower), len(b.Upper), steps)
		}
		for i := 0; i < steps; i++ {
			if b.Lower[i] > b.Upper[i] {
				return fmt.Errorf("hard bound inverted at step %d: [%g, %g]", i, b.Lower[i], b.Upper[i])
			}
		}
	default:
		return fmt.Errorf("unknown bound kind %d", b.Kind)
	}
	return nil
}
