// Package qp builds and solves the convex quadratic programs shared by the
// tier planners. The formulator is deterministic: identical inputs produce
// identical matrices. The solver is a pure function of the problem and always
// reports an explicit status instead of guessing.
package qp

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

// LinIneq is one sparse linear inequality a'x <= rhs.
type LinIneq struct {
	Index []int
	Coef  []float64
	RHS   float64
}

// Eval returns a'x.
func (c LinIneq) Eval(x []float64) float64 {
	var v float64
	for i, idx := range c.Index {
		v += c.Coef[i] * x[idx]
	}
	return v
}

// Problem is a convex QP:
//
//	minimize   (1/2) x'Px + q'x
//	subject to Aeq x = beq
//	           a'x <= rhs   for each inequality
//	           lower <= x <= upper
//
// Lower/Upper entries may be +-Inf for unbounded variables.
type Problem struct {
	P   *mat.SymDense
	Q   []float64
	Aeq *mat.Dense
	Beq []float64

	Ineq  []LinIneq
	Lower []float64
	Upper []float64
}

// NumVars returns the decision-variable count.
func (p *Problem) NumVars() int { return len(p.Q) }

// Objective evaluates (1/2) x'Px + q'x.
func (p *Problem) Objective(x []float64) float64 {
	n := len(x)
	xv := mat.NewVecDense(n, x)
	tmp := mat.NewVecDense(n, nil)
	tmp.MulVec(p.P, xv)
	return 0.5*mat.Dot(xv, tmp) + mat.Dot(mat.NewVecDense(n, p.Q), xv)
}

// Weights are the objective coefficients a tier optimizes with. They are
// derived offline and supplied through a CoefficientProvider, never hardcoded.
type Weights struct {
	// Track penalizes the per-step grid deviation variable.
	Track float64
	// Effort penalizes control magnitude on every asset variable.
	Effort float64
	// Smooth penalizes step-to-step control changes.
	Smooth float64
	// TerminalSoC pulls the storage state of charge toward its terminal
	// target at the end of the horizon.
	TerminalSoC float64
}

// CoefficientProvider supplies versioned objective coefficients to the
// formulator.
type CoefficientProvider interface {
	// Version identifies the coefficient set, for the run log.
	Version() string
	// Weights returns the base objective weights.
	Weights() Weights
	// TrackScale returns a per-instant multiplier on the tracking weight,
	// letting revenue-aware providers weigh some intervals more than others.
	TrackScale(ts time.Time) float64
}

// StaticProvider is a CoefficientProvider with constant weights.
type StaticProvider struct {
	W   Weights
	Ver string
}

func (p StaticProvider) Version() string { return p.Ver }

func (p StaticProvider) Weights() Weights { return p.W }

func (p StaticProvider) TrackScale(time.Time) float64 { return 1 }
