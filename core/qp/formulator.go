package qp

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/enerflow/hybridmpc/core/model"
)

// FormulationError reports an input that cannot be turned into a well-posed
// QP: short forecast coverage or an internally inconsistent bound.
type FormulationError struct {
	Reason string
}

func (e *FormulationError) Error() string { return "formulation: " + e.Reason }

func formErrf(format string, args ...any) error {
	return &FormulationError{Reason: fmt.Sprintf(format, args...)}
}

// AssetSpec describes one controllable asset over a horizon.
type AssetSpec struct {
	ID model.AssetID

	MinKW float64
	MaxKW float64
	// RampKWPerStep limits the change between consecutive steps. Zero
	// disables the ramp constraint.
	RampKWPerStep float64
	// LastPowerKW is the most recently achieved power, anchoring the first
	// step's ramp and smoothness terms.
	LastPowerKW float64

	// Storage-only fields. SoC values are fractions of CapacityKWh.
	Storage     bool
	CapacityKWh float64
	SoC         float64
	SoCMin      float64
	SoCMax      float64
	TerminalSoC float64
}

// Inputs collects everything one tier resolve feeds into the formulator.
type Inputs struct {
	Horizon model.Horizon
	Start   time.Time

	// Assets under this tier's control, in a fixed order.
	Assets []AssetSpec

	// NetLoadKW is the per-step demand minus uncontrolled generation the
	// controlled assets must balance. Length must cover Horizon.Steps.
	NetLoadKW []float64

	// Inherited carries the bounds cascaded from the tier above, keyed by
	// asset and aligned to this tier's step grid.
	Inherited map[model.AssetID]model.Bound

	// AvailableKW caps forecast-driven assets per step: the variable's upper
	// bound becomes min(MaxKW, AvailableKW[id][k]). Length must cover
	// Horizon.Steps for every listed asset.
	AvailableKW map[model.AssetID][]float64

	Provider CoefficientProvider
}

// Formulation is a built QP plus the variable layout needed to read a
// solution back out. Variables are laid out asset-major: one block of
// Horizon.Steps powers per asset, then one block of per-step grid deviation
// variables.
type Formulation struct {
	Problem

	Horizon model.Horizon
	Start   time.Time
	Assets  []model.AssetID

	// Warm is a feasibility-oriented starting point: each asset ramps from
	// its last achieved power toward zero, deviations absorb the balance.
	Warm []float64

	steps int
}

// assetBlock returns the variable index of asset ia at step k.
func (f *Formulation) assetBlock(ia, k int) int { return ia*f.steps + k }

// deviationIndex returns the variable index of the step-k deviation.
func (f *Formulation) deviationIndex(k int) int { return len(f.Assets)*f.steps + k }

// Setpoints extracts the per-asset trajectories from a solution vector.
func (f *Formulation) Setpoints(x []float64) []model.Setpoint {
	out := make([]model.Setpoint, len(f.Assets))
	for ia, id := range f.Assets {
		traj := make([]float64, f.steps)
		copy(traj, x[ia*f.steps:(ia+1)*f.steps])
		out[ia] = model.Setpoint{Asset: id, PowerKW: traj}
	}
	return out
}

// Deviations extracts the per-step grid deviation from a solution vector.
func (f *Formulation) Deviations(x []float64) []float64 {
	out := make([]float64, f.steps)
	copy(out, x[len(f.Assets)*f.steps:])
	return out
}

// Build turns tier inputs into a QP. It fails with a FormulationError when
// forecast coverage is shorter than the horizon or a bound is inconsistent.
func Build(in Inputs) (*Formulation, error) {
	if err := in.Horizon.Validate(); err != nil {
		return nil, formErrf("horizon: %v", err)
	}
	N := in.Horizon.Steps
	if len(in.Assets) == 0 {
		return nil, formErrf("no controllable assets")
	}
	if len(in.NetLoadKW) < N {
		return nil, formErrf("net load covers %d of %d steps", len(in.NetLoadKW), N)
	}
	if in.Provider == nil {
		return nil, formErrf("coefficient provider is required")
	}
	w := in.Provider.Weights()
	if w.Track <= 0 || w.Effort <= 0 {
		return nil, formErrf("track and effort weights must be positive, got %g and %g", w.Track, w.Effort)
	}
	if w.Smooth < 0 || w.TerminalSoC < 0 {
		return nil, formErrf("smooth and terminal weights must be non-negative")
	}

	nA := len(in.Assets)
	n := (nA + 1) * N
	f := &Formulation{
		Horizon: in.Horizon,
		Start:   in.Start,
		Assets:  make([]model.AssetID, nA),
		steps:   N,
	}
	for ia, a := range in.Assets {
		f.Assets[ia] = a.ID
	}

	P := mat.NewSymDense(n, nil)
	q := make([]float64, n)
	lower := make([]float64, n)
	upper := make([]float64, n)
	var ineqs []LinIneq

	dtHours := in.Horizon.Step.Hours()

	for ia, a := range in.Assets {
		if a.MinKW > a.MaxKW {
			return nil, formErrf("asset %s: min %g > max %g", a.ID, a.MinKW, a.MaxKW)
		}
		if a.Storage {
			if a.CapacityKWh <= 0 {
				return nil, formErrf("asset %s: storage capacity must be positive", a.ID)
			}
			if a.SoCMin > a.SoCMax {
				return nil, formErrf("asset %s: soc min %g > max %g", a.ID, a.SoCMin, a.SoCMax)
			}
		}

		bound, hasBound := in.Inherited[a.ID]
		if hasBound {
			if err := bound.Validate(N); err != nil {
				return nil, formErrf("asset %s: inherited bound: %v", a.ID, err)
			}
		}
		avail, hasAvail := in.AvailableKW[a.ID]
		if hasAvail && len(avail) < N {
			return nil, formErrf("asset %s: availability covers %d of %d steps", a.ID, len(avail), N)
		}

		for k := 0; k < N; k++ {
			i := f.assetBlock(ia, k)
			lo, hi := a.MinKW, a.MaxKW
			if hasAvail {
				hi = math.Min(hi, avail[k])
			}
			if hasBound && bound.Kind == model.BoundHard {
				lo = math.Max(lo, bound.Lower[k])
				hi = math.Min(hi, bound.Upper[k])
			}
			if k == 0 && a.RampKWPerStep > 0 {
				lo = math.Max(lo, a.LastPowerKW-a.RampKWPerStep)
				hi = math.Min(hi, a.LastPowerKW+a.RampKWPerStep)
			}
			if lo > hi+1e-9 {
				return nil, formErrf("asset %s: empty feasible range [%g, %g] at step %d", a.ID, lo, hi, k)
			}
			lower[i], upper[i] = lo, math.Max(lo, hi)

			// Control effort.
			P.SetSym(i, i, P.At(i, i)+2*w.Effort)

			// Soft tracking toward the inherited target.
			if hasBound && bound.Kind == model.BoundSoft {
				P.SetSym(i, i, P.At(i, i)+2*bound.Penalty)
				q[i] -= 2 * bound.Penalty * bound.Target[k]
			}
		}

		// Smoothness across consecutive steps, anchored at the last achieved
		// power for the first step.
		if w.Smooth > 0 {
			i0 := f.assetBlock(ia, 0)
			P.SetSym(i0, i0, P.At(i0, i0)+2*w.Smooth)
			q[i0] -= 2 * w.Smooth * a.LastPowerKW
			for k := 1; k < N; k++ {
				i, j := f.assetBlock(ia, k), f.assetBlock(ia, k-1)
				P.SetSym(i, i, P.At(i, i)+2*w.Smooth)
				P.SetSym(j, j, P.At(j, j)+2*w.Smooth)
				P.SetSym(i, j, P.At(i, j)-2*w.Smooth)
			}
		}

		// Ramp-rate rows between consecutive steps.
		if a.RampKWPerStep > 0 {
			for k := 1; k < N; k++ {
				i, j := f.assetBlock(ia, k), f.assetBlock(ia, k-1)
				ineqs = append(ineqs,
					LinIneq{Index: []int{i, j}, Coef: []float64{1, -1}, RHS: a.RampKWPerStep},
					LinIneq{Index: []int{j, i}, Coef: []float64{1, -1}, RHS: a.RampKWPerStep},
				)
			}
		}

		// Storage: cumulative SoC window and terminal pull. Positive power
		// discharges, so soc_k = soc0 - c*sum(p_0..p_k).
		if a.Storage {
			c := dtHours / a.CapacityKWh
			idx := make([]int, 0, N)
			coefPos := make([]float64, 0, N)
			coefNeg := make([]float64, 0, N)
			for k := 0; k < N; k++ {
				idx = append(idx, f.assetBlock(ia, k))
				coefPos = append(coefPos, c)
				coefNeg = append(coefNeg, -c)
				// soc0 - c*sum >= SoCMin  =>  c*sum <= soc0 - SoCMin
				ineqs = append(ineqs, LinIneq{
					Index: append([]int(nil), idx...),
					Coef:  append([]float64(nil), coefPos...),
					RHS:   a.SoC - a.SoCMin,
				})
				// soc0 - c*sum <= SoCMax  =>  -c*sum <= SoCMax - soc0
				ineqs = append(ineqs, LinIneq{
					Index: append([]int(nil), idx...),
					Coef:  append([]float64(nil), coefNeg...),
					RHS:   a.SoCMax - a.SoC,
				})
			}
			if w.TerminalSoC > 0 {
				// w*(soc0 - c*sum - terminal)^2 expands into a rank-one
				// quadratic over the storage block.
				d := a.SoC - a.TerminalSoC
				for ki := 0; ki < N; ki++ {
					i := f.assetBlock(ia, ki)
					q[i] -= 2 * w.TerminalSoC * c * d
					for kj := 0; kj <= ki; kj++ {
						j := f.assetBlock(ia, kj)
						P.SetSym(i, j, P.At(i, j)+2*w.TerminalSoC*c*c)
					}
				}
			}
		}
	}

	// Per-step power balance with an explicit deviation variable:
	// sum_a p_{a,k} + g_k = netload_k. The deviation keeps the equality
	// satisfiable while the physical limits above stay hard.
	Aeq := mat.NewDense(N, n, nil)
	beq := make([]float64, N)
	for k := 0; k < N; k++ {
		for ia := range in.Assets {
			Aeq.Set(k, f.assetBlock(ia, k), 1)
		}
		g := f.deviationIndex(k)
		Aeq.Set(k, g, 1)
		beq[k] = in.NetLoadKW[k]

		lower[g], upper[g] = math.Inf(-1), math.Inf(1)
		scale := in.Provider.TrackScale(in.Start.Add(time.Duration(k) * in.Horizon.Step))
		if scale <= 0 {
			return nil, formErrf("track scale must be positive at step %d, got %g", k, scale)
		}
		P.SetSym(g, g, P.At(g, g)+2*w.Track*scale)
	}

	f.Problem = Problem{P: P, Q: q, Aeq: Aeq, Beq: beq, Ineq: ineqs, Lower: lower, Upper: upper}
	f.Warm = f.warmStart(in)
	return f, nil
}

// warmStart builds a starting point that respects boxes and ramp rows: each
// asset ramps from its last power toward zero (clamped into its box) and the
// deviation variables absorb the residual balance.
func (f *Formulation) warmStart(in Inputs) []float64 {
	N := f.steps
	x := make([]float64, f.Problem.NumVars())
	for ia, a := range in.Assets {
		p := a.LastPowerKW
		for k := 0; k < N; k++ {
			if a.RampKWPerStep > 0 {
				switch {
				case p > a.RampKWPerStep:
					p -= a.RampKWPerStep
				case p < -a.RampKWPerStep:
					p += a.RampKWPerStep
				default:
					p = 0
				}
			} else {
				p = 0
			}
			i := f.assetBlock(ia, k)
			v := math.Min(math.Max(p, f.Lower[i]), f.Upper[i])
			x[i] = v
			p = v
		}
	}
	for k := 0; k < N; k++ {
		var sum float64
		for ia := range in.Assets {
			sum += x[f.assetBlock(ia, k)]
		}
		x[f.deviationIndex(k)] = in.NetLoadKW[k] - sum
	}
	return x
}
