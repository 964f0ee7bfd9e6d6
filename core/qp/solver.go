package qp

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/enerflow/hybridmpc/core/model"
)

// Result carries the outcome of one QP solve.
type Result struct {
	X          []float64
	Objective  float64
	Status     model.SolverStatus
	Iterations int
}

// Solver solves convex QPs with a primal active-set method: equality-
// constrained subproblems are solved through dense KKT systems, inequalities
// enter and leave a working set via ratio tests and Lagrange multipliers.
// Infeasible starts fall back to a simplex phase-one. Solve is a pure
// function of its inputs.
type Solver struct {
	// MaxIter bounds active-set iterations before giving up with a
	// numerical-error status.
	MaxIter int
	// Tol is the feasibility and multiplier tolerance.
	Tol float64
}

// NewSolver returns a Solver with default tolerances.
func NewSolver() *Solver {
	return &Solver{MaxIter: 500, Tol: 1e-8}
}

// ineqRow is one inequality a'x <= rhs in the solver's unified row list,
// covering both general inequalities and finite box bounds.
type ineqRow struct {
	idx  []int
	coef []float64
	rhs  float64
}

func (r ineqRow) dot(x []float64) float64 {
	var v float64
	for i, j := range r.idx {
		v += r.coef[i] * x[j]
	}
	return v
}

// Solve minimizes the problem starting from warm when it is feasible. A nil
// warm start forces the phase-one path.
func (s *Solver) Solve(p *Problem, warm []float64) Result {
	n := p.NumVars()
	if st, ok := s.checkBoundedness(p); !ok {
		return Result{Status: st}
	}

	rows, boxUpper, boxLower := buildRows(p)

	x := make([]float64, n)
	if warm != nil && len(warm) == n && s.feasible(p, rows, warm) {
		copy(x, warm)
	} else {
		x0, st := s.phaseOne(p, rows)
		if st != model.StatusOptimal {
			return Result{Status: st}
		}
		x = x0
	}

	// Seed the working set with box rows active at the start: they are
	// linearly independent by construction (one variable each).
	active := make([]bool, len(rows))
	var working []int
	for i := 0; i < n; i++ {
		switch {
		case boxUpper[i] >= 0 && x[i] >= p.Upper[i]-s.Tol:
			working = append(working, boxUpper[i])
			active[boxUpper[i]] = true
		case boxLower[i] >= 0 && x[i] <= p.Lower[i]+s.Tol:
			working = append(working, boxLower[i])
			active[boxLower[i]] = true
		}
	}

	mEq := 0
	if p.Aeq != nil {
		mEq, _ = p.Aeq.Dims()
	}

	grad := make([]float64, n)
	for iter := 1; iter <= s.MaxIter; iter++ {
		// grad = Px + q
		gv := mat.NewVecDense(n, grad)
		gv.MulVec(p.P, mat.NewVecDense(n, x))
		for i := range grad {
			grad[i] += p.Q[i]
		}

		d, lambda, err := s.kktSolve(p, rows, working, mEq, grad)
		if err != nil {
			return Result{X: x, Status: model.StatusNumericalError, Iterations: iter}
		}

		if maxAbs(d) <= s.Tol*(1+maxAbs(x)) {
			// Stationary on the working set: check multipliers.
			drop, minLambda := -1, -s.Tol
			for i, l := range lambda {
				if l < minLambda {
					minLambda = l
					drop = i
				}
			}
			if drop < 0 {
				return Result{X: x, Objective: p.Objective(x), Status: model.StatusOptimal, Iterations: iter}
			}
			active[working[drop]] = false
			working = append(working[:drop], working[drop+1:]...)
			continue
		}

		// Ratio test against inactive inequalities.
		alpha, blocking := 1.0, -1
		for ri := range rows {
			if active[ri] {
				continue
			}
			sd := rows[ri].dot(d)
			if sd <= s.Tol {
				continue
			}
			slack := rows[ri].rhs - rows[ri].dot(x)
			step := slack / sd
			if step < alpha-1e-12 {
				alpha = math.Max(step, 0)
				blocking = ri
			}
		}
		for i := range x {
			x[i] += alpha * d[i]
		}
		if blocking >= 0 {
			working = append(working, blocking)
			active[blocking] = true
		}
	}
	return Result{X: x, Status: model.StatusNumericalError, Iterations: s.MaxIter}
}

// kktSolve solves the equality-constrained subproblem on the working set:
//
//	[P  A'] [d]   [-grad]
//	[A  0 ] [y] = [0]
//
// where A stacks the equality rows and the working inequalities. It returns
// the step d and the multipliers of the working inequalities.
func (s *Solver) kktSolve(p *Problem, rows []ineqRow, working []int, mEq int, grad []float64) ([]float64, []float64, error) {
	n := p.NumVars()
	mW := len(working)
	dim := n + mEq + mW

	K := mat.NewDense(dim, dim, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			K.Set(i, j, p.P.At(i, j))
		}
	}
	for r := 0; r < mEq; r++ {
		for j := 0; j < n; j++ {
			v := p.Aeq.At(r, j)
			K.Set(n+r, j, v)
			K.Set(j, n+r, v)
		}
	}
	for wi, ri := range working {
		row := rows[ri]
		for i, j := range row.idx {
			K.Set(n+mEq+wi, j, row.coef[i])
			K.Set(j, n+mEq+wi, row.coef[i])
		}
	}

	rhs := mat.NewVecDense(dim, nil)
	for i := 0; i < n; i++ {
		rhs.SetVec(i, -grad[i])
	}

	var sol mat.VecDense
	if err := sol.SolveVec(K, rhs); err != nil {
		return nil, nil, err
	}
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = sol.AtVec(i)
	}
	lambda := make([]float64, mW)
	for i := 0; i < mW; i++ {
		// Stationarity at d=0 reads grad + A'y = 0, so y is the multiplier
		// of its a'x <= b row and optimality needs y >= 0.
		lambda[i] = sol.AtVec(n + mEq + i)
	}
	return d, lambda, nil
}

// buildRows merges the general inequalities and the finite box bounds into a
// single list. boxUpper[i]/boxLower[i] give the row index of variable i's
// bound rows, or -1.
func buildRows(p *Problem) (rows []ineqRow, boxUpper, boxLower []int) {
	n := p.NumVars()
	rows = make([]ineqRow, 0, len(p.Ineq)+2*n)
	for _, c := range p.Ineq {
		rows = append(rows, ineqRow{idx: c.Index, coef: c.Coef, rhs: c.RHS})
	}
	boxUpper = make([]int, n)
	boxLower = make([]int, n)
	for i := 0; i < n; i++ {
		boxUpper[i], boxLower[i] = -1, -1
		if !math.IsInf(p.Upper[i], 1) {
			boxUpper[i] = len(rows)
			rows = append(rows, ineqRow{idx: []int{i}, coef: []float64{1}, rhs: p.Upper[i]})
		}
		if !math.IsInf(p.Lower[i], -1) {
			boxLower[i] = len(rows)
			rows = append(rows, ineqRow{idx: []int{i}, coef: []float64{-1}, rhs: -p.Lower[i]})
		}
	}
	return rows, boxUpper, boxLower
}

// feasible reports whether x satisfies all constraints within tolerance.
func (s *Solver) feasible(p *Problem, rows []ineqRow, x []float64) bool {
	tol := s.Tol * 100
	if p.Aeq != nil {
		m, n := p.Aeq.Dims()
		for r := 0; r < m; r++ {
			var v float64
			for j := 0; j < n; j++ {
				v += p.Aeq.At(r, j) * x[j]
			}
			if math.Abs(v-p.Beq[r]) > tol*(1+math.Abs(p.Beq[r])) {
				return false
			}
		}
	}
	for _, row := range rows {
		if row.dot(x) > row.rhs+tol*(1+math.Abs(row.rhs)) {
			return false
		}
	}
	return true
}

// phaseOne finds a feasible point through a zero-cost simplex solve, the same
// machinery used for strict LP dispatch. It reports infeasible when no point
// satisfies the constraint set.
func (s *Solver) phaseOne(p *Problem, rows []ineqRow) ([]float64, model.SolverStatus) {
	n := p.NumVars()
	G := mat.NewDense(len(rows), n, nil)
	h := make([]float64, len(rows))
	for ri, row := range rows {
		for i, j := range row.idx {
			G.Set(ri, j, row.coef[i])
		}
		h[ri] = row.rhs
	}
	c := make([]float64, n)

	var aeq mat.Matrix
	var beq []float64
	if p.Aeq != nil {
		aeq, beq = p.Aeq, p.Beq
	}
	cStd, aStd, bStd := lp.Convert(c, G, h, aeq, beq)
	_, xStd, err := lp.Simplex(cStd, aStd, bStd, 1e-9, nil)
	if err != nil {
		if errors.Is(err, lp.ErrInfeasible) {
			return nil, model.StatusInfeasible
		}
		return nil, model.StatusNumericalError
	}
	// Convert represents each free variable as the difference of two
	// non-negative ones, laid out [x+ x-].
	x := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = xStd[i] - xStd[n+i]
	}
	return x, model.StatusOptimal
}

// checkBoundedness scans for variables with no curvature, a descent
// direction, and nothing holding them back. Such problems are unbounded by
// inspection; everything else must carry positive curvature.
func (s *Solver) checkBoundedness(p *Problem) (model.SolverStatus, bool) {
	n := p.NumVars()
	referenced := make([]bool, n)
	for _, c := range p.Ineq {
		for _, j := range c.Index {
			referenced[j] = true
		}
	}
	if p.Aeq != nil {
		m, _ := p.Aeq.Dims()
		for r := 0; r < m; r++ {
			for j := 0; j < n; j++ {
				if p.Aeq.At(r, j) != 0 {
					referenced[j] = true
				}
			}
		}
	}
	for i := 0; i < n; i++ {
		var curv float64
		for j := 0; j < n; j++ {
			curv += math.Abs(p.P.At(i, j))
		}
		if curv > 0 || p.Q[i] == 0 || referenced[i] {
			continue
		}
		if p.Q[i] < 0 && math.IsInf(p.Upper[i], 1) {
			return model.StatusUnbounded, false
		}
		if p.Q[i] > 0 && math.IsInf(p.Lower[i], -1) {
			return model.StatusUnbounded, false
		}
	}
	return model.StatusOptimal, true
}

func maxAbs(v []float64) float64 {
	var m float64
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}
