package solver

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// rmp is the LP relaxation of the restricted master problem:
//
//	min  Σ c_j x_j + M Σ u_r
//	s.t. Σ_{j covers r} x_j + u_r = d_r   for every demanded tour r
//	     x, u >= 0
//
// Each row is a demanded fingerprint with its instance count.
type rmp struct {
	costs   []float64
	rows    [][]int
	demand  []float64
	penalty float64
}

type rmpSolution struct {
	x     []float64
	duals []float64
	bound float64
}

// errLPTooLarge signals that the relaxation exceeds the configured size and
// the heuristic path must be used.
var errLPTooLarge = errors.New("rmp exceeds lp size limits")

// solveRMP solves the primal for the fractional selection and the dual for
// the tour prices. Both are put in standard form directly with an identity
// block so Simplex starts from a feasible basis.
func solveRMP(p rmp) (rmpSolution, error) {
	m, n := len(p.demand), len(p.costs)
	if m == 0 {
		return rmpSolution{x: make([]float64, n)}, nil
	}

	// Primal: variables [x (n), u (m)].
	c := make([]float64, n+m)
	copy(c, p.costs)
	a := mat.NewDense(m, n+m, nil)
	for j, rows := range p.rows {
		for _, r := range rows {
			a.Set(r, j, 1)
		}
	}
	basis := make([]int, m)
	for r := 0; r < m; r++ {
		c[n+r] = p.penalty
		a.Set(r, n+r, 1)
		basis[r] = n + r
	}
	opt, x, err := lp.Simplex(c, a, p.demand, 1e-9, basis)
	if err != nil {
		return rmpSolution{}, err
	}

	// Dual: max dᵀπ s.t. Σ_{r in j} π_r <= c_j, π_r <= M, π free.
	// Standard form with π = πp - πn and slacks s: variables [πp, πn, s].
	rows := n + m
	cols := 2*m + rows
	cd := make([]float64, cols)
	for r := 0; r < m; r++ {
		cd[r] = -p.demand[r]
		cd[m+r] = p.demand[r]
	}
	ad := mat.NewDense(rows, cols, nil)
	bd := make([]float64, rows)
	dbasis := make([]int, rows)
	for j, rs := range p.rows {
		for _, r := range rs {
			ad.Set(j, r, 1)
			ad.Set(j, m+r, -1)
		}
		bd[j] = p.costs[j]
	}
	for r := 0; r < m; r++ {
		ad.Set(n+r, r, 1)
		ad.Set(n+r, m+r, -1)
		bd[n+r] = p.penalty
	}
	for k := 0; k < rows; k++ {
		ad.Set(k, 2*m+k, 1)
		dbasis[k] = 2*m + k
	}
	_, y, err := lp.Simplex(cd, ad, bd, 1e-9, dbasis)
	if err != nil {
		return rmpSolution{}, err
	}
	duals := make([]float64, m)
	for r := range duals {
		duals[r] = y[r] - y[m+r]
	}
	return rmpSolution{x: x[:n], duals: duals, bound: opt}, nil
}

// lpSolve points to the function used to solve the relaxation. Tests replace
// it to exercise the heuristic fallback.
var lpSolve = solveRMP

// costShare prices every row by the cheapest cost per tour of a column
// covering it. It stands in for LP duals when the relaxation is skipped or
// fails.
func costShare(p rmp) []float64 {
	duals := make([]float64, len(p.demand))
	for r := range duals {
		duals[r] = math.Inf(1)
	}
	for j, rs := range p.rows {
		share := p.costs[j] / float64(len(rs))
		for _, r := range rs {
			if share < duals[r] {
				duals[r] = share
			}
		}
	}
	for r, v := range duals {
		if math.IsInf(v, 1) {
			duals[r] = p.penalty
		}
	}
	return duals
}
