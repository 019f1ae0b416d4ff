package eisfit

import (
	"math"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/optimize"
)

// Fixed fitting tolerances. Only the repeat count is caller-tunable.
const (
	lmTau          = 1e-13
	lmEps          = 1e-8
	lmMaxIter      = 1000
	nmMajorIter    = 10000
	nmConvergeAbs  = 1e-9
	nmConvergeIter = 100
)

// FitRoutine minimizes objective over the box given by bounds, starting from
// guess. Each repeat runs a local Levenberg-Marquardt pass, which converges
// quickly but can stall in local minima, followed by a bounded Nelder-Mead
// simplex pass to perturb away from them. The next repeat is seeded with the
// previous output; the final output is the last simplex result.
//
// The objective may return Inf or NaN for a trial point (e.g. after an
// overflow inside an element formula); such values are tolerated and the
// routine always runs to completion.
func FitRoutine(objective func([]float64) float64, guess []float64, bounds [][2]float64, repeat int) []float64 {
	x := clampToBounds(append([]float64(nil), guess...), bounds)
	if len(x) == 0 {
		return x
	}
	if repeat < 1 {
		repeat = 1
	}
	for i := 0; i < repeat; i++ {
		x = leastSquaresPass(objective, x, bounds)
		x = simplexPass(objective, x, bounds)
	}
	return x
}

// leastSquaresPass runs an unbounded Levenberg-Marquardt step on the scalar
// objective, evaluating at bound-clamped parameters and clamping the output.
// LM panics on singular Jacobians; those are swallowed and the incoming
// guess is kept.
func leastSquaresPass(objective func([]float64) float64, guess []float64, bounds [][2]float64) (out []float64) {
	out = guess

	residual := func(dst, x []float64) {
		v := objective(clampToBounds(append([]float64(nil), x...), bounds))
		if math.IsNaN(v) {
			v = math.Inf(1)
		}
		dst[0] = v
	}
	jac := lm.NumJac{Func: residual}

	problem := lm.LMProblem{
		Dim:        len(guess),
		Size:       1,
		Func:       residual,
		Jac:        jac.Jac,
		InitParams: guess,
		Tau:        lmTau,
		Eps1:       lmEps,
		Eps2:       lmEps,
	}

	defer func() {
		if recover() != nil {
			out = guess
		}
	}()

	res, err := lm.LM(problem, &lm.Settings{Iterations: lmMaxIter, ObjectiveTol: 1e-16})
	if err != nil {
		return guess
	}
	return clampToBounds(res.X, bounds)
}

// simplexPass runs a Nelder-Mead minimization with bounds enforced through
// an infinite penalty outside the box.
func simplexPass(objective func([]float64) float64, guess []float64, bounds [][2]float64) []float64 {
	penalized := func(x []float64) float64 {
		for i, b := range bounds {
			if x[i] < b[0] || x[i] > b[1] {
				return math.Inf(1)
			}
		}
		v := objective(x)
		if math.IsNaN(v) {
			return math.Inf(1)
		}
		return v
	}

	problem := optimize.Problem{Func: penalized}
	settings := &optimize.Settings{
		MajorIterations: nmMajorIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   nmConvergeAbs,
			Iterations: nmConvergeIter,
		},
	}

	res, err := optimize.Minimize(problem, guess, settings, &optimize.NelderMead{})
	if err != nil || res == nil {
		return guess
	}
	return clampToBounds(res.X, bounds)
}

func clampToBounds(x []float64, bounds [][2]float64) []float64 {
	for i, b := range bounds {
		if x[i] < b[0] {
			x[i] = b[0]
		} else if x[i] > b[1] {
			x[i] = b[1]
		}
	}
	return x
}
