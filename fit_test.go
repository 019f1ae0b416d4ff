package eisfit

import (
	"math"
	"testing"
)

func TestFitRoutineQuadratic(t *testing.T) {
	objective := func(x []float64) float64 {
		return (x[0]-3)*(x[0]-3) + (x[1]+1)*(x[1]+1)
	}
	got := FitRoutine(objective, []float64{0, 0}, [][2]float64{{-10, 10}, {-10, 10}}, 1)
	if math.Abs(got[0]-3) > 1e-4 || math.Abs(got[1]+1) > 1e-4 {
		t.Fatalf("minimizer = %v, want [3 -1]", got)
	}
}

func TestFitRoutineRespectsBounds(t *testing.T) {
	// Unconstrained minimum at 5, outside the box.
	objective := func(x []float64) float64 {
		return (x[0] - 5) * (x[0] - 5)
	}
	bounds := [][2]float64{{0, 2}}
	got := FitRoutine(objective, []float64{1}, bounds, 2)
	if got[0] < 0 || got[0] > 2 {
		t.Fatalf("result %g escaped bounds [0, 2]", got[0])
	}
	if math.Abs(got[0]-2) > 1e-3 {
		t.Fatalf("result %g, want the active bound 2", got[0])
	}
}

func TestFitRoutineClampsGuessIntoBounds(t *testing.T) {
	objective := func(x []float64) float64 {
		return x[0] * x[0]
	}
	got := FitRoutine(objective, []float64{50}, [][2]float64{{-1, 1}}, 1)
	if math.Abs(got[0]) > 1e-4 {
		t.Fatalf("minimizer = %g, want 0", got[0])
	}
}

func TestFitRoutineToleratesNonFiniteObjective(t *testing.T) {
	// The objective blows up on half the domain; the routine must still
	// terminate and land in the finite half.
	objective := func(x []float64) float64 {
		if x[0] > 1 {
			return math.Inf(1)
		}
		if x[0] < -1 {
			return math.NaN()
		}
		return (x[0] - 0.5) * (x[0] - 0.5)
	}
	got := FitRoutine(objective, []float64{0}, [][2]float64{{-5, 5}}, 2)
	if math.Abs(got[0]-0.5) > 1e-3 {
		t.Fatalf("minimizer = %g, want 0.5", got[0])
	}
}

func TestFitRoutineEmptyFreeSet(t *testing.T) {
	got := FitRoutine(func(x []float64) float64 { return 0 }, nil, nil, 3)
	if len(got) != 0 {
		t.Fatalf("result = %v, want empty", got)
	}
}

func TestFitRoutineRepeatSeedsNextPass(t *testing.T) {
	calls := 0
	objective := func(x []float64) float64 {
		calls++
		return (x[0] - 4) * (x[0] - 4)
	}
	one := FitRoutine(objective, []float64{0}, [][2]float64{{-10, 10}}, 1)
	callsOne := calls
	calls = 0
	three := FitRoutine(objective, []float64{0}, [][2]float64{{-10, 10}}, 3)
	if calls <= callsOne {
		t.Fatalf("repeat=3 evaluated %d times, repeat=1 %d times", calls, callsOne)
	}
	if math.Abs(one[0]-4) > 1e-4 || math.Abs(three[0]-4) > 1e-4 {
		t.Fatalf("minimizers %g and %g, want 4", one[0], three[0])
	}
}
