package eisfit

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"github.com/apex/log"
)

// Quantity is a scalar value tagged with its physical unit.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Series is a vector of values sharing one physical unit.
type Series struct {
	Values []float64 `json:"values"`
	Unit   string    `json:"unit"`
}

// BoundsError reports a degenerate bounds override (lower >= upper).
type BoundsError struct {
	Name   string
	Bounds [2]float64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("degenerate bounds for %s: [%g, %g]", e.Name, e.Bounds[0], e.Bounds[1])
}

// FitOptions tunes FitCircuit. The zero value selects the defaults: ignore
// points with non-positive real impedance, no frequency window, a single
// fitting pass and the output prefix "fit_circuit".
type FitOptions struct {
	// Bounds overrides the default bounds of individual parameters.
	Bounds map[string][2]float64
	// Constants lists parameters held fixed at their initial value.
	Constants []string
	// KeepNegRes keeps data points whose real part is non-positive.
	KeepNegRes bool
	// LowerFreq and UpperFreq bound the fitted frequency window (exclusive).
	// An UpperFreq of 0 means +Inf.
	LowerFreq float64
	UpperFreq float64
	// Repeat is how many times the two-phase fit routine is run.
	Repeat int
	// Output is the prefix of the result keys.
	Output string
}

// FitCircuit fits the free parameters of an equivalent circuit to a measured
// impedance spectrum. realZ carries Re(Z), negImagZ carries -Im(Z), both in
// Ω, and freq the frequencies in Hz; the three must have equal length.
// Every parameter of the circuit needs an entry in initial.
//
// The returned map holds the circuit string under "{output}->circuit" and
// each fitted parameter under "{output}->{name}" as a unit-tagged Quantity.
func FitCircuit(realZ, negImagZ, freq []float64, circuit string, initial map[string]float64, opts *FitOptions) (map[string]interface{}, error) {
	if opts == nil {
		opts = &FitOptions{}
	}
	output := opts.Output
	if output == "" {
		output = "fit_circuit"
	}
	upper := opts.UpperFreq
	if upper == 0 {
		upper = math.Inf(1)
	}

	if len(realZ) != len(negImagZ) || len(realZ) != len(freq) {
		return nil, fmt.Errorf("input length mismatch: %d real, %d imag, %d freq",
			len(realZ), len(negImagZ), len(freq))
	}

	// Frequency window and the optional negative-resistance filter.
	var frequency []float64
	var z []complex128
	for i, f := range freq {
		if f <= opts.LowerFreq || f >= upper {
			continue
		}
		if !opts.KeepNegRes && realZ[i] <= 0 {
			continue
		}
		frequency = append(frequency, f)
		z = append(z, complex(realZ[i], -negImagZ[i]))
	}

	circ, err := ParseCircuit(circuit)
	if err != nil {
		return nil, err
	}

	constants := make(map[string]bool, len(opts.Constants))
	for _, name := range opts.Constants {
		constants[name] = true
	}
	if err := checkKnownParams(circ, opts, constants); err != nil {
		return nil, err
	}

	values := make(map[string]float64, len(initial))
	for k, v := range initial {
		values[k] = v
	}

	// Split the circuit parameters into the free set to optimize and the
	// constants held at their initial value.
	var freeNames []string
	var freeGuess []float64
	var freeBounds [][2]float64
	for _, p := range circ.Params {
		v, ok := initial[p.Name]
		if !ok {
			return nil, &MissingValueError{Name: p.Name}
		}
		if constants[p.Name] {
			continue
		}
		b := p.Bounds
		if override, ok := opts.Bounds[p.Name]; ok {
			if override[0] >= override[1] {
				return nil, &BoundsError{Name: p.Name, Bounds: override}
			}
			b = override
		}
		freeNames = append(freeNames, p.Name)
		freeGuess = append(freeGuess, v)
		freeBounds = append(freeBounds, b)
	}

	objective := func(x []float64) float64 {
		for i, name := range freeNames {
			values[name] = x[i]
		}
		predicted := circ.Impedance(values, frequency)
		return weightedResidual(predicted, z)
	}

	fitted := FitRoutine(objective, freeGuess, freeBounds, opts.Repeat)
	for i, name := range freeNames {
		values[name] = fitted[i]
	}

	retval := map[string]interface{}{output + "->circuit": circuit}
	for _, p := range circ.Params {
		retval[output+"->"+p.Name] = Quantity{Value: values[p.Name], Unit: p.Unit}
	}
	return retval, nil
}

// checkKnownParams rejects bound overrides or constants naming parameters
// the circuit does not declare.
func checkKnownParams(circ *Circuit, opts *FitOptions, constants map[string]bool) error {
	known := make(map[string]bool, len(circ.Params))
	for _, p := range circ.Params {
		known[p.Name] = true
	}
	for name := range opts.Bounds {
		if !known[name] {
			return fmt.Errorf("bounds given for unknown parameter %s", name)
		}
	}
	for name := range constants {
		if !known[name] {
			return fmt.Errorf("constant %s is not a circuit parameter", name)
		}
	}
	return nil
}

// weightedResidual is the fitting loss: the squared distance between
// predicted and measured points, each divided by the squared magnitude of
// the measured point, summed NaN-safely and square-rooted.
func weightedResidual(predicted, measured []complex128) float64 {
	sum := 0.0
	for i, m := range measured {
		e := cmplx.Abs(m - predicted[i])
		wse := e * e / (real(m)*real(m) + imag(m)*imag(m))
		if math.IsNaN(wse) {
			continue
		}
		sum += wse
	}
	return math.Sqrt(sum)
}

// CalcCircuit evaluates a fully specified equivalent circuit at the given
// frequencies (Hz). Every parameter of the circuit needs an entry in params.
// The returned map holds Re(Z) under "{output}->Re(Z)" and -Im(Z) under
// "{output}->-Im(Z)", both as Series in Ω. An empty output defaults to
// "calc_circuit".
func CalcCircuit(freq []float64, circuit string, params map[string]float64, output string) (map[string]interface{}, error) {
	if output == "" {
		output = "calc_circuit"
	}

	circ, err := ParseCircuit(circuit)
	if err != nil {
		return nil, err
	}
	if missing := circ.MissingValues(params); len(missing) > 0 {
		return nil, &MissingValueError{Name: missing[0]}
	}

	impedance := circ.Impedance(params, freq)
	re := make([]float64, len(impedance))
	im := make([]float64, len(impedance))
	for i, z := range impedance {
		re[i] = real(z)
		im[i] = -imag(z)
	}

	return map[string]interface{}{
		output + "->Re(Z)":  Series{Values: re, Unit: "Ω"},
		output + "->-Im(Z)": Series{Values: im, Unit: "Ω"},
	}, nil
}

// LowestRealImpedance finds the lowest Re(Z) at which the impedance is a
// real number, interpolating Re(Z) at the first -Im(Z) crossing of
// threshold. If the spectrum never crosses, the Re(Z) at the smallest
// |Im(Z)| is returned instead. An empty output defaults to "min Re(Z)".
func LowestRealImpedance(realZ, negImagZ []float64, threshold float64, output string) (map[string]interface{}, error) {
	if output == "" {
		output = "min Re(Z)"
	}
	if len(realZ) != len(negImagZ) {
		return nil, fmt.Errorf("input length mismatch: %d real, %d imag", len(realZ), len(negImagZ))
	}
	if len(realZ) == 0 {
		return nil, fmt.Errorf("empty impedance data")
	}

	idx := make([]int, len(realZ))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return realZ[idx[a]] < realZ[idx[b]] })

	re := make([]float64, len(idx))
	im := make([]float64, len(idx))
	for i, j := range idx {
		re[i] = realZ[j]
		im[i] = negImagZ[j]
	}

	// Index of the first point past the crossing of threshold, relative to
	// the sign of the lowest-Re(Z) point.
	crossing := -1
	for i, v := range im {
		if (im[0] > 0 && v < threshold) || (im[0] <= 0 && v > threshold) {
			crossing = i
			break
		}
	}

	if crossing <= 0 {
		log.Warn("no real impedance found, returning Re(Z) with the smallest complex component")
		best := 0
		for i, v := range im {
			if math.Abs(v) < math.Abs(im[best]) {
				best = i
			}
		}
		return map[string]interface{}{output: Quantity{Value: re[best], Unit: "Ω"}}, nil
	}

	// Linear interpolation of Re(Z) at -Im(Z) = 0 between the two points
	// straddling the crossing.
	x0, x1 := im[crossing-1], im[crossing]
	y0, y1 := re[crossing-1], re[crossing]
	value := y0
	if x1 != x0 {
		value = y0 + (0-x0)*(y1-y0)/(x1-x0)
	}
	return map[string]interface{}{output: Quantity{Value: value, Unit: "Ω"}}, nil
}
