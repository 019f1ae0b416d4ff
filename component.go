// Package eisfit models electrochemical impedance spectra with equivalent
// circuits: a small circuit description language, an impedance evaluator and
// a two-phase nonlinear fitting routine.
package eisfit

import (
	"math"
	"math/cmplx"
)

// Parameter describes a single fitting parameter contributed by a circuit
// element: its unique name within the circuit, its default bounds and its
// physical unit.
type Parameter struct {
	Name   string     `json:"name"`
	Bounds [2]float64 `json:"bounds"`
	Unit   string     `json:"unit"`
}

// Component is a circuit element kind. Symbol is the letter token used in
// circuit strings, Params lists the parameters an instance contributes and
// Impedance evaluates the element at a frequency vector (Hz).
//
// Implementations must be stateless so that parsed circuits stay pure.
type Component interface {
	Symbol() string
	Params(name string) []Parameter
	Impedance(values map[string]float64, name string, freqs []float64) []complex128
}

// components is the registry of known element kinds, populated once and
// never mutated afterwards. Adding a kind here is all that is needed to make
// it parseable.
var components = []Component{
	Resistor{},
	Capacitor{},
	CPE{},
	Warburg{},
	WarburgShort{},
	WarburgOpen{},
}

// lookupComponent finds the registered kind whose symbol matches exactly.
func lookupComponent(symbol string) (Component, bool) {
	for _, c := range components {
		if c.Symbol() == symbol {
			return c, true
		}
	}
	return nil, false
}

// Resistor is an ideal resistor, Z = R.
type Resistor struct{}

func (Resistor) Symbol() string { return "R" }

func (Resistor) Params(name string) []Parameter {
	return []Parameter{{Name: name, Bounds: [2]float64{1e-6, 1e6}, Unit: "Ω"}}
}

func (Resistor) Impedance(values map[string]float64, name string, freqs []float64) []complex128 {
	r := values[name]
	z := make([]complex128, len(freqs))
	for i := range freqs {
		z[i] = complex(r, 0)
	}
	return z
}

// Capacitor is an ideal capacitor, Z = 1/(jωC).
type Capacitor struct{}

func (Capacitor) Symbol() string { return "C" }

func (Capacitor) Params(name string) []Parameter {
	return []Parameter{{Name: name, Bounds: [2]float64{1e-20, 1}, Unit: "F"}}
}

func (Capacitor) Impedance(values map[string]float64, name string, freqs []float64) []complex128 {
	c := values[name]
	z := make([]complex128, len(freqs))
	for i, f := range freqs {
		z[i] = 1 / (complex(0, 2*math.Pi*f) * complex(c, 0))
	}
	return z
}

// CPE is a constant phase element, Z = (jω)^(-a)/Q. An instance named "CPE1"
// contributes the parameters "CPE1_Q" and "CPE1_a".
type CPE struct{}

func (CPE) Symbol() string { return "CPE" }

func (CPE) Params(name string) []Parameter {
	return []Parameter{
		{Name: name + "_Q", Bounds: [2]float64{1e-20, 1}, Unit: "Ω^-1 s^a"},
		{Name: name + "_a", Bounds: [2]float64{0, 1}, Unit: ""},
	}
}

func (CPE) Impedance(values map[string]float64, name string, freqs []float64) []complex128 {
	q := values[name+"_Q"]
	a := values[name+"_a"]
	z := make([]complex128, len(freqs))
	for i, f := range freqs {
		z[i] = cmplx.Pow(complex(0, 2*math.Pi*f), complex(-a, 0)) / complex(q, 0)
	}
	return z
}

// Warburg is a semi-infinite Warburg diffusion element, Z = σ(1-j)/√ω.
type Warburg struct{}

func (Warburg) Symbol() string { return "W" }

func (Warburg) Params(name string) []Parameter {
	return []Parameter{{Name: name, Bounds: [2]float64{0, 1e10}, Unit: "Ω s^(-1/2)"}}
}

func (Warburg) Impedance(values map[string]float64, name string, freqs []float64) []complex128 {
	sigma := values[name]
	z := make([]complex128, len(freqs))
	for i, f := range freqs {
		z[i] = complex(sigma, 0) * complex(1, -1) / complex(math.Sqrt(2*math.Pi*f), 0)
	}
	return z
}

// warburgAlpha is √(jωT), shared by the finite Warburg variants.
func warburgAlpha(t, f float64) complex128 {
	return cmplx.Sqrt(complex(0, t*2*math.Pi*f))
}

// safeTanh evaluates tanh, mapping overflow artifacts to the asymptotic
// value 1 so that a fit trial never aborts.
func safeTanh(x complex128) complex128 {
	th := cmplx.Tanh(x)
	if cmplx.IsNaN(th) {
		return complex(1, 0)
	}
	return th
}

// WarburgOpen is a finite-space Warburg element, Z = R/(α·tanh α) with
// α = √(jωT). An instance named "Wo1" contributes "Wo1_R" and "Wo1_T".
type WarburgOpen struct{}

func (WarburgOpen) Symbol() string { return "Wo" }

func (WarburgOpen) Params(name string) []Parameter {
	return []Parameter{
		{Name: name + "_R", Bounds: [2]float64{0, 1e10}, Unit: "Ω"},
		{Name: name + "_T", Bounds: [2]float64{1e-10, 1e10}, Unit: "s"},
	}
}

func (WarburgOpen) Impedance(values map[string]float64, name string, freqs []float64) []complex128 {
	r := values[name+"_R"]
	t := values[name+"_T"]
	z := make([]complex128, len(freqs))
	for i, f := range freqs {
		alpha := warburgAlpha(t, f)
		z[i] = complex(r, 0) / alpha / safeTanh(alpha)
	}
	return z
}

// WarburgShort is a finite-length Warburg element, Z = R·tanh(α)/α with
// α = √(jωT).
type WarburgShort struct{}

func (WarburgShort) Symbol() string { return "Ws" }

func (WarburgShort) Params(name string) []Parameter {
	return []Parameter{
		{Name: name + "_R", Bounds: [2]float64{0, 1e10}, Unit: "Ω"},
		{Name: name + "_T", Bounds: [2]float64{1e-10, 1e10}, Unit: "s"},
	}
}

func (WarburgShort) Impedance(values map[string]float64, name string, freqs []float64) []complex128 {
	r := values[name+"_R"]
	t := values[name+"_T"]
	z := make([]complex128, len(freqs))
	for i, f := range freqs {
		alpha := warburgAlpha(t, f)
		z[i] = complex(r, 0) / alpha * safeTanh(alpha)
	}
	return z
}
