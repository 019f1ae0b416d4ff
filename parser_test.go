package eisfit

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseCircuitParameterOrder(t *testing.T) {
	circ, err := ParseCircuit("R0-p(R1,CPE1)-Ws1")
	if err != nil {
		t.Fatal(err)
	}
	want := []Parameter{
		{Name: "R0", Bounds: [2]float64{1e-6, 1e6}, Unit: "Ω"},
		{Name: "R1", Bounds: [2]float64{1e-6, 1e6}, Unit: "Ω"},
		{Name: "CPE1_Q", Bounds: [2]float64{1e-20, 1}, Unit: "Ω^-1 s^a"},
		{Name: "CPE1_a", Bounds: [2]float64{0, 1}, Unit: ""},
		{Name: "Ws1_R", Bounds: [2]float64{0, 1e10}, Unit: "Ω"},
		{Name: "Ws1_T", Bounds: [2]float64{1e-10, 1e10}, Unit: "s"},
	}
	if diff := cmp.Diff(want, circ.Params); diff != "" {
		t.Fatalf("parameter mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCircuitDeterministic(t *testing.T) {
	const code = "R0-p(R1,C1)-p(R2,C2)"
	first, err := ParseCircuit(code)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ParseCircuit(code)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first.Params, second.Params); diff != "" {
		t.Fatalf("parse not deterministic (-first +second):\n%s", diff)
	}
}

func TestParseCircuitIgnoresWhitespace(t *testing.T) {
	a, err := ParseCircuit("R0-p(R1, C1)")
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseCircuit("R0-p(R1,C1)")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(b.Params, a.Params); diff != "" {
		t.Fatalf("whitespace changed the parse (-want +got):\n%s", diff)
	}
}

func TestParseCircuitErrors(t *testing.T) {
	for _, code := range []string{
		"",
		"   ",
		"X0",
		"R0-p(R1,C1",
		"R0)",
		"R0-",
		"p()",
		"R0-R0",
		"p(R1,C1)-p(R1,C2)",
	} {
		_, err := ParseCircuit(code)
		var perr *ParseError
		if err == nil {
			t.Errorf("ParseCircuit(%q): expected error, got nil", code)
		} else if !errors.As(err, &perr) {
			t.Errorf("ParseCircuit(%q): error %v is not a ParseError", code, err)
		}
	}
}

func TestSeriesImpedanceAddsResistances(t *testing.T) {
	circ, err := ParseCircuit("R0-R1")
	if err != nil {
		t.Fatal(err)
	}
	values := map[string]float64{"R0": 100, "R1": 50}
	for _, f := range []float64{1e-3, 1, 1e6} {
		z := circ.Impedance(values, []float64{f})[0]
		if real(z) != 150 || imag(z) != 0 {
			t.Fatalf("series impedance at %g Hz = %v, want (150+0i)", f, z)
		}
	}
}

func TestParallelImpedanceCombinesReciprocals(t *testing.T) {
	circ, err := ParseCircuit("p(R0,R1)")
	if err != nil {
		t.Fatal(err)
	}
	z := circ.Impedance(map[string]float64{"R0": 100, "R1": 50}, []float64{10})[0]
	want := 100.0 * 50.0 / 150.0
	if math.Abs(real(z)-want) > 1e-9 || imag(z) != 0 {
		t.Fatalf("parallel impedance = %v, want (%g+0i)", z, want)
	}
}

func TestCapacitorImpedance(t *testing.T) {
	circ, err := ParseCircuit("C1")
	if err != nil {
		t.Fatal(err)
	}
	const c, f = 1e-6, 1000.0
	z := circ.Impedance(map[string]float64{"C1": c}, []float64{f})[0]
	want := complex(0, -1/(2*math.Pi*f*c))
	if cmplx.Abs(z-want) > 1e-9 {
		t.Fatalf("capacitor impedance = %v, want %v", z, want)
	}
}

func TestCPEReducesToCapacitorAtUnitExponent(t *testing.T) {
	cpe, err := ParseCircuit("CPE1")
	if err != nil {
		t.Fatal(err)
	}
	ideal, err := ParseCircuit("C1")
	if err != nil {
		t.Fatal(err)
	}
	freqs := []float64{0.1, 10, 1e4}
	zc := ideal.Impedance(map[string]float64{"C1": 1e-6}, freqs)
	zq := cpe.Impedance(map[string]float64{"CPE1_Q": 1e-6, "CPE1_a": 1}, freqs)
	for i := range freqs {
		if cmplx.Abs(zq[i]-zc[i]) > 1e-9*cmplx.Abs(zc[i]) {
			t.Fatalf("CPE(a=1) at %g Hz = %v, capacitor = %v", freqs[i], zq[i], zc[i])
		}
	}
}

func TestWarburgImpedancePhase(t *testing.T) {
	circ, err := ParseCircuit("W1")
	if err != nil {
		t.Fatal(err)
	}
	const sigma, f = 100.0, 50.0
	z := circ.Impedance(map[string]float64{"W1": sigma}, []float64{f})[0]
	mag := sigma / math.Sqrt(2*math.Pi*f)
	if math.Abs(real(z)-mag) > 1e-9 || math.Abs(imag(z)+mag) > 1e-9 {
		t.Fatalf("Warburg impedance = %v, want (%g-%gi)", z, mag, mag)
	}
}

func TestImpedanceIgnoresExtraValues(t *testing.T) {
	circ, err := ParseCircuit("R0")
	if err != nil {
		t.Fatal(err)
	}
	values := map[string]float64{"R0": 42, "unused": 7, "R1": 9}
	z := circ.Impedance(values, []float64{1})[0]
	if real(z) != 42 {
		t.Fatalf("impedance = %v, want (42+0i)", z)
	}
}

func TestMissingValues(t *testing.T) {
	circ, err := ParseCircuit("R0-p(R1,CPE1)")
	if err != nil {
		t.Fatal(err)
	}
	missing := circ.MissingValues(map[string]float64{"R0": 1, "CPE1_a": 0.9})
	want := []string{"R1", "CPE1_Q"}
	if diff := cmp.Diff(want, missing); diff != "" {
		t.Fatalf("missing values mismatch (-want +got):\n%s", diff)
	}
}

func TestElementsInEncounterOrder(t *testing.T) {
	circ, err := ParseCircuit("R0-p(R1,C1)-Wo1")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	var symbols []string
	for _, el := range circ.Elements() {
		names = append(names, el.Name)
		symbols = append(symbols, el.Component.Symbol())
	}
	if diff := cmp.Diff([]string{"R0", "R1", "C1", "Wo1"}, names); diff != "" {
		t.Fatalf("element names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"R", "R", "C", "Wo"}, symbols); diff != "" {
		t.Fatalf("element symbols mismatch (-want +got):\n%s", diff)
	}
}

func TestNestedParallelImpedance(t *testing.T) {
	// p(R0-R1,R2) = (R0+R1) || R2
	circ, err := ParseCircuit("p(R0-R1,R2)")
	if err != nil {
		t.Fatal(err)
	}
	z := circ.Impedance(map[string]float64{"R0": 30, "R1": 70, "R2": 100}, []float64{1})[0]
	if math.Abs(real(z)-50) > 1e-9 {
		t.Fatalf("nested parallel impedance = %v, want (50+0i)", z)
	}
}
