package processing

import (
	"math"
	"testing"

	"github.com/echemlab/eisfit"
	"github.com/echemlab/eisfit/pkg/config"
)

func testSpectrum(t *testing.T, circuit string, values map[string]float64, n int) ([]float64, [][2]float64) {
	t.Helper()
	circ, err := eisfit.ParseCircuit(circuit)
	if err != nil {
		t.Fatalf("ParseCircuit: %v", err)
	}
	freqs := make([]float64, n)
	for i := range freqs {
		freqs[i] = math.Pow(10, -2+6*float64(i)/float64(n-1))
	}
	z := circ.Impedance(values, freqs)
	impData := make([][2]float64, n)
	for i, v := range z {
		impData[i] = [2]float64{real(v), -imag(v)}
	}
	return freqs, impData
}

func TestProcessRecoversParameters(t *testing.T) {
	truth := map[string]float64{"R0": 50, "R1": 200, "C1": 1e-6}
	freqs, impData := testSpectrum(t, "R0-p(R1,C1)", truth, 60)

	cfg := config.DefaultConfig()
	cfg.Quiet = true
	cfg.InitialValues = config.ParamValues{"R0": 40, "R1": 180, "C1": 2e-6}

	proc := NewProcessor()
	report, err := proc.Process(freqs, impData, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for name, want := range truth {
		got := report.Values[name].Value
		if math.Abs(got-want)/want > 0.01 {
			t.Errorf("%s = %g, want %g within 1%%", name, got, want)
		}
	}
	if report.Points != len(freqs) {
		t.Errorf("Points = %d, want %d", report.Points, len(freqs))
	}
	if report.Loss > 1e-3 {
		t.Errorf("Loss = %g, want near zero for synthetic data", report.Loss)
	}
	if report.Residuals.Mean < 0 || math.IsNaN(report.Residuals.Mean) {
		t.Errorf("Residuals.Mean = %g", report.Residuals.Mean)
	}
}

func TestProcessRejectsLengthMismatch(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Quiet = true
	proc := NewProcessor()
	if _, err := proc.Process([]float64{1, 10}, [][2]float64{{1, 1}}, cfg); err == nil {
		t.Fatal("expected length mismatch error")
	}
	if _, err := proc.Process(nil, nil, cfg); err == nil {
		t.Fatal("expected empty data error")
	}
}

func TestProcessMissingInitialValue(t *testing.T) {
	freqs, impData := testSpectrum(t, "R0-p(R1,C1)", map[string]float64{"R0": 50, "R1": 200, "C1": 1e-6}, 20)

	cfg := config.DefaultConfig()
	cfg.Quiet = true
	cfg.InitialValues = config.ParamValues{"R0": 40}

	proc := NewProcessor()
	if _, err := proc.Process(freqs, impData, cfg); err == nil {
		t.Fatal("expected error for missing initial values")
	}
}

func TestElementImpedances(t *testing.T) {
	values := map[string]eisfit.Quantity{
		"R0": {Value: 50, Unit: "Ω"},
		"R1": {Value: 200, Unit: "Ω"},
		"C1": {Value: 1e-6, Unit: "F"},
	}
	freqs := []float64{0.1, 1, 10, 100}

	proc := NewProcessor()
	elements, err := proc.ElementImpedances("R0-p(R1,C1)", values, freqs)
	if err != nil {
		t.Fatalf("ElementImpedances: %v", err)
	}
	if len(elements) != 3 {
		t.Fatalf("got %d elements, want 3", len(elements))
	}
	if elements[0].Name != "R0" {
		t.Errorf("first element %q, want R0", elements[0].Name)
	}
	for _, el := range elements {
		if len(el.Real) != len(freqs) || len(el.Imag) != len(freqs) {
			t.Errorf("%s: series length mismatch", el.Name)
		}
	}
	for i := range freqs {
		if elements[0].Real[i] != 50 || elements[0].Imag[i] != 0 {
			t.Errorf("R0 impedance at %g Hz = (%g, %g), want (50, 0)",
				freqs[i], elements[0].Real[i], elements[0].Imag[i])
		}
	}
}

func TestElementImpedancesMissingValue(t *testing.T) {
	proc := NewProcessor()
	_, err := proc.ElementImpedances("R0-C1", map[string]eisfit.Quantity{"R0": {Value: 50}}, []float64{1})
	if err == nil {
		t.Fatal("expected error for missing value")
	}
}
