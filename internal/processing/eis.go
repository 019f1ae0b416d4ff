// Package processing turns raw spectra plus a Config into fit reports,
// sitting between the transport layer and the eisfit core.
package processing

import (
	"fmt"
	"math"

	"github.com/apex/log"
	"github.com/montanaflynn/stats"

	"github.com/echemlab/eisfit"
	"github.com/echemlab/eisfit/pkg/config"
	"github.com/echemlab/eisfit/pkg/models"
)

// Processor fits equivalent circuits to measured spectra.
type Processor struct{}

// NewProcessor creates a new spectrum processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process fits the configured circuit to one spectrum and summarizes the
// result. impData rows are {Re(Z), -Im(Z)} in Ω.
func (p *Processor) Process(freqs []float64, impData [][2]float64, cfg *config.Config) (models.FitReport, error) {
	if len(freqs) == 0 {
		return models.FitReport{}, fmt.Errorf("no frequency data provided")
	}
	if len(freqs) != len(impData) {
		return models.FitReport{}, fmt.Errorf("frequency and impedance data length mismatch: %d vs %d",
			len(freqs), len(impData))
	}

	realZ := make([]float64, len(impData))
	negImag := make([]float64, len(impData))
	for i, v := range impData {
		realZ[i] = v[0]
		negImag[i] = v[1]
	}

	opts := &eisfit.FitOptions{
		Bounds:     map[string][2]float64(cfg.Bounds),
		Constants:  []string(cfg.Constants),
		KeepNegRes: cfg.KeepNegRes,
		LowerFreq:  cfg.LowerFreq,
		UpperFreq:  cfg.UpperFreq,
		Repeat:     cfg.Repeat,
		Output:     cfg.Output,
	}

	out, err := eisfit.FitCircuit(realZ, negImag, freqs, cfg.Circuit, map[string]float64(cfg.InitialValues), opts)
	if err != nil {
		return models.FitReport{}, fmt.Errorf("fit %q: %w", cfg.Circuit, err)
	}

	report, err := p.buildReport(cfg, out, freqs, realZ, negImag)
	if err != nil {
		return models.FitReport{}, err
	}

	if !cfg.Quiet {
		log.WithFields(log.Fields{
			"circuit": cfg.Circuit,
			"loss":    report.Loss,
			"points":  report.Points,
		}).Info("fit completed")
	}
	return report, nil
}

// buildReport extracts the fitted values from the output map and computes
// the loss and residual summary against the measured spectrum.
func (p *Processor) buildReport(cfg *config.Config, out map[string]interface{}, freqs, realZ, negImag []float64) (models.FitReport, error) {
	prefix := cfg.Output
	if prefix == "" {
		prefix = "fit_circuit"
	}

	circ, err := eisfit.ParseCircuit(cfg.Circuit)
	if err != nil {
		return models.FitReport{}, err
	}

	values := make(map[string]eisfit.Quantity, len(circ.Params))
	plain := make(map[string]float64, len(circ.Params))
	for _, param := range circ.Params {
		q, ok := out[prefix+"->"+param.Name].(eisfit.Quantity)
		if !ok {
			return models.FitReport{}, fmt.Errorf("fit output missing %s", param.Name)
		}
		values[param.Name] = q
		plain[param.Name] = q.Value
	}

	loss, residuals, points := p.residuals(circ, plain, freqs, realZ, negImag, cfg)

	summary := models.ResidualSummary{}
	if len(residuals) > 0 {
		summary.Mean, _ = stats.Mean(residuals)
		summary.Median, _ = stats.Median(residuals)
		summary.StdDev, _ = stats.StandardDeviation(residuals)
	}

	return models.FitReport{
		Circuit:   cfg.Circuit,
		Values:    values,
		Loss:      loss,
		Residuals: summary,
		Points:    points,
	}, nil
}

// residuals evaluates the fitted circuit over the retained data points and
// returns the fit loss together with per-point relative residuals.
func (p *Processor) residuals(circ *eisfit.Circuit, values map[string]float64, freqs, realZ, negImag []float64, cfg *config.Config) (float64, []float64, int) {
	upper := cfg.UpperFreq
	if upper == 0 {
		upper = math.Inf(1)
	}

	var kept []float64
	var keptRe, keptIm []float64
	for i, f := range freqs {
		if f <= cfg.LowerFreq || f >= upper {
			continue
		}
		if !cfg.KeepNegRes && realZ[i] <= 0 {
			continue
		}
		kept = append(kept, f)
		keptRe = append(keptRe, realZ[i])
		keptIm = append(keptIm, negImag[i])
	}
	if len(kept) == 0 {
		return math.NaN(), nil, 0
	}

	predicted := circ.Impedance(values, kept)
	residuals := make([]float64, 0, len(kept))
	sum := 0.0
	for i, z := range predicted {
		e := math.Hypot(keptRe[i]-real(z), -keptIm[i]-imag(z))
		mag := math.Hypot(keptRe[i], keptIm[i])
		rel := e / mag
		if math.IsNaN(rel) {
			continue
		}
		residuals = append(residuals, rel)
		sum += rel * rel
	}
	return math.Sqrt(sum), residuals, len(kept)
}

// ElementImpedances evaluates each element of the fitted circuit separately,
// for plotting individual contributions downstream.
func (p *Processor) ElementImpedances(circuit string, values map[string]eisfit.Quantity, freqs []float64) ([]models.ElementImpedance, error) {
	circ, err := eisfit.ParseCircuit(circuit)
	if err != nil {
		return nil, err
	}
	plain := make(map[string]float64, len(values))
	for name, q := range values {
		plain[name] = q.Value
	}
	if missing := circ.MissingValues(plain); len(missing) > 0 {
		return nil, fmt.Errorf("no fitted value for %s", missing[0])
	}

	var out []models.ElementImpedance
	for _, el := range circ.Elements() {
		z := el.Component.Impedance(plain, el.Name, freqs)
		re := make([]float64, len(z))
		im := make([]float64, len(z))
		for i, v := range z {
			re[i] = sanitize(real(v))
			im[i] = sanitize(imag(v))
		}
		out = append(out, models.ElementImpedance{Name: el.Name, Real: re, Imag: im})
	}
	return out, nil
}

// sanitize maps non-finite values to zero for JSON compatibility.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
