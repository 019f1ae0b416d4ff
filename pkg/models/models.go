// Package models defines the JSON payloads and internal work items of the
// fitting service.
package models

import (
	"time"

	"github.com/echemlab/eisfit"
)

// ImpedancePoint is one measured point of a spectrum: Re(Z) and -Im(Z), Ω.
type ImpedancePoint struct {
	Real float64 `json:"real"`
	Imag float64 `json:"imag"`
}

// Spectrum is an incoming impedance measurement.
type Spectrum struct {
	Timestamp   string           `json:"timestamp"`
	Frequencies []float64        `json:"frequencies"`
	Impedance   []ImpedancePoint `json:"impedance"`
}

// BatchItem is a single spectrum within a batch, tagged with its iteration
// number so results can be reassembled in order.
type BatchItem struct {
	Spectrum  Spectrum `json:"spectrum"`
	Iteration int      `json:"iteration"`
}

// Batch is a set of spectra submitted for fitting in one request.
type Batch struct {
	BatchID   string      `json:"batch_id"`
	Timestamp time.Time   `json:"timestamp"`
	Spectra   []BatchItem `json:"spectra"`
}

// ResidualSummary describes the relative residuals of a completed fit.
type ResidualSummary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
}

// FitReport is the outcome of fitting one spectrum.
type FitReport struct {
	Circuit   string                     `json:"circuit"`
	Values    map[string]eisfit.Quantity `json:"values"`
	Loss      float64                    `json:"loss"`
	Residuals ResidualSummary            `json:"residuals"`
	Points    int                        `json:"points"`
}

// WorkItem is a single fitting task for the worker pool.
type WorkItem struct {
	ID        int
	RequestID string
	BatchID   string
	Iteration int
	Freqs     []float64
	ImpData   [][2]float64
	StartTime time.Time
}

// WorkResult carries a finished fit back from the pool.
type WorkResult struct {
	ID             int
	RequestID      string
	BatchID        string
	Iteration      int
	Report         FitReport
	Err            error
	ProcessingTime time.Duration
	Freqs          []float64
	RealImp        []float64
	ImagImp        []float64
}

// ElementImpedance is the impedance trace of one circuit element evaluated
// at the fitted parameter values.
type ElementImpedance struct {
	Name string    `json:"name"`
	Real []float64 `json:"real"`
	Imag []float64 `json:"imag"`
}

// WebhookItem is a queued webhook notification for a finished fit.
type WebhookItem struct {
	RequestID         string
	Report            FitReport
	Freqs             []float64
	RealImp           []float64
	ImagImp           []float64
	ElementImpedances []ElementImpedance
}

// WebhookPayload is the JSON body posted to the webhook endpoint.
type WebhookPayload struct {
	ID                 string                     `json:"id"`
	Time               string                     `json:"time"`
	Circuit            string                     `json:"circuit"`
	Loss               float64                    `json:"loss"`
	Parameters         map[string]eisfit.Quantity `json:"parameters"`
	Residuals          ResidualSummary            `json:"residuals"`
	Frequencies        []float64                  `json:"frequencies"`
	RealImpedance      []float64                  `json:"real_impedance"`
	ImaginaryImpedance []float64                  `json:"imaginary_impedance"`
	ElementImpedances  []ElementImpedance         `json:"element_impedances"`
}

// SpectrumTiming tracks per-spectrum batch processing performance.
type SpectrumTiming struct {
	Iteration      int           `json:"iteration"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
	Loss           float64       `json:"loss"`
	Success        bool          `json:"success"`
	Circuit        string        `json:"circuit"`
}

// BufferSet contains reusable spectrum buffers to reduce allocations.
type BufferSet struct {
	Real []float64
	Imag []float64
}
