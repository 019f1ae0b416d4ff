// Package handlers implements the HTTP endpoints of the fitting service.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/apex/log"

	"github.com/echemlab/eisfit/internal/utils"
	"github.com/echemlab/eisfit/pkg/models"
	"github.com/echemlab/eisfit/pkg/worker"
)

// ElementsFunc evaluates the per-element impedance traces of a finished
// fit.
type ElementsFunc func(report models.FitReport, freqs []float64) []models.ElementImpedance

// FitHandler accepts a single spectrum and fits it asynchronously.
type FitHandler struct {
	pool      *worker.Pool
	processor worker.ProcessorFunc
	elements  ElementsFunc
}

// NewFitHandler creates the single-spectrum handler.
func NewFitHandler(pool *worker.Pool, processor worker.ProcessorFunc, elements ElementsFunc) *FitHandler {
	return &FitHandler{pool: pool, processor: processor, elements: elements}
}

// ServeHTTP implements http.Handler. The fit runs in the background; the
// response only acknowledges the request and the result is delivered
// through the webhook.
func (h *FitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var spectrum models.Spectrum
	if err := json.NewDecoder(r.Body).Decode(&spectrum); err != nil {
		writeError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if len(spectrum.Frequencies) == 0 {
		writeError(w, "no data points provided", http.StatusBadRequest)
		return
	}
	if len(spectrum.Impedance) != len(spectrum.Frequencies) {
		writeError(w, "frequency and impedance counts differ", http.StatusBadRequest)
		return
	}

	requestID := utils.GenerateID()
	go h.processAsync(requestID, spectrum)

	log.WithFields(log.Fields{
		"request_id": requestID,
		"points":     len(spectrum.Frequencies),
	}).Info("fit request accepted")

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"request_id": requestID,
		"message":    "processing started",
	})
}

// processAsync fits the spectrum inline (a single request owns no pool
// slot) and queues the webhook notification.
func (h *FitHandler) processAsync(requestID string, spectrum models.Spectrum) {
	freqs := spectrum.Frequencies
	impData := impedanceRows(spectrum.Impedance)

	report, err := h.processor(freqs, impData)
	if err != nil {
		log.WithError(err).WithField("request_id", requestID).Error("fit failed")
		return
	}

	realImp := make([]float64, len(impData))
	imagImp := make([]float64, len(impData))
	for i, row := range impData {
		realImp[i] = row[0]
		imagImp[i] = row[1]
	}

	item := models.WebhookItem{
		RequestID: requestID,
		Report:    report,
		Freqs:     freqs,
		RealImp:   realImp,
		ImagImp:   imagImp,
	}
	if h.elements != nil {
		item.ElementImpedances = h.elements(report, freqs)
	}
	h.pool.QueueWebhook(item)
}

// impedanceRows converts JSON points into the internal {Re, -Im} rows.
func impedanceRows(points []models.ImpedancePoint) [][2]float64 {
	rows := make([][2]float64, len(points))
	for i, p := range points {
		rows[i] = [2]float64{p.Real, p.Imag}
	}
	return rows
}

func setupCORS(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
