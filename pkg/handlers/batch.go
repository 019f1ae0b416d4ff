package handlers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/apex/log"

	"github.com/echemlab/eisfit/internal/utils"
	"github.com/echemlab/eisfit/pkg/models"
	"github.com/echemlab/eisfit/pkg/worker"
)

// timingFile collects batch performance records across runs.
const timingFile = "batch_timing_results.csv"

// BatchHandler fits a batch of spectra through the worker pool.
type BatchHandler struct {
	pool     *worker.Pool
	elements ElementsFunc
	workers  int
}

// NewBatchHandler creates the batch handler.
func NewBatchHandler(pool *worker.Pool, elements ElementsFunc, workers int) *BatchHandler {
	return &BatchHandler{pool: pool, elements: elements, workers: workers}
}

// ServeHTTP implements http.Handler.
func (h *BatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch models.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if len(batch.Spectra) == 0 {
		writeError(w, "no spectra provided in batch", http.StatusBadRequest)
		return
	}

	log.WithFields(log.Fields{
		"batch_id": batch.BatchID,
		"spectra":  len(batch.Spectra),
	}).Info("batch processing started")

	go h.processBatchAsync(batch)

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"batch_id": batch.BatchID,
		"spectra":  len(batch.Spectra),
		"message":  "batch processing started",
	})
}

func (h *BatchHandler) processBatchAsync(batch models.Batch) {
	start := time.Now()
	timings := make([]models.SpectrumTiming, len(batch.Spectra))

	for _, item := range batch.Spectra {
		h.pool.SubmitJob(models.WorkItem{
			ID:        item.Iteration,
			RequestID: utils.GenerateID(),
			BatchID:   batch.BatchID,
			Iteration: item.Iteration,
			Freqs:     item.Spectrum.Frequencies,
			ImpData:   impedanceRows(item.Spectrum.Impedance),
			StartTime: time.Now(),
		})
	}

	received := 0
	for received < len(batch.Spectra) {
		result, ok := h.pool.GetResult()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		h.handleResult(result, timings)
		received++
	}

	total := time.Since(start)
	h.saveTimingResults(batch.BatchID, total, timings)

	log.WithFields(log.Fields{
		"batch_id": batch.BatchID,
		"duration": total,
	}).Info("batch processing completed")
}

func (h *BatchHandler) handleResult(result models.WorkResult, timings []models.SpectrumTiming) {
	if result.Iteration >= 0 && result.Iteration < len(timings) {
		timings[result.Iteration] = models.SpectrumTiming{
			Iteration:      result.Iteration,
			ProcessingTime: result.ProcessingTime,
			Loss:           result.Report.Loss,
			Success:        result.Err == nil,
			Circuit:        result.Report.Circuit,
		}
	}
	if result.Err != nil {
		return
	}

	item := models.WebhookItem{
		RequestID: fmt.Sprintf("%s_iter_%03d", result.RequestID, result.Iteration),
		Report:    result.Report,
		Freqs:     result.Freqs,
		RealImp:   result.RealImp,
		ImagImp:   result.ImagImp,
	}
	if h.elements != nil {
		item.ElementImpedances = h.elements(result.Report, result.Freqs)
	}
	h.pool.QueueWebhook(item)
}

// saveTimingResults appends batch performance statistics to a CSV file.
func (h *BatchHandler) saveTimingResults(batchID string, total time.Duration, timings []models.SpectrumTiming) {
	writeHeader := false
	if _, err := os.Stat(timingFile); os.IsNotExist(err) {
		writeHeader = true
	}

	file, err := os.OpenFile(timingFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.WithError(err).Error("open timing file")
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if writeHeader {
		header := []string{
			"Timestamp", "BatchID", "TotalSpectra", "Workers",
			"TotalBatchTime_ms", "AvgSpectrumTime_ms", "MinSpectrumTime_ms",
			"MaxSpectrumTime_ms", "SuccessRate", "AvgLoss", "SpectraPerSecond",
			"Circuit",
		}
		if err := writer.Write(header); err != nil {
			log.WithError(err).Error("write timing header")
			return
		}
	}

	var sumTime time.Duration
	minTime, maxTime := time.Hour, time.Duration(0)
	successful := 0
	sumLoss := 0.0
	circuit := ""
	for _, timing := range timings {
		sumTime += timing.ProcessingTime
		if timing.ProcessingTime < minTime {
			minTime = timing.ProcessingTime
		}
		if timing.ProcessingTime > maxTime {
			maxTime = timing.ProcessingTime
		}
		if timing.Success {
			successful++
			sumLoss += timing.Loss
		}
		if circuit == "" {
			circuit = timing.Circuit
		}
	}

	n := len(timings)
	avgTime := sumTime / time.Duration(n)
	successRate := float64(successful) / float64(n) * 100
	avgLoss := 0.0
	if successful > 0 {
		avgLoss = sumLoss / float64(successful)
	}

	record := []string{
		time.Now().Format(time.RFC3339),
		batchID,
		fmt.Sprintf("%d", n),
		fmt.Sprintf("%d", h.workers),
		fmt.Sprintf("%.2f", float64(total.Nanoseconds())/1e6),
		fmt.Sprintf("%.2f", float64(avgTime.Nanoseconds())/1e6),
		fmt.Sprintf("%.2f", float64(minTime.Nanoseconds())/1e6),
		fmt.Sprintf("%.2f", float64(maxTime.Nanoseconds())/1e6),
		fmt.Sprintf("%.1f", successRate),
		fmt.Sprintf("%.6e", avgLoss),
		fmt.Sprintf("%.2f", float64(n)/total.Seconds()),
		circuit,
	}
	if err := writer.Write(record); err != nil {
		log.WithError(err).Error("write timing record")
		return
	}

	log.WithFields(log.Fields{
		"batch_id":     batchID,
		"spectra":      n,
		"success_rate": successRate,
	}).Info("batch timing saved")
}
