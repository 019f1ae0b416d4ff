// Package worker runs spectrum fits concurrently. Independent fits share no
// mutable state, so a fixed pool of goroutines is all the coordination
// needed.
package worker

import (
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/echemlab/eisfit/pkg/models"
)

// ProcessorFunc fits one spectrum and returns its report.
type ProcessorFunc func(freqs []float64, impData [][2]float64) (models.FitReport, error)

// WebhookFunc delivers a finished fit notification.
type WebhookFunc func(item models.WebhookItem)

// Pool manages concurrent fitting workers and asynchronous webhook
// delivery.
type Pool struct {
	jobs         chan models.WorkItem
	results      chan models.WorkResult
	webhookQueue chan models.WebhookItem
	workers      int
	bufferPool   sync.Pool
	shutdown     chan struct{}
	wg           sync.WaitGroup
	processor    ProcessorFunc
	webhook      WebhookFunc
}

// Options configures a new pool.
type Options struct {
	Workers   int
	Processor ProcessorFunc
	Webhook   WebhookFunc
}

// New creates and starts a worker pool.
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}

	// Buffered channels so queueing jobs and draining results do not block
	// while workers are busy; the webhook queue gets a larger buffer since
	// delivery is the slower path.
	pool := &Pool{
		jobs:         make(chan models.WorkItem, opts.Workers*2),
		results:      make(chan models.WorkResult, opts.Workers*2),
		webhookQueue: make(chan models.WebhookItem, opts.Workers*4),
		workers:      opts.Workers,
		shutdown:     make(chan struct{}),
		processor:    opts.Processor,
		webhook:      opts.Webhook,
		bufferPool: sync.Pool{
			New: func() interface{} {
				// Typical EIS spectra run 10-1000 frequency points.
				return &models.BufferSet{
					Real: make([]float64, 0, 200),
					Imag: make([]float64, 0, 200),
				}
			},
		},
	}

	pool.start()
	return pool
}

func (p *Pool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.wg.Add(1)
	go p.webhookProcessor()

	log.WithField("workers", p.workers).Info("worker pool started")
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			p.results <- p.processJob(job)
		case <-p.shutdown:
			return
		}
	}
}

func (p *Pool) processJob(job models.WorkItem) models.WorkResult {
	buffers := p.bufferPool.Get().(*models.BufferSet)
	defer p.bufferPool.Put(buffers)

	start := time.Now()
	report, err := p.processor(job.Freqs, job.ImpData)
	elapsed := time.Since(start)

	p.splitImpedance(job.ImpData, buffers)

	// The buffers are reused, so the result gets copies.
	realCopy := make([]float64, len(buffers.Real))
	imagCopy := make([]float64, len(buffers.Imag))
	copy(realCopy, buffers.Real)
	copy(imagCopy, buffers.Imag)

	if err != nil {
		log.WithError(err).WithField("request_id", job.RequestID).Error("fit failed")
	}

	return models.WorkResult{
		ID:             job.ID,
		RequestID:      job.RequestID,
		BatchID:        job.BatchID,
		Iteration:      job.Iteration,
		Report:         report,
		Err:            err,
		ProcessingTime: elapsed,
		Freqs:          job.Freqs,
		RealImp:        realCopy,
		ImagImp:        imagCopy,
	}
}

// splitImpedance separates {Re, -Im} rows into the pooled buffers.
func (p *Pool) splitImpedance(impData [][2]float64, buffers *models.BufferSet) {
	n := len(impData)
	if cap(buffers.Real) < n {
		// Allocate 25% extra headroom so varying spectrum sizes do not
		// reallocate on every job.
		newCap := n + n>>2
		if newCap < 200 {
			newCap = 200
		}
		buffers.Real = make([]float64, n, newCap)
		buffers.Imag = make([]float64, n, newCap)
	} else {
		buffers.Real = buffers.Real[:n]
		buffers.Imag = buffers.Imag[:n]
	}
	for i, v := range impData {
		buffers.Real[i] = v[0]
		buffers.Imag[i] = v[1]
	}
}

func (p *Pool) webhookProcessor() {
	defer p.wg.Done()
	for {
		select {
		case item := <-p.webhookQueue:
			if p.webhook != nil {
				// Deliver without blocking the queue drain.
				go p.webhook(item)
			}
		case <-p.shutdown:
			return
		}
	}
}

// SubmitJob queues a job, blocking once the buffer is full.
func (p *Pool) SubmitJob(job models.WorkItem) {
	select {
	case p.jobs <- job:
	default:
		log.Warn("worker pool jobs channel full, job may be delayed")
		p.jobs <- job
	}
}

// GetResult retrieves a finished result without blocking.
func (p *Pool) GetResult() (models.WorkResult, bool) {
	select {
	case result := <-p.results:
		return result, true
	default:
		return models.WorkResult{}, false
	}
}

// QueueWebhook queues a webhook notification, dropping it if the queue is
// full.
func (p *Pool) QueueWebhook(item models.WebhookItem) {
	select {
	case p.webhookQueue <- item:
	default:
		log.WithField("request_id", item.RequestID).Warn("webhook queue full, dropping notification")
	}
}

// Shutdown stops the workers after their current jobs.
func (p *Pool) Shutdown() {
	close(p.shutdown)
	p.wg.Wait()
	log.Info("worker pool shut down")
}
