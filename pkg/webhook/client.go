// Package webhook delivers finished fit reports to a configured HTTP
// endpoint.
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/echemlab/eisfit/pkg/models"
)

// Client posts fit notifications with a pooled HTTP transport.
type Client struct {
	url        string
	httpClient *http.Client
	bufferPool sync.Pool
}

// NewClient creates a webhook client for the given URL. An empty URL yields
// a client whose Send is a no-op.
func NewClient(url string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		// Payloads are small; compression costs more than it saves.
		DisableCompression: true,
	}

	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout:   45 * time.Second,
			Transport: transport,
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 1024))
			},
		},
	}
}

// Send posts the webhook payload for one finished fit.
func (c *Client) Send(item models.WebhookItem) error {
	if c.url == "" {
		return nil
	}

	payload := models.WebhookPayload{
		ID:                 item.RequestID,
		Time:               time.Now().Format(time.RFC3339Nano),
		Circuit:            item.Report.Circuit,
		Loss:               sanitizeFloat(item.Report.Loss),
		Parameters:         item.Report.Values,
		Residuals:          item.Report.Residuals,
		Frequencies:        item.Freqs,
		RealImpedance:      item.RealImp,
		ImaginaryImpedance: item.ImagImp,
		ElementImpedances:  item.ElementImpedances,
	}

	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	resp, err := c.httpClient.Post(c.url, "application/json", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	log.WithFields(log.Fields{
		"request_id": item.RequestID,
		"status":     resp.StatusCode,
	}).Debug("webhook sent")

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}
	return nil
}

// sanitizeFloat replaces non-finite values, which JSON cannot carry.
func sanitizeFloat(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
