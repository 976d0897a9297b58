// Package alert delivers signed HTTP notifications to operator-configured
// endpoints when the ledger detects a tampered flight log.
package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Target is a single notification endpoint. The secret signs every
// delivery so the receiver can authenticate the sender.
type Target struct {
	URL    string
	Secret string
}

// Event is the JSON body delivered to each target.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Notifier fans alert events out to the configured targets.
type Notifier struct {
	targets    []Target
	httpClient *http.Client
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// NewNotifier creates a Notifier for the given targets.
func NewNotifier(targets []Target, logger *zap.Logger) *Notifier {
	return &Notifier{
		targets:    targets,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (n *Notifier) SetMetricsRecorder(fn MetricsRecorder) {
	n.onMetrics = fn
}

// Notify fans out an event to all targets. Deliveries run concurrently;
// Notify itself never blocks on them.
func (n *Notifier) Notify(ctx context.Context, eventType string, payload map[string]string) {
	if len(n.targets) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	for _, t := range n.targets {
		go n.deliver(ctx, t, event)
	}
}

// deliver sends the event to a single target with retries.
func (n *Notifier) deliver(ctx context.Context, target Target, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("alert: marshal event", zap.Error(err))
		return
	}

	signature := signPayload(body, target.Secret)

	// Three attempts, backing off 1s then 5s between them.
	delays := []time.Duration{0, 1 * time.Second, 5 * time.Second}

	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			time.Sleep(delays[attempt-1])
		}

		success, errMsg := n.doDelivery(ctx, target.URL, body, signature)

		if n.onMetrics != nil {
			n.onMetrics(success)
		}

		if success {
			return
		}

		n.logger.Warn("alert: delivery failed",
			zap.String("url", target.URL),
			zap.String("event", event.Type),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (n *Notifier) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ledger-Signature", signature)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, ""
	}
	return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// signPayload computes an HMAC-SHA256 signature over the delivery body.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
