// Package alert posts webhook notifications when the news API's
// connectivity flips between healthy and unreachable.
package alert

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazz-dev/newsdesk/internal/probe"
)

// Alerter sends webhook notifications on connectivity changes.
type Alerter struct {
	webhookURL string
	target     string
	cooldown   time.Duration
	client     *http.Client
	lastAlert  time.Time
	mu         sync.Mutex
	logger     *slog.Logger
}

// New creates a new Alerter for the probed target URL. Pass nil logger to use
// the default logger.
func New(webhookURL, target string, cooldown time.Duration, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{
		webhookURL: webhookURL,
		target:     target,
		cooldown:   cooldown,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type webhookPayload struct {
	Target         string `json:"target"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status"`
	Message        string `json:"message"`
	LatencyMs      int64  `json:"latency_ms"`
	CheckedAt      string `json:"checked_at"`
	Source         string `json:"source"`
}

// Notify sends a webhook if connectivity moved between healthy and
// unreachable and the cooldown has elapsed. It matches the prober's
// subscriber signature.
func (a *Alerter) Notify(cur, prev probe.Status) {
	// Leaving or entering "checking" is not an outage signal.
	if cur.Phase == probe.PhaseChecking || prev.Phase == probe.PhaseChecking {
		return
	}
	if cur.Phase == prev.Phase {
		return
	}

	a.mu.Lock()
	if !a.lastAlert.IsZero() && time.Since(a.lastAlert) < a.cooldown {
		a.mu.Unlock()
		a.logger.Info("alert suppressed by cooldown", "status", cur.Phase)
		return
	}
	a.lastAlert = time.Now()
	a.mu.Unlock()

	// Send asynchronously so Notify doesn't block the prober.
	go a.send(cur, prev)
}

func (a *Alerter) send(cur, prev probe.Status) {
	payload := webhookPayload{
		Target:         a.target,
		Status:         string(cur.Phase),
		PreviousStatus: string(prev.Phase),
		Message:        cur.Message,
		LatencyMs:      cur.Latency.Milliseconds(),
		CheckedAt:      cur.CheckedAt.UTC().Format(time.RFC3339),
		Source:         "newsdesk",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("marshaling webhook payload", "error", err)
		return
	}

	resp, err := a.client.Post(a.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		a.logger.Error("sending webhook", "url", a.webhookURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		a.logger.Warn("webhook returned non-2xx status", "status", resp.StatusCode)
	}
}
