package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// RequestRecord is one captured network exchange. Runs persist the full
// traffic of an attack so a verdict can be re-examined without replaying
// the attack.
type RequestRecord struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Status    int64             `json:"status,omitempty"`
	MimeType  string            `json:"mime_type,omitempty"`
	Failed    bool              `json:"failed,omitempty"`
	ErrorText string            `json:"error_text,omitempty"`
	StartedAt time.Time         `json:"started_at"`
}

// Harvester listens to network events on one window and accumulates a
// request log.
type Harvester struct {
	logger *zap.Logger

	listenerCtx    context.Context
	cancelListener context.CancelFunc

	lock     sync.RWMutex
	requests map[network.RequestID]*RequestRecord
	started  bool
}

// NewHarvester creates a harvester bound to the browser's active window.
func (c *Chrome) NewHarvester() *Harvester {
	return newHarvester(c.active(), c.logger)
}

// StartTraffic begins collecting the primary tab's network traffic.
func (c *Chrome) StartTraffic() error {
	if c.harvester != nil {
		return nil
	}
	c.harvester = newHarvester(c.tabCtx, c.logger)
	return c.harvester.Start()
}

// SaveTraffic stops collection and writes the captured traffic to path.
// A no-op when StartTraffic never ran.
func (c *Chrome) SaveTraffic(path string) error {
	if c.harvester == nil {
		return nil
	}
	h := c.harvester
	c.harvester = nil
	return h.SaveTo(path)
}

func newHarvester(tabCtx context.Context, logger *zap.Logger) *Harvester {
	h := &Harvester{
		logger:   logger.Named("harvester"),
		requests: make(map[network.RequestID]*RequestRecord),
	}
	h.listenerCtx, h.cancelListener = context.WithCancel(tabCtx)
	return h
}

// Start enables network events and begins collecting.
func (h *Harvester) Start() error {
	h.lock.Lock()
	if h.started {
		h.lock.Unlock()
		return nil
	}
	h.started = true
	h.lock.Unlock()

	chromedp.ListenTarget(h.listenerCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			h.handleRequestWillBeSent(e)
		case *network.EventResponseReceived:
			h.handleResponseReceived(e)
		case *network.EventLoadingFailed:
			h.handleLoadingFailed(e)
		}
	})

	if err := chromedp.Run(h.listenerCtx, network.Enable()); err != nil {
		if h.listenerCtx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to enable network events: %w", err)
	}
	return nil
}

// Stop halts collection and returns the captured records ordered by
// start time.
func (h *Harvester) Stop() []RequestRecord {
	h.lock.Lock()
	if h.cancelListener != nil {
		h.cancelListener()
		h.cancelListener = nil
	}
	h.started = false

	out := make([]RequestRecord, 0, len(h.requests))
	for _, r := range h.requests {
		out = append(out, *r)
	}
	h.lock.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// SaveTo stops collection and writes the request log as JSON.
func (h *Harvester) SaveTo(path string) error {
	records := h.Stop()
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode request log: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write request log %s: %w", path, err)
	}
	return nil
}

func (h *Harvester) handleRequestWillBeSent(e *network.EventRequestWillBeSent) {
	h.lock.Lock()
	defer h.lock.Unlock()

	headers := make(map[string]string, len(e.Request.Headers))
	for k, v := range e.Request.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	h.requests[e.RequestID] = &RequestRecord{
		URL:       e.Request.URL,
		Method:    e.Request.Method,
		Headers:   headers,
		StartedAt: e.WallTime.Time(),
	}
}

func (h *Harvester) handleResponseReceived(e *network.EventResponseReceived) {
	h.lock.Lock()
	defer h.lock.Unlock()

	r, ok := h.requests[e.RequestID]
	if !ok {
		return
	}
	r.Status = e.Response.Status
	r.MimeType = e.Response.MimeType
}

func (h *Harvester) handleLoadingFailed(e *network.EventLoadingFailed) {
	h.lock.Lock()
	defer h.lock.Unlock()

	r, ok := h.requests[e.RequestID]
	if !ok {
		return
	}
	r.Failed = true
	r.ErrorText = e.ErrorText
}
