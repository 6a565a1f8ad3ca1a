package monitoring

import (
	"sync"
	"time"
)

// UsageMetrics is a point-in-time summary of the collector.
type UsageMetrics struct {
	PromptTokens     int64
	CompletionTokens int64
	AIRequests       int64
	CellsExecuted    int64
	CellsErrored     int64
	RowsCompleted    int64
	EgressBytes      int64
	TotalAILatency   time.Duration
}

// UsageCollector accumulates model usage, cell counts and egress bytes for
// one process. Safe for concurrent use.
type UsageCollector struct {
	mu      sync.Mutex
	metrics UsageMetrics
}

// NewUsageCollector creates an empty collector.
func NewUsageCollector() *UsageCollector {
	return &UsageCollector{}
}

// RecordAIRequest records one model round trip.
func (c *UsageCollector) RecordAIRequest(promptTokens, completionTokens int, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.AIRequests++
	c.metrics.PromptTokens += int64(promptTokens)
	c.metrics.CompletionTokens += int64(completionTokens)
	c.metrics.TotalAILatency += latency
}

// RecordCell records one finished cell task.
func (c *UsageCollector) RecordCell(errored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.CellsExecuted++
	if errored {
		c.metrics.CellsErrored++
	}
}

// RecordRow records one finalized row.
func (c *UsageCollector) RecordRow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.RowsCompleted++
}

// RecordEgress records bytes written to a streaming client.
func (c *UsageCollector) RecordEgress(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.EgressBytes += n
}

// Summary returns a copy of the accumulated metrics.
func (c *UsageCollector) Summary() UsageMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}
