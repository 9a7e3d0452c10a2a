package orchestration

import (
	"sync"
	"time"

	"github.com/askcart/askcart/core"
	"github.com/askcart/askcart/telemetry"
)

// UsageSink is the append-only writer usage records drain into.
// core-side implementations write JSON lines; tests capture in memory.
type UsageSink interface {
	Write(rec UsageRecord) error
}

// AsyncUsageLogger is the production UsageLogger: records go through a
// buffered channel to a background writer so orchestration never blocks
// on the sink. When the buffer is saturated the record is dropped with
// a warning, never queued synchronously.
type AsyncUsageLogger struct {
	sink   UsageSink
	ch     chan UsageRecord
	clock  core.Clock
	logger core.Logger

	mu        sync.Mutex
	costBySes map[string]int // successful paid-call cost per session

	done chan struct{}
	once sync.Once
}

// NewAsyncUsageLogger creates a usage logger draining into sink.
// bufferSize bounds the number of in-flight records (default 1024).
func NewAsyncUsageLogger(sink UsageSink, bufferSize int, clock core.Clock, logger core.Logger) *AsyncUsageLogger {
	if bufferSize < 1 {
		bufferSize = 1024
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	l := &AsyncUsageLogger{
		sink:      sink,
		ch:        make(chan UsageRecord, bufferSize),
		clock:     clock,
		logger:    logger,
		costBySes: make(map[string]int),
		done:      make(chan struct{}),
	}
	go l.drain()
	return l
}

func (l *AsyncUsageLogger) drain() {
	defer close(l.done)
	for rec := range l.ch {
		if err := l.sink.Write(rec); err != nil {
			// Sink failures never propagate; swallow with a warning
			l.logger.Warn("Usage log write failed", map[string]interface{}{
				"operation": "usage_write",
				"api_name":  rec.APIName,
				"error":     err.Error(),
			})
		}
	}
}

// Record enqueues one usage record, dropping it when the buffer is full
func (l *AsyncUsageLogger) Record(rec UsageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.clock.Now()
	}

	if rec.Success && rec.CostUnits > 0 && rec.SessionID != "" {
		l.mu.Lock()
		l.costBySes[rec.SessionID] += rec.CostUnits
		l.mu.Unlock()
	}

	telemetry.Counter("usage.records", "api", rec.APIName, "success", boolLabel(rec.Success))
	if rec.CostUnits > 0 && rec.Success {
		telemetry.Histogram("usage.cost_units", float64(rec.CostUnits), "api", rec.APIName)
	}

	select {
	case l.ch <- rec:
	default:
		telemetry.Counter("usage.dropped", "api", rec.APIName)
		l.logger.Warn("Usage log buffer saturated, dropping record", map[string]interface{}{
			"operation": "usage_drop",
			"api_name":  rec.APIName,
			"tier":      rec.Tier,
		})
	}
}

// RecordConsent appends a synthetic zero-cost record for a consent event
func (l *AsyncUsageLogger) RecordConsent(sessionID, userID string, consentType ConsentType) {
	l.Record(UsageRecord{
		Timestamp: l.clock.Now(),
		UserID:    userID,
		SessionID: sessionID,
		APIName:   "consent_" + string(consentType),
		Success:   true,
	})
}

// SessionCost returns the accumulated successful paid-call cost for a
// session, in cost units
func (l *AsyncUsageLogger) SessionCost(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.costBySes[sessionID]
}

// Close stops the drain goroutine after flushing queued records
func (l *AsyncUsageLogger) Close() {
	l.once.Do(func() {
		close(l.ch)
	})
	<-l.done
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// LoggerUsageSink writes usage records as structured log entries.
// It is the default sink when no external collector is configured.
type LoggerUsageSink struct {
	Logger core.Logger
}

// Write emits one usage record at info level
func (s *LoggerUsageSink) Write(rec UsageRecord) error {
	s.Logger.Info("usage", map[string]interface{}{
		"operation":  "usage_record",
		"timestamp":  rec.Timestamp.Format(time.RFC3339Nano),
		"user_id":    rec.UserID,
		"session_id": rec.SessionID,
		"api_name":   rec.APIName,
		"tier":       rec.Tier,
		"cost_units": rec.CostUnits,
		"latency_ms": rec.Latency.Milliseconds(),
		"success":    rec.Success,
		"error":      rec.Error,
	})
	return nil
}
