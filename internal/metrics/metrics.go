// Package metrics provides observability for the UMA authorization engine
package metrics

import (
	"net/http"
	"time"
)

// Metrics provides observability for the engine, ticket lifecycle, and
// group reconciliation
type Metrics interface {
	// Evaluation metrics
	RecordEvaluation(effect string, duration time.Duration)
	RecordCacheHit()
	RecordCacheMiss()
	RecordEvaluationError(errorType string)

	// Permission ticket metrics
	RecordTicketOp(op, outcome string)

	// Group sync metrics
	RecordSyncRun(direction, status string, duration time.Duration)
	RecordSyncFailures(direction string, count int)

	// HTTP handler for Prometheus scraping
	HTTPHandler() http.Handler
}

// NoOpMetrics provides a no-op implementation for tests and disabled
// monitoring
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics instance
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordEvaluation(effect string, duration time.Duration)          {}
func (n *NoOpMetrics) RecordCacheHit()                                                 {}
func (n *NoOpMetrics) RecordCacheMiss()                                                {}
func (n *NoOpMetrics) RecordEvaluationError(errorType string)                          {}
func (n *NoOpMetrics) RecordTicketOp(op, outcome string)                               {}
func (n *NoOpMetrics) RecordSyncRun(direction, status string, duration time.Duration)  {}
func (n *NoOpMetrics) RecordSyncFailures(direction string, count int)                  {}
func (n *NoOpMetrics) HTTPHandler() http.Handler                                       { return http.NotFoundHandler() }
