// Copyright 2025 Certen Protocol
//
// Package events publishes the hub's domain events (spec.md §4.9):
// TRUSTLINE_CREATED, PAYMENT_COMMITTED, PAYMENT_ABORTED, CLEARING_EXECUTED,
// INTEGRITY_VIOLATION, TRANSACTION_RECOVERED. Background loops and
// handlers only depend on the Sink interface; LoggingSink is the one
// concrete implementation wired at startup, counted by Prometheus the way
// the example pack's services instrument event volume with promauto.

package events

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink is the capability background loops and handlers use to announce a
// domain event; implementations may log, forward to a message bus, or
// both.
type Sink interface {
	Emit(ctx context.Context, eventType string, attrs map[string]interface{})
}

var eventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "creditmesh_hub_events_emitted_total",
	Help: "Total domain events emitted by type.",
}, []string{"event_type"})

// LoggingSink writes every event as a structured log line and increments
// its Prometheus counter. It never blocks the caller on I/O beyond the
// logger's own buffering.
type LoggingSink struct {
	log *slog.Logger
}

func NewLoggingSink(log *slog.Logger) *LoggingSink {
	return &LoggingSink{log: log}
}

func (s *LoggingSink) Emit(_ context.Context, eventType string, attrs map[string]interface{}) {
	eventsEmittedTotal.WithLabelValues(eventType).Inc()

	args := make([]interface{}, 0, len(attrs)*2+2)
	args = append(args, "event_type", eventType)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	s.log.Info("domain event", args...)
}
