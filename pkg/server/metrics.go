// Copyright 2025 Certen Protocol

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves the Prometheus exposition format on /metrics,
// the same promhttp.Handler() wiring used across the example pack's
// services.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
