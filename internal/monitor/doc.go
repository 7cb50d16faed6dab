// Package monitor is a terminal dashboard for a running scriptorium server.
// It polls /api/v1/stats and /api/v1/providers and plots chunk counts,
// API latency and provider usage against daily caps.
package monitor
