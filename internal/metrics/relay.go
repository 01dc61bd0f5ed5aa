// Package metrics provides Prometheus collectors for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No project or job ids in labels.
var (
	// EventsEmittedTotal counts normalized events written to the broadcast channel, by type.
	EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkrelay_events_emitted_total",
		Help: "Total number of normalized events emitted to SSE subscribers, by type.",
	}, []string{"type"})

	// FramesDroppedTotal counts frames not queued because a subscriber buffer was full.
	FramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inkrelay_frames_dropped_total",
		Help: "Total number of SSE frames dropped for slow subscribers.",
	})

	// SSESubscribers tracks currently connected SSE clients.
	SSESubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inkrelay_sse_subscribers",
		Help: "Current number of connected SSE subscribers.",
	})

	// TrackedProjects tracks provider project handles held by the registry.
	TrackedProjects = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inkrelay_tracked_projects",
		Help: "Current number of provider projects tracked for result refresh and cancellation.",
	})

	// GenerationsTotal counts /generate outcomes.
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkrelay_generations_total",
		Help: "Total number of generation requests, by outcome.",
	}, []string{"outcome"})

	// ResultProxyTotal counts result proxy outcomes.
	ResultProxyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkrelay_result_proxy_total",
		Help: "Total number of result proxy requests, by outcome.",
	}, []string{"outcome"})
)
