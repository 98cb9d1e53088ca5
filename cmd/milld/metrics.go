package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mill_operations_total",
		Help: "Mill operations completed, by operation.",
	}, []string{"op"})

	errorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mill_operation_errors_total",
		Help: "Mill operations failed, by operation.",
	}, []string{"op"})

	moveSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mill_move_seconds",
		Help:    "Wall time of safe moves, including the completion wait.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)
