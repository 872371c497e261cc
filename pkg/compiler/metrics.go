package compiler

import (
	"github.com/gomlx/jobflow/internal/promreg"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	passDuration *prometheus.HistogramVec
	compilations *prometheus.CounterVec
	boxingOps    prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobflow",
			Subsystem: "compiler",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of each compiler pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"pass"}),
		compilations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "compiler",
			Name:      "compilations_total",
			Help:      "Number of jobs compiled, by result.",
		}, []string{"result"}),
		boxingOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "compiler",
			Name:      "boxing_ops_inserted_total",
			Help:      "Number of boxing operators inserted by the SBP pass.",
		}),
	}
	m.passDuration = promreg.Register(registerer, m.passDuration)
	m.compilations = promreg.Register(registerer, m.compilations)
	m.boxingOps = promreg.Register(registerer, m.boxingOps)
	return m
}
