package runtime

import (
	"github.com/gomlx/jobflow/internal/promreg"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	constructed  *prometheus.CounterVec
	failures     prometheus.Counter
	messages     *prometheus.CounterVec
	fired        prometheus.Counter
	machineState prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		constructed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "runtime",
			Name:      "actors_constructed_total",
			Help:      "Number of actors constructed, by kind (kernel or passive).",
		}, []string{"kind"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "runtime",
			Name:      "actor_failures_total",
			Help:      "Number of actors that failed to construct or to run.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "runtime",
			Name:      "messages_total",
			Help:      "Number of messages sent, by kind (cmd or data) and route (local or remote).",
		}, []string{"kind", "route"}),
		fired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "runtime",
			Name:      "actors_fired_total",
			Help:      "Number of kernel executions.",
		}),
		machineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jobflow",
			Subsystem: "runtime",
			Name:      "machine_state",
			Help:      "Lifecycle state of the machine: 0 uninitialized, 1 constructing, 2 running, 3 completed, 4 torn down.",
		}),
	}
	m.constructed = promreg.Register(registerer, m.constructed)
	m.failures = promreg.Register(registerer, m.failures)
	m.messages = promreg.Register(registerer, m.messages)
	m.fired = promreg.Register(registerer, m.fired)
	m.machineState = promreg.Register(registerer, m.machineState)
	return m
}
