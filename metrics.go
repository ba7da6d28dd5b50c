package faultwatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

const promNamespace = "faultwatch"

// Counters are only ever incremented, which is a lock-free atomic add, so they're allowed on the
// signal path.
var (
	faultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "faults_total",
		Help:      "Fatal fault signals handled.",
	})

	watchdogFiresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "watchdog_fires_total",
		Help:      "Watchdog timer expirations that produced a dump.",
	})

	watchdogSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "watchdog_skipped_total",
		Help:      "Watchdog timer expirations skipped because the calling goroutine was unknown to the provider.",
	})

	dumpErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "dump_errors_total",
		Help:      "Stack dumps abandoned because the provider failed.",
	})
)

// Collectors returns the package's metrics, for registration with a [prometheus.Registerer].
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		faultsTotal,
		watchdogFiresTotal,
		watchdogSkippedTotal,
		dumpErrorsTotal,
	}
}
