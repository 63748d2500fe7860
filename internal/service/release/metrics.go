package release

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce     sync.Once
	releaseOutcomes *prometheus.CounterVec
	deployDuration  prometheus.Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		releaseOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skyhook",
			Subsystem: "release",
			Name:      "outcomes_total",
			Help:      "Count of finished deploys by conclusion",
		}, []string{"conclusion"})

		deployDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "skyhook",
			Subsystem: "release",
			Name:      "deploy_duration_seconds",
			Help:      "Latency distribution of background deploys",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		})

		if err := prometheus.Register(releaseOutcomes); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				releaseOutcomes = already.ExistingCollector.(*prometheus.CounterVec)
			}
		}
		if err := prometheus.Register(deployDuration); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				deployDuration = already.ExistingCollector.(prometheus.Histogram)
			}
		}
	})
}
