package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	leasesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "splay_leases_total",
		Help: "Total number of batch leases issued.",
	})

	acksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splay_acks_total",
			Help: "Total number of batch acknowledgements by outcome.",
		},
		[]string{"outcome"},
	)

	requeuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splay_requeues_total",
			Help: "Total number of requeue transitions by resulting state.",
		},
		[]string{"state"},
	)

	expiredLeasesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "splay_expired_leases_total",
		Help: "Total number of leases reclaimed after expiry.",
	})
)

func init() {
	prometheus.MustRegister(leasesTotal)
	prometheus.MustRegister(acksTotal)
	prometheus.MustRegister(requeuesTotal)
	prometheus.MustRegister(expiredLeasesTotal)
}
