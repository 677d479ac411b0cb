package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "printrelease_jobs_submitted_total", Help: "Jobs accepted for release"})
	ViewsGranted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "printrelease_views_granted_total", Help: "One-time views handed out"})
	ViewsRejected     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "printrelease_views_rejected_total", Help: "View attempts refused, by error kind"}, []string{"kind"})
	Releases          = prometheus.NewCounter(prometheus.CounterOpts{Name: "printrelease_releases_total", Help: "Jobs released to a printer"})
	ReleasesRejected  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "printrelease_releases_rejected_total", Help: "Release attempts refused, by error kind"}, []string{"kind"})
	JobsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "printrelease_jobs_completed_total", Help: "Released jobs confirmed printed"})
	JobsSwept         = prometheus.NewCounter(prometheus.CounterOpts{Name: "printrelease_jobs_swept_total", Help: "Jobs deleted by the expiration sweeper"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "printrelease_rate_limit_rejects_total", Help: "Token attempts rejected by the rate limiter"})
	WebhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "printrelease_webhook_deliveries_total", Help: "Webhook delivery results"}, []string{"result"})
)

// Handler exposes the /metrics endpoint, registering collectors on first use.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			ViewsGranted,
			ViewsRejected,
			Releases,
			ReleasesRejected,
			JobsCompleted,
			JobsSwept,
			RateLimitRejects,
			WebhookDeliveries,
		)
	})
	return promhttp.Handler()
}
