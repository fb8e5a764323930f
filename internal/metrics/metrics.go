// Package metrics holds the prometheus collectors of the sync backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "review_sync"

var (
	// TokenFetches 统计 CSRF token 的实际网络获取次数
	TokenFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "csrf_token_fetches_total",
		Help:      "CSRF token fetch attempts by result.",
	}, []string{"result"})

	AuthRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_retries_total",
		Help:      "Requests reissued after a 403 with a fresh token.",
	})

	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Requests sent to the OData backend by method and status class.",
	}, []string{"method", "status"})

	UpsertEntities = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upsert_entities_total",
		Help:      "Per-entity upsert results.",
	}, []string{"status"})

	OpenWorkspaces = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_workspaces",
		Help:      "Form workspaces currently held in memory.",
	})
)

// StatusClass 把 HTTP 状态码归为 2xx/4xx/5xx，0 表示网络错误
func StatusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
