// metrics.go - Prometheus HTTP метрики Proof Module.
// Регистрирует метрики: pm_http_requests_total, pm_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики Proof Module
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Proof Module",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Proof Module в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// proofPrefix - базовый путь API доказательств.
const proofPrefix = "/api/community/task/proof/"

// normalizePath заменяет идентификаторы и адреса в пути на шаблоны:
// /api/community/task/proof/member/42 → /api/community/task/proof/member/{memberId}
// /api/community/task/proof/content/Qm... → /api/community/task/proof/content/{proofHash}
// Неизвестные пути сворачиваются в "other".
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics", proofPrefix + "upload":
		return path
	}

	rest, ok := strings.CutPrefix(path, proofPrefix)
	if !ok || rest == "" {
		return "other"
	}

	segments := strings.Split(rest, "/")
	switch {
	case len(segments) == 2 && segments[0] == "member":
		return proofPrefix + "member/{memberId}"
	case len(segments) == 2 && segments[0] == "community":
		return proofPrefix + "community/{communityId}"
	case len(segments) == 2 && segments[0] == "content":
		return proofPrefix + "content/{proofHash}"
	case len(segments) == 1:
		return proofPrefix + "{proofId}"
	}
	return "other"
}
