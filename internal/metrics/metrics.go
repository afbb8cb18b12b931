package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証判定の結果ラベル。
const (
	AuthPublic        = "public"
	AuthAllowed       = "allowed"
	AuthMissing       = "missing"
	AuthInvalid       = "invalid"
	AuthRefreshExpiry = "refresh_expired"
	AuthForbidden     = "forbidden"
)

// 上流転送の結果ラベル。
const (
	UpstreamOK            = "ok"
	UpstreamNotConfigured = "not_configured"
	UpstreamBadGateway    = "bad_gateway"
	UpstreamCircuitOpen   = "circuit_open"
)

var (
	// HTTPRequestsTotal はゲートウェイが処理したリクエスト数。
	// Labels:
	//   - method: HTTPメソッド
	//   - route: 一致したルート。一致しない場合は "unmatched"
	//   - status: レスポンスのステータスコード
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests handled by the gateway",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration はリクエスト処理時間。
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "Duration of HTTP requests handled by the gateway",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// AuthDecisions は認証・認可の判定結果の件数。
	// Labels:
	//   - access: public, authenticated, role
	//   - outcome: public, allowed, missing, invalid, refresh_expired, forbidden
	AuthDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_decisions_total",
			Help: "Total number of authentication and authorization decisions",
		},
		[]string{"access", "outcome"},
	)

	// UpstreamRequests は上流への転送結果の件数。
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_requests_total",
			Help: "Total number of requests forwarded to upstream services",
		},
		[]string{"upstream", "outcome"},
	)

	// UpstreamDuration は上流への転送にかかった時間。
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_upstream_duration_seconds",
			Help:    "Duration of requests forwarded to upstream services",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"upstream"},
	)
)

// RecordAuth は認証・認可の判定結果を記録する。
func RecordAuth(access, outcome string) {
	AuthDecisions.WithLabelValues(access, outcome).Inc()
}

// RecordUpstream は上流への転送結果を記録する。
// 送信していない場合は elapsed に0を渡し、所要時間は記録しない。
func RecordUpstream(upstream, outcome string, elapsed time.Duration) {
	UpstreamRequests.WithLabelValues(upstream, outcome).Inc()
	if elapsed > 0 {
		UpstreamDuration.WithLabelValues(upstream).Observe(elapsed.Seconds())
	}
}

// Middleware はリクエスト数と処理時間を記録するミドルウェアを返す。
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := normalizeMethod(c.Request.Method)
		HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// knownMethods はラベルにそのまま使うHTTPメソッド。
var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	http.MethodConnect: {},
	http.MethodTrace:   {},
}

// normalizeMethod はラベルの種類が増え続けないよう、既知以外のメソッドを OTHER にまとめる。
func normalizeMethod(method string) string {
	if _, ok := knownMethods[method]; ok {
		return method
	}
	return "OTHER"
}

// Handler はPrometheus形式でメトリクスを公開するハンドラを返す。
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
