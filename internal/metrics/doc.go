// Package metrics はゲートウェイのPrometheusメトリクスを提供する。
//
// HTTPリクエスト、認証・認可の判定、上流への転送をそれぞれ計測し、
// GET /metrics で公開する。
package metrics
