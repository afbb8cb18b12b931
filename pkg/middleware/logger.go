package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edu-gateway/pkg/logging"
	"github.com/rs/zerolog"
)

// UpstreamKey はGinコンテキストに転送先の上流名を格納するためのキー。
const UpstreamKey = "upstream"

// RequestLogger はリクエストごとに1行の構造化ログを出力するGinミドルウェアを返す。
// gin.Logger() の代わりに使用する。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		l := logging.Ctx(c.Request.Context())
		switch {
		case status >= 500:
			event = l.Error()
		case status >= 400:
			event = l.Warn()
		default:
			event = l.Info()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Str("upstream", c.GetString(UpstreamKey)).
			Msg("request")
	}
}
