package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/edu-gateway/pkg/logging"
)

// HeaderCorrelationID はリクエストを横断して追跡するための相関IDヘッダーキー。
const HeaderCorrelationID = "X-Correlation-ID"

// correlationIDKey はGinコンテキストに相関IDを格納するためのキー。
const correlationIDKey = "correlation_id"

// CorrelationID は相関IDを決定するGinミドルウェアを返す。
// リクエストヘッダーに値があればそれを使い、無ければUUIDを生成する。
// 値はレスポンスヘッダーに常に返し、ログ用にリクエストコンテキストにも設定する。
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderCorrelationID)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(correlationIDKey, id)
		c.Header(HeaderCorrelationID, id)
		c.Request = c.Request.WithContext(logging.WithCorrelationID(c.Request.Context(), id))
		c.Next()
	}
}

// GetCorrelationID はGinコンテキストから相関IDを取得する。
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(correlationIDKey)
}
