package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edu-gateway/pkg/logging"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック値はログにのみ出力し、クライアントには内部情報を含まない500エラーを返す。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logging.Ctx(c.Request.Context()).Error().
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Interface("panic", r).
					Msg("gateway_error")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal_error",
				})
			}
		}()
		c.Next()
	}
}
