package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WrapHTTP は net/http 形式のミドルウェアをGinミドルウェアに変換する。
// 元のミドルウェアが次のハンドラを呼ばずにレスポンスを返した場合、Ginのチェーンも中断する。
func WrapHTTP(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		passed := false
		mw(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)

		if !passed {
			c.Abort()
		}
	}
}
