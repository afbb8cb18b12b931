package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
)

// CORSConfig はCORSミドルウェアの設定。
type CORSConfig struct {
	// AllowedOrigins は許可するオリジンの一覧。
	AllowedOrigins []string
	// AllowAll が true の場合は全オリジンを許可する（リクエストのオリジンをそのまま返す）。
	AllowAll bool
}

// CORS はクロスオリジンリクエストを許可するGinミドルウェアを返す。
// Cookieでトークンを受け渡すため、常に資格情報付きリクエストを許可する。
func CORS(cfg CORSConfig) gin.HandlerFunc {
	opts := cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{HeaderCorrelationID, HeaderUserID, HeaderUserRole},
		AllowCredentials: true,
		MaxAge:           86400,
	}
	if cfg.AllowAll {
		opts.AllowedOrigins = nil
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool { return true }
	}
	return WrapHTTP(cors.Handler(opts))
}
