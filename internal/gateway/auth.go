package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edu-gateway/internal/metrics"
	"github.com/nao1215/edu-gateway/internal/policy"
	"github.com/nao1215/edu-gateway/pkg/logging"
	"github.com/nao1215/edu-gateway/pkg/middleware"
)

// decisionKey はGinコンテキストにルート分類結果を格納するためのキー。
const decisionKey = "route_decision"

// Authenticate はルート分類、トークン検証、ID伝播、認可を順に行うGinミドルウェアを返す。
//
// 公開ルートではトークンを検証せずに次へ進む。それ以外のルートでは有効なトークンが必要で、
// リフレッシュルートに限り署名が正しい期限切れトークンを受け入れる。
// 失敗した時点でJSONのエラーレスポンスを返して処理を中断する。
func Authenticate(classifier *policy.Classifier, verifier middleware.TokenVerifier, defaultRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		d := classifier.Classify(c.Request.Method, path)
		c.Set(decisionKey, d)
		access := d.Access.String()

		if d.Access == policy.Public {
			metrics.RecordAuth(access, metrics.AuthPublic)
			c.Next()
			return
		}

		log := logging.Ctx(c.Request.Context())

		token, ok := middleware.ExtractToken(c.Request)
		if !ok {
			metrics.RecordAuth(access, metrics.AuthMissing)
			log.Warn().Str("path", path).Msg("auth_missing_header")
			code := "missing_authorization_header"
			if d.AllowExpired {
				code = "authorization_required_for_refresh"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code})
			return
		}

		outcome := metrics.AuthAllowed
		claims, err := verifier.Verify(token)
		if err != nil && d.AllowExpired && errors.Is(err, middleware.ErrTokenExpired) {
			// 署名は検証済みのため、期限切れのクレームからIDを復元する
			claims, err = verifier.DecodeUnverified(token)
			outcome = metrics.AuthRefreshExpiry
		}
		if err != nil {
			metrics.RecordAuth(access, metrics.AuthInvalid)
			log.Warn().Str("path", path).Err(err).Msg("auth_invalid_token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		id := middleware.NewIdentity(claims, defaultRole)
		middleware.SetIdentity(c, id)

		if !d.Allows(id.Role) {
			metrics.RecordAuth(access, metrics.AuthForbidden)
			log.Warn().
				Str("path", path).
				Str("method", c.Request.Method).
				Str("user_id", id.UserID).
				Str("role", id.Role).
				Str("required", d.Required).
				Msg("auth_forbidden")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient_permissions",
				"required": d.Required,
				"current":  id.Role,
				"message":  d.Message,
			})
			return
		}

		metrics.RecordAuth(access, outcome)
		c.Next()
	}
}

// routeDecision はAuthenticateが格納したルート分類結果を返す。
func routeDecision(c *gin.Context) (policy.Decision, bool) {
	v, ok := c.Get(decisionKey)
	if !ok {
		return policy.Decision{}, false
	}
	d, ok := v.(policy.Decision)
	return d, ok
}
