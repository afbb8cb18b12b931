package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/nao1215/edu-gateway/internal/config"
	"github.com/nao1215/edu-gateway/internal/metrics"
	"github.com/nao1215/edu-gateway/pkg/httpclient"
	"github.com/nao1215/edu-gateway/pkg/logging"
	"github.com/nao1215/edu-gateway/pkg/middleware"
)

var (
	// ErrUpstreamNotConfigured は転送先のベースURLが設定されていないことを表す。
	ErrUpstreamNotConfigured = errors.New("転送先のベースURLが設定されていません")
	// errInvalidJSON はJSONとして解釈できないリクエストボディを表す。
	errInvalidJSON = errors.New("リクエストボディが不正なJSONです")
)

// droppedRequestHeaders は上流へ転送しないリクエストヘッダー。
// 接続単位のヘッダーに加え、ゲートウェイだけが設定するID系ヘッダーを含む。
var droppedRequestHeaders = []string{
	"Host",
	"Connection",
	"Content-Length",
	"Accept-Encoding",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	middleware.HeaderCorrelationID,
	middleware.HeaderUserID,
	middleware.HeaderUserRole,
	middleware.HeaderUserRoles,
}

// proxy は1つのサービスプレフィックスへの転送を担当する。
type proxy struct {
	target       config.Target
	client       *httpclient.Client
	rewriter     *pathRewriter
	maxBodyBytes int64
}

// newProxy はproxyを生成する。ベースURLが未設定の場合はclientを持たない。
func newProxy(target config.Target, maxBodyBytes int64, opts ...httpclient.Option) *proxy {
	p := &proxy{
		target:       target,
		rewriter:     newPathRewriter(target.Prefix),
		maxBodyBytes: maxBodyBytes,
	}
	if target.Configured() {
		p.client = httpclient.New(target.Prefix, target.BaseURL, opts...)
	}
	return p
}

// handle は上流へリクエストを転送し、レスポンスを中継するハンドラ。
// relative はマウント位置からの相対パス。
func (p *proxy) handle(c *gin.Context, relative string) {
	c.Set(middleware.UpstreamKey, p.target.Prefix)
	log := logging.Ctx(c.Request.Context())

	if p.client == nil {
		metrics.RecordUpstream(p.target.Prefix, metrics.UpstreamNotConfigured, 0)
		log.Error().Err(ErrUpstreamNotConfigured).Str("upstream", p.target.EnvVar).Msg("upstream_not_configured")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":    "upstream_not_configured",
			"upstream": p.target.EnvVar,
		})
		return
	}

	original := c.Request.URL.EscapedPath()
	forwardPath := p.rewriter.forwardPath(original, relative)
	if q := c.Request.URL.RawQuery; q != "" {
		forwardPath += "?" + q
	}
	ev := log.Debug().
		Str("original", original).
		Str("relative", relative).
		Str("forward_path", forwardPath).
		Str("service_prefix", p.target.Prefix).
		Str("upstream", p.client.URL(forwardPath)).
		Str("method", c.Request.Method)
	if d, ok := routeDecision(c); ok {
		ev = ev.Str("access", d.Access.String())
	}
	ev.Msg("proxy_request")

	body, err := p.readBody(c)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
		case errors.Is(err, errInvalidJSON):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		default:
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		}
		return
	}

	header := outboundHeaders(c)

	start := time.Now()
	resp, err := p.client.Forward(c.Request.Context(), c.Request.Method, forwardPath, header.Header(), body)
	if err != nil {
		outcome := metrics.UpstreamBadGateway
		if errors.Is(err, httpclient.ErrCircuitOpen) {
			outcome = metrics.UpstreamCircuitOpen
		}
		metrics.RecordUpstream(p.target.Prefix, outcome, time.Since(start))
		log.Error().Err(err).Str("upstream", p.client.URL(forwardPath)).Msg("proxy_error")
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":   "bad_gateway",
			"message": upstreamFailureMessage(err),
		})
		return
	}
	metrics.RecordUpstream(p.target.Prefix, metrics.UpstreamOK, time.Since(start))

	relayResponse(c, resp)
}

// upstreamFailureMessage はクライアントへ返す転送失敗の説明を返す。
// 上流のアドレスを含めないよう、エラーの内容ではなく種類だけを伝える。
func upstreamFailureMessage(err error) string {
	switch {
	case errors.Is(err, httpclient.ErrCircuitOpen):
		return "circuit open"
	case errors.Is(err, context.DeadlineExceeded):
		return "upstream timeout"
	default:
		return "upstream unreachable"
	}
}

// readBody は転送するリクエストボディを読み込む。ボディを転送しない場合は nil を返す。
//
// GETとHEADではボディを転送しない。JSONのボディは検証したうえで空のオブジェクトや配列なら転送せず、
// それ以外は整形せずに転送する。JSON以外のボディは受け取ったまま転送する。
func (p *proxy) readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Body == nil {
		return nil, nil
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, p.maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	if !isJSONContentType(c.GetHeader("Content-Type")) {
		return raw, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errInvalidJSON
	}
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case []any:
		if len(t) == 0 {
			return nil, nil
		}
	default:
		// オブジェクトと配列以外は受け付けない
		return nil, errInvalidJSON
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, errInvalidJSON
	}
	return buf.Bytes(), nil
}

// isJSONContentType はContent-TypeがJSONを示すかを判定する。
func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// outboundHeaders は上流へ送るヘッダーを組み立てる。
// Content-Type はクライアントの値をそのまま使い、ゲートウェイからは補わない。
func outboundHeaders(c *gin.Context) *HeaderBag {
	h := NewHeaderBag(c.Request.Header)
	for _, name := range droppedRequestHeaders {
		h.Del(name)
	}

	h.Set(middleware.HeaderCorrelationID, middleware.GetCorrelationID(c))
	if id, ok := middleware.GetIdentity(c); ok {
		h.Set(middleware.HeaderUserID, id.UserID)
		h.Set(middleware.HeaderUserRole, id.Role)
	}
	return h
}

// relayResponse は上流のレスポンスをクライアントへ中継する。
// Transfer-Encoding 以外のヘッダーをコピーし、Set-Cookie は上書きせずにすべての値を追加する。
func relayResponse(c *gin.Context, resp *httpclient.Response) {
	out := c.Writer.Header()
	replaced := make(map[string]bool)
	NewHeaderBag(resp.Header).Each(func(name, value string) {
		switch {
		case strings.EqualFold(name, "Transfer-Encoding"):
			return
		case strings.EqualFold(name, "Set-Cookie"):
			out.Add(name, value)
		default:
			if !replaced[name] {
				out.Del(name)
				replaced[name] = true
			}
			out.Add(name, value)
		}
	})

	c.Status(resp.StatusCode)
	if len(resp.Body) > 0 && bodyAllowed(c.Request.Method, resp.StatusCode) {
		if _, err := c.Writer.Write(resp.Body); err != nil {
			logging.Ctx(c.Request.Context()).Warn().Err(err).Msg("proxy_write_error")
		}
	} else {
		c.Writer.WriteHeaderNow()
	}
}

// bodyAllowed はレスポンスボディを書き込めるかを判定する。
func bodyAllowed(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	return status != http.StatusNoContent && status != http.StatusNotModified && status >= http.StatusOK
}
