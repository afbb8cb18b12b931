package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edu-gateway/internal/config"
	"github.com/nao1215/edu-gateway/internal/metrics"
	"github.com/nao1215/edu-gateway/internal/policy"
	"github.com/nao1215/edu-gateway/pkg/httpclient"
	"github.com/nao1215/edu-gateway/pkg/logging"
	"github.com/nao1215/edu-gateway/pkg/middleware"
)

// Server はAPI GatewayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg は起動時に読み込んだ設定。
	cfg *config.Config
	// classifier はルートの分類器。
	classifier *policy.Classifier
	// verifier はBearerトークンの検証器。
	verifier middleware.TokenVerifier
	// proxies はサービスプレフィックスごとの転送処理。
	proxies map[string]*proxy
	// clientOpts は全上流クライアントに適用するオプション。
	clientOpts []httpclient.Option
}

// Option はServerの設定を変更する。
type Option func(*Server)

// WithVerifier はトークン検証器を差し替える。
func WithVerifier(v middleware.TokenVerifier) Option {
	return func(s *Server) {
		s.verifier = v
	}
}

// WithClientOptions は上流クライアントに追加のオプションを適用する。
func WithClientOptions(opts ...httpclient.Option) Option {
	return func(s *Server) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	classifier, err := policy.New(cfg.Routes)
	if err != nil {
		return nil, fmt.Errorf("ルートテーブルの生成に失敗: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		classifier: classifier,
		verifier:   middleware.NewHMACVerifier(cfg.Auth.JWTSecret),
		proxies:    make(map[string]*proxy),
		clientOpts: []httpclient.Option{httpclient.WithTimeout(cfg.Proxy.Timeout)},
	}
	if b := cfg.Proxy.Breaker; b.Enabled {
		s.clientOpts = append(s.clientOpts, httpclient.WithBreaker(httpclient.BreakerSettings{
			FailureRatio: b.FailureRatio,
			MinRequests:  b.MinRequests,
			OpenTimeout:  b.OpenTimeout,
		}))
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.RedirectTrailingSlash = false
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORS.Origins,
		AllowAll:       cfg.CORS.AllowAll,
	}))
	router.Use(middleware.CorrelationID())
	router.Use(metrics.Middleware())
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}
	router.Use(Authenticate(s.classifier, s.verifier, cfg.Auth.DefaultRole))
	s.router = router

	for _, target := range cfg.Upstreams.Targets() {
		s.proxies[target.Prefix] = newProxy(target, cfg.Server.MaxBodyBytes, s.clientOpts...)
	}
	s.setupRoutes()

	return s, nil
}

// Handler はサーバーのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "gateway",
			"docs":    "/docs",
			"openapi": "/openapi.json",
		})
	})

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})

	s.router.GET("/metrics", metrics.Handler())

	// サービスごとのプロキシ
	for prefix, p := range s.proxies {
		s.router.Group("/"+prefix).Any("/*path", func(c *gin.Context) {
			relative := c.Param("path")
			if relative == "" {
				relative = "/"
			}
			p.handle(c, relative)
		})
	}

	s.router.NoRoute(s.handleNoRoute)
}

// handleNoRoute はどのルートにも一致しないリクエストを処理する。
// プレフィックスそのもの（例: /courses）へのリクエストは該当サービスへ転送する。
func (s *Server) handleNoRoute(c *gin.Context) {
	path := c.Request.URL.Path
	if p, ok := s.proxies[strings.TrimPrefix(path, "/")]; ok {
		p.handle(c, "/")
		return
	}
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
}

// Run はHTTPサーバーを起動し、ctx がキャンセルされるとグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(s.cfg.Server.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Ctx(ctx).Info().Str("addr", srv.Addr).Msg("gateway_listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Ctx(ctx).Info().Msg("gateway_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	return nil
}
