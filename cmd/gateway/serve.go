package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edu-gateway/internal/config"
	"github.com/nao1215/edu-gateway/internal/gateway"
	"github.com/nao1215/edu-gateway/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// serve は設定を読み込み、SIGINTまたはSIGTERMを受けるまでゲートウェイを動かす。
func serve(ctx context.Context, configPath string, port int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("設定が不正です: %w", err)
		}
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	gin.SetMode(gin.ReleaseMode)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger := logging.Logger()
	for _, target := range cfg.Upstreams.Targets() {
		if !target.Configured() {
			logger.Warn().Str("upstream", target.EnvVar).Msg("upstream_not_configured")
			continue
		}
		logger.Info().Str("prefix", target.Prefix).Str("base_url", target.BaseURL).Msg("upstream_configured")
	}

	server, err := gateway.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("Gatewayサーバーの初期化に失敗: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Int("port", cfg.Server.Port).Msg("Gatewayサービスを起動します")
	return server.Run(ctx)
}
