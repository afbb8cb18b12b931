// Package logging はzerologベースの構造化ログを提供する。
//
// プロセス全体で1つのロガーを共有し、リクエスト単位の相関ID（correlation ID）を
// コンテキスト経由でログに付与する。
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config はロガーの設定。
type Config struct {
	// Level は出力する最小ログレベル（debug, info, warn, error）。
	Level string
	// Format は出力形式（json または console）。
	Format string
	// Output はログの出力先。nilの場合は標準エラー出力。
	Output io.Writer
}

var (
	// logger はプロセス全体で共有するロガー。
	logger zerolog.Logger
	// mu はloggerの再設定を保護する。
	mu sync.RWMutex
)

func init() {
	Init(Config{})
}

// Init はグローバルロガーを初期化する。複数回呼び出した場合は再設定される。
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.MessageFieldName = "message"

	out := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

// parseLevel は文字列のログレベルをzerologのレベルに変換する。
// 不明な値はinfoとして扱う。
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger はグローバルロガーのコピーを返す。
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// contextKey はコンテキストキーの型。
type contextKey string

// correlationIDKey はコンテキストに相関IDを格納するためのキー。
const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID はコンテキストに相関IDを設定する。
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID はコンテキストから相関IDを取得する。未設定の場合は空文字列。
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx はコンテキストの相関IDを付与したロガーを返す。
//
//	logging.Ctx(ctx).Warn().Str("path", path).Msg("auth_invalid_token")
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger()
	if id := CorrelationID(ctx); id != "" {
		l = l.With().Str("correlation_id", id).Logger()
	}
	return &l
}
