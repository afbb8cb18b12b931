package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/nao1215/edu-gateway/internal/policy"
)

// ConfigPathEnvVar は設定ファイルのパスを指定する環境変数。
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPath は設定ファイルが指定されていない場合に探すパス。
const DefaultConfigPath = "config.yaml"

// Config はゲートウェイ全体の設定。Load の後は変更しない。
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	Upstreams UpstreamsConfig `koanf:"upstreams"`
	Proxy     ProxyConfig     `koanf:"proxy"`
	CORS      CORSConfig      `koanf:"cors"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Log       LogConfig       `koanf:"log"`
	Routes    policy.Rules    `koanf:"routes"`
	Docs      DocsConfig      `koanf:"docs"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"min=1ms"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"min=1ms"`
	// MaxBodyBytes はリクエストボディの上限バイト数。
	MaxBodyBytes int64 `koanf:"max_body_bytes" validate:"min=1"`
}

// AuthConfig はトークン検証の設定。
type AuthConfig struct {
	// JWTSecret はHMAC鍵の導出元となる共有シークレット。
	JWTSecret string `koanf:"jwt_secret" validate:"required"`
	// DefaultRole はトークンにロールが無い場合に付与するロール。
	DefaultRole string `koanf:"default_role" validate:"required"`
}

// UpstreamsConfig はサービスごとの転送先ベースURL。空は未設定を表す。
type UpstreamsConfig struct {
	Auth          string `koanf:"auth" validate:"omitempty,url"`
	Users         string `koanf:"users" validate:"omitempty,url"`
	Courses       string `koanf:"courses" validate:"omitempty,url"`
	Assessments   string `koanf:"assessments" validate:"omitempty,url"`
	Progress      string `koanf:"progress" validate:"omitempty,url"`
	Gamification  string `koanf:"gamification" validate:"omitempty,url"`
	Notifications string `koanf:"notifications" validate:"omitempty,url"`
}

// Target はサービスプレフィックスと転送先の組。
type Target struct {
	// Prefix はゲートウェイ上のマウントパス（先頭スラッシュなし）。
	Prefix string
	// EnvVar はベースURLを設定する環境変数名。未設定エラーの応答に使う。
	EnvVar string
	// BaseURL は転送先のベースURL。空の場合は未設定。
	BaseURL string
}

// Configured はベースURLが設定されているかを返す。
func (t Target) Configured() bool {
	return t.BaseURL != ""
}

// Targets はプレフィックスの固定順で転送先を返す。
func (u UpstreamsConfig) Targets() []Target {
	return []Target{
		{Prefix: "auth", EnvVar: "AUTH_SERVICE_BASE_URL", BaseURL: u.Auth},
		{Prefix: "users", EnvVar: "USER_SERVICE_BASE_URL", BaseURL: u.Users},
		{Prefix: "courses", EnvVar: "COURSE_SERVICE_BASE_URL", BaseURL: u.Courses},
		{Prefix: "assessments", EnvVar: "ASSESSMENT_SERVICE_BASE_URL", BaseURL: u.Assessments},
		{Prefix: "progress", EnvVar: "PROGRESS_SERVICE_BASE_URL", BaseURL: u.Progress},
		{Prefix: "gamification", EnvVar: "GAMIFICATION_SERVICE_BASE_URL", BaseURL: u.Gamification},
		{Prefix: "notifications", EnvVar: "NOTIFICATION_SERVICE_BASE_URL", BaseURL: u.Notifications},
	}
}

// ProxyConfig は上流への転送の設定。
type ProxyConfig struct {
	// Timeout は1回の転送にかける最大時間。
	Timeout time.Duration `koanf:"timeout" validate:"min=1ms,max=30s"`
	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig は上流ごとのサーキットブレーカーの設定。
type BreakerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"gt=0,lte=1"`
	MinRequests  uint32        `koanf:"min_requests" validate:"min=1"`
	OpenTimeout  time.Duration `koanf:"open_timeout" validate:"min=1ms"`
}

// CORSConfig はCORSの設定。
type CORSConfig struct {
	Origins  []string `koanf:"origins"`
	AllowAll bool     `koanf:"allow_all"`
}

// RateLimitConfig はクライアントIPごとのレート制限の設定。
type RateLimitConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Requests int           `koanf:"requests" validate:"min=1"`
	Window   time.Duration `koanf:"window" validate:"min=1ms"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// DocsConfig はドキュメント集約用の設定。ゲートウェイ本体は参照しない。
type DocsConfig struct {
	ServicesOpenAPI []string `koanf:"services_openapi"`
}

// defaultConfig は既定値を返す。
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              3333,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			MaxBodyBytes:      50 << 20,
		},
		Auth: AuthConfig{
			JWTSecret:   "dev-secret",
			DefaultRole: policy.RoleStudent,
		},
		Proxy: ProxyConfig{
			Timeout: 15 * time.Second,
			Breaker: BreakerConfig{
				Enabled:      false,
				FailureRatio: 0.6,
				MinRequests:  10,
				OpenTimeout:  30 * time.Second,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:  false,
			Requests: 300,
			Window:   time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Routes: policy.DefaultRules(),
	}
}

// Load は既定値、設定ファイル、環境変数の順に設定を読み込み、検証する。
// path が空の場合は CONFIG_PATH、続いて config.yaml を探す。どちらも無ければファイルは読まない。
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("既定値の読み込みに失敗: %w", err)
	}

	if configPath := findConfigFile(path); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("リスト値の変換に失敗: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("設定の展開に失敗: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}
	return cfg, nil
}

// normalize は大文字小文字を区別しない設定値を小文字に揃える。
func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// validate は設定構造体の検証器。
var validate = validator.New()

// Validate は設定値を検証する。ルートテーブルはコンパイルできることも確認する。
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: %s=%s を満たしません (値: %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
		}
		return err
	}
	if _, err := policy.New(c.Routes); err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	return nil
}

// findConfigFile は読み込む設定ファイルのパスを返す。
// 明示されたパスは存在しなくても返し、読み込み時にエラーとする。
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		return envPath
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return DefaultConfigPath
	}
	return ""
}

// sliceConfigPaths はカンマ区切りの環境変数をスライスに変換するパス。
var sliceConfigPaths = []string{
	"cors.origins",
	"docs.services_openapi",
}

// processSliceFields はカンマ区切り文字列をスライスに変換する。
// YAMLから読み込んだ値は既にスライスのためそのまま残す。
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("%s の設定に失敗: %w", path, err)
		}
	}
	return nil
}

// envMappings は環境変数名（小文字）から設定パスへの対応表。
var envMappings = map[string]string{
	"port":                          "server.port",
	"read_header_timeout":           "server.read_header_timeout",
	"shutdown_timeout":              "server.shutdown_timeout",
	"max_body_bytes":                "server.max_body_bytes",
	"jwt_secret":                    "auth.jwt_secret",
	"default_role":                  "auth.default_role",
	"proxy_timeout":                 "proxy.timeout",
	"proxy_breaker_enabled":         "proxy.breaker.enabled",
	"proxy_breaker_ratio":           "proxy.breaker.failure_ratio",
	"proxy_breaker_min":             "proxy.breaker.min_requests",
	"proxy_breaker_open":            "proxy.breaker.open_timeout",
	"cors_origins":                  "cors.origins",
	"allow_all_origins":             "cors.allow_all",
	"rate_limit_enabled":            "rate_limit.enabled",
	"rate_limit_requests":           "rate_limit.requests",
	"rate_limit_window":             "rate_limit.window",
	"log_level":                     "log.level",
	"log_format":                    "log.format",
	"services_openapi":              "docs.services_openapi",
	"auth_service_base_url":         "upstreams.auth",
	"user_service_base_url":         "upstreams.users",
	"course_service_base_url":       "upstreams.courses",
	"assessment_service_base_url":   "upstreams.assessments",
	"progress_service_base_url":     "upstreams.progress",
	"gamification_service_base_url": "upstreams.gamification",
	"notification_service_base_url": "upstreams.notifications",
}

// envTransformFunc は環境変数名を設定パスに変換する。
// 対応表に無い変数と値が空の変数は空文字列を返して無視し、既定値を残す。
func envTransformFunc(key, value string) (string, any) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return envMappings[strings.ToLower(key)], value
}
