package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout は転送1回あたりの既定タイムアウト。
const DefaultTimeout = 15 * time.Second

// tracerName はスパンを生成するトレーサー名。
const tracerName = "github.com/nao1215/edu-gateway/pkg/httpclient"

// ErrCircuitOpen はサーキットブレーカーが開いていて送信しなかったことを表す。
var ErrCircuitOpen = errors.New("サーキットブレーカーが開いているため送信しません")

// BreakerSettings は上流ごとのサーキットブレーカーの設定。
type BreakerSettings struct {
	// FailureRatio は遮断に切り替える失敗率。
	FailureRatio float64
	// MinRequests は失敗率を評価するために必要な最小リクエスト数。
	MinRequests uint32
	// OpenTimeout は遮断状態から半開状態へ移るまでの時間。
	OpenTimeout time.Duration
}

// Response は上流から受け取ったレスポンス。ボディは読み込み済み。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client は1つの上流サービスへリクエストを転送するHTTPクライアント。
// リトライは行わない。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// name は上流の識別名。スパンとブレーカーの名前に使う。
	name string
	// baseURL は接続先サービスのベースURL。
	baseURL string
	// timeout は1回の転送にかける最大時間。
	timeout time.Duration
	// breaker は有効な場合のみ設定される。
	breaker *gobreaker.CircuitBreaker[*Response]
	// propagator はトレースコンテキストをヘッダーへ注入する。nil の場合はグローバル設定を使う。
	propagator propagation.TextMapPropagator
	tracer     trace.Tracer
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithTimeout は転送のタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPropagator はトレースコンテキストの伝播方式を設定する。
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *Client) {
		c.propagator = p
	}
}

// WithBreaker はサーキットブレーカーを有効にする。
// 接続失敗やタイムアウトを失敗として数え、呼び出し元によるキャンセルは数えない。
func WithBreaker(s BreakerSettings) Option {
	return func(c *Client) {
		minRequests := s.MinRequests
		ratio := s.FailureRatio
		c.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
			Name:    c.name,
			Timeout: s.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < minRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
	}
}

// New は新しい上流クライアントを生成する。
// baseURLには接続先サービスのベースURL（例: "http://courses:3000"）を指定する。
func New(name, baseURL string, opts ...Option) *Client {
	c := &Client{
		// タイムアウトはリクエストのコンテキストで制御する
		httpClient: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: DefaultTimeout,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL は転送先の完全なURLを返す。pathAndQuery は "/" で始まる必要がある。
func (c *Client) URL(pathAndQuery string) string {
	return c.baseURL + pathAndQuery
}

// Forward はリクエストを上流へ1回だけ送信し、レスポンスを読み込んで返す。
// ctx がキャンセルされた場合、送信中のリクエストも中断される。
// 上流がHTTPレスポンスを返した場合はステータスコードに関わらずエラーにしない。
func (c *Client) Forward(ctx context.Context, method, pathAndQuery string, header http.Header, body []byte) (*Response, error) {
	if c.breaker == nil {
		return c.do(ctx, method, pathAndQuery, header, body)
	}

	resp, err := c.breaker.Execute(func() (*Response, error) {
		return c.do(ctx, method, pathAndQuery, header, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	}
	return resp, err
}

// do はHTTPリクエストを実行する共通処理。
func (c *Client) do(ctx context.Context, method, pathAndQuery string, header http.Header, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.URL(pathAndQuery)
	ctx, span := c.tracer.Start(ctx, "proxy "+c.name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", url),
			attribute.String("gateway.upstream", c.name),
		),
	)
	defer span.End()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	c.textMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// textMapPropagator は使用するプロパゲーターを返す。
func (c *Client) textMapPropagator() propagation.TextMapPropagator {
	if c.propagator != nil {
		return c.propagator
	}
	return otel.GetTextMapPropagator()
}
