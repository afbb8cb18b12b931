package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edu-gateway/internal/policy"
	"github.com/nao1215/edu-gateway/pkg/middleware"
)

// countingVerifier は呼び出し回数を数えるTokenVerifier。
type countingVerifier struct {
	middleware.TokenVerifier
	verified atomic.Int32
}

func (v *countingVerifier) Verify(token string) (*middleware.Claims, error) {
	v.verified.Add(1)
	return v.TokenVerifier.Verify(token)
}

func TestAuthenticate_PublicRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		path   string
		want   string
	}{
		{name: "ログイン", method: http.MethodPost, path: "/auth/v1/login", want: "/auth/v1/login"},
		{name: "ユーザー登録", method: http.MethodPost, path: "/users/v1/register", want: "/users/v1/register"},
		{name: "部署一覧", method: http.MethodGet, path: "/users/v1/departamentos", want: "/users/v1/departamentos"},
		{name: "サービスのドキュメント", method: http.MethodGet, path: "/courses/docs/foo", want: "/docs/foo"},
		{name: "swaggerアセット", method: http.MethodGet, path: "/courses/swagger-ui.css", want: "/docs/swagger-ui.css"},
	}

	for _, tt := range tests {
		t.Run(tt.name+"はトークンを検証せずに転送されること", func(t *testing.T) {
			t.Parallel()

			verifier := &countingVerifier{TokenVerifier: middleware.NewHMACVerifier(testJWTSecret)}
			s, backend := newTestServerWithBackend(t, nil, WithVerifier(verifier))

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"email":"a@example.com"}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer garbage")
			w := serve(s, req)

			if w.Code != http.StatusOK {
				t.Fatalf("ステータスコード: got %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
			}
			if n := verifier.verified.Load(); n != 0 {
				t.Errorf("Verify の呼び出し回数: got %d, want 0", n)
			}
			if got := backend.last(t).URI; got != tt.want {
				t.Errorf("転送パス: got %q, want %q", got, tt.want)
			}
			if got := backend.last(t).Header.Get(middleware.HeaderUserID); got != "" {
				t.Errorf("公開ルートで X-User-ID が設定された: %q", got)
			}
		})
	}
}

func TestAuthenticate_MissingToken(t *testing.T) {
	t.Parallel()

	t.Run("トークンが無い場合は401を返し上流を呼ばないこと", func(t *testing.T) {
		t.Parallel()

		s, backend := newTestServerWithBackend(t, nil)
		w := serve(s, httptest.NewRequest(http.MethodGet, "/courses/v1", nil))

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if body := decodeBody(t, w); body["error"] != "missing_authorization_header" {
			t.Errorf("error: got %v, want missing_authorization_header", body["error"])
		}
		if backend.calls() != 0 {
			t.Errorf("上流の呼び出し回数: got %d, want 0", backend.calls())
		}
	})

	t.Run("リフレッシュでトークンが無い場合は専用のエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		s, backend := newTestServerWithBackend(t, nil)
		w := serve(s, httptest.NewRequest(http.MethodPost, "/auth/v1/refresh", nil))

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if body := decodeBody(t, w); body["error"] != "authorization_required_for_refresh" {
			t.Errorf("error: got %v, want authorization_required_for_refresh", body["error"])
		}
		if backend.calls() != 0 {
			t.Errorf("上流の呼び出し回数: got %d, want 0", backend.calls())
		}
	})
}

func TestAuthenticate_Token(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンでIDヘッダーを付与して転送すること", func(t *testing.T) {
		t.Parallel()

		s, backend := newTestServerWithBackend(t, nil)
		req := httptest.NewRequest(http.MethodGet, "/courses/v1?page=2", nil)
		req.Header.Set("Authorization", "Bearer "+generateTestJWT(t, "user-1", policy.RoleInstructor, time.Hour))
		w := serve(s, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		got := backend.last(t)
		if got.URI != "/courses/v1?page=2" {
			t.Errorf("転送パス: got %q, want %q", got.URI, "/courses/v1?page=2")
		}
		if got.Header.Get(middleware.HeaderUserID) != "user-1" {
			t.Errorf("X-User-ID: got %q, want user-1", got.Header.Get(middleware.HeaderUserID))
		}
		if got.Header.Get(middleware.HeaderUserRole) != policy.RoleInstructor {
			t.Errorf("X-User-Role: got %q, want %s", got.Header.Get(middleware.HeaderUserRole), policy.RoleInstructor)
		}
		if got.Header.Get("Authorization") == "" {
			t.Error("Authorization ヘッダーが上流へ転送されていない")
		}
		if w.Header().Get(middleware.HeaderUserID) != "user-1" {
			t.Errorf("レスポンスの X-User-ID: got %q, want user-1", w.Header().Get(middleware.HeaderUserID))
		}
	})

	t.Run("Cookieのトークンを受け付けること", func(t *testing.T) {
		t.Parallel()

		s, backend := newTestServerWithBackend(t, nil)
		req := httptest.NewRequest(http.MethodGet, "/courses/v1", nil)
		req.Header.Set("Cookie", "theme=dark; accessToken="+generateTestJWT(t, "user-2", "", time.Hour))
		w := serve(s, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		if got := backend.last(t).Header.Get(middleware.HeaderUserRole); got != policy.RoleStudent {
			t.Errorf("ロールが無い場合は既定ロールになるべき: got %q, want %s", got, policy.RoleStudent)
		}
	})

	t.Run("不正なトークンは401を返すこと", func(t *testing.T) {
		t.Parallel()

		s, backend := newTestServerWithBackend(t, nil)
		req := httptest.NewRequest(http.MethodGet, "/courses/v1", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		w := serve(s, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if body := decodeBody(t, w); body["error"] != "invalid_token" {
			t.Errorf("error: got %v, want invalid_token", body["error"])
		}
		if backend.calls() != 0 {
			t.Errorf("上流の呼び出し回数: got %d, want 0", backend.calls())
		}
	})

	t.Run("別のシークレットで署名されたトークンは401を返すこと", func(t *testing.T) {
		t.Parallel()

		token, err := middleware.GenerateJWT("other-secret", "user-1", policy.RoleAdmin, time.Hour)
		if err != nil {
			t.Fatalf("JWTトークンの生成に失敗: %v", err)
		}
		s, _ := newTestServerWithBackend(t, nil)
		req := httptest.NewRequest(http.MethodGet, "/courses/v1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := serve(s, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("期限切れトークンはリフレッシュ以外では401を返すこと", func(t *testing.T) {
		t.Parallel()

		s, backend := newTestServerWithBackend(t, nil)
		req := httptest.NewRequest(http.MethodGet, "/courses/v1", nil)
		req.Header.Set("Authorization", "Bearer "+generateTestJWT(t, "user-1", policy.RoleAdmin, -time.Minute))
		w := serve(s, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if body := decodeBody(t, w); body["error"] != "invalid_token" {
			t.Errorf("error: got %v, want invalid_token", body["error"])
		}
		if backend.calls() != 0 {
			t.Errorf("上流の呼び出し回数: got %d, want 0", backend.calls())
		}
	})
}

func TestAuthenticate_Refresh(t *testing.T) {
	t.Parallel()

	t.Run("署名が正しい期限切れトークンでリフレッシュできること", func(t *testing.T) {
		t.Parallel()

		s, backend := newTestServerWithBackend(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/auth/v1/refresh", nil)
		req.Header.Set("Authorization", "Bearer "+generateTestJWT(t, "user-9", policy.RoleManager, -time.Hour))
		w := serve(s, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
		}
		got := backend.last(t)
		if got.URI != "/auth/v1/refresh" {
			t.Errorf("転送パス: got %q, want /auth/v1/refresh", got.URI)
		}
		if got.Header.Get(middleware.HeaderUserID) != "user-9" {
			t.Errorf("X-User-ID: got %q, want user-9", got.Header.Get(middleware.HeaderUserID))
		}
		if got.Header.Get(middleware.HeaderUserRole) != policy.RoleManager {
			t.Errorf("X-User-Role: got %q, want %s", got.Header.Get(middleware.HeaderUserRole), policy.RoleManager)
		}
	})

	t.Run("署名が不正なトークンではリフレッシュできないこと", func(t *testing.T) {
		t.Parallel()

		token, err := middleware.GenerateJWT("other-secret", "user-9", "", -time.Hour)
		if err != nil {
			t.Fatalf("JWTトークンの生成に失敗: %v", err)
		}
		s, backend := newTestServerWithBackend(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/auth/v1/refresh", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := serve(s, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if backend.calls() != 0 {
			t.Errorf("上流の呼び出し回数: got %d, want 0", backend.calls())
		}
	})

	t.Run("形式が不正なトークンではリフレッシュできないこと", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServerWithBackend(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/auth/v1/refresh", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		w := serve(s, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestAuthenticate_Roles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		method       string
		path         string
		role         string
		wantStatus   int
		wantRequired string
	}{
		{
			name:   "ADMINのみの操作をALUNOが行うと403",
			method: http.MethodPut, path: "/users/v1/funcionarios/42/role", role: policy.RoleStudent,
			wantStatus: http.StatusForbidden, wantRequired: "ADMIN",
		},
		{
			name:   "ADMINのみの操作をGERENTEが行うと403",
			method: http.MethodPost, path: "/courses/v1/categorias", role: policy.RoleManager,
			wantStatus: http.StatusForbidden, wantRequired: "ADMIN",
		},
		{
			name:   "コース作成をALUNOが行うと403",
			method: http.MethodPost, path: "/courses/v1", role: policy.RoleStudent,
			wantStatus: http.StatusForbidden, wantRequired: "INSTRUTOR ou ADMIN",
		},
		{
			name:   "コース作成をINSTRUTORが行うと転送",
			method: http.MethodPost, path: "/courses/v1", role: policy.RoleInstructor,
			wantStatus: http.StatusOK,
		},
		{
			name:   "ADMINはすべての階層を通過",
			method: http.MethodDelete, path: "/courses/v1/7/active", role: policy.RoleAdmin,
			wantStatus: http.StatusOK,
		},
		{
			name:   "参照系のメソッドはロール制限の対象外",
			method: http.MethodGet, path: "/courses/v1/categorias", role: policy.RoleStudent,
			wantStatus: http.StatusOK,
		},
		{
			name:   "パスの大文字小文字を変えてもロール制限が適用される",
			method: http.MethodPost, path: "/courses/V1/categorias", role: policy.RoleStudent,
			wantStatus: http.StatusForbidden, wantRequired: "ADMIN",
		},
		{
			name:   "末尾スラッシュ付きでもロール制限が適用される",
			method: http.MethodPost, path: "/courses/v1/", role: policy.RoleStudent,
			wantStatus: http.StatusForbidden, wantRequired: "INSTRUTOR ou ADMIN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, backend := newTestServerWithBackend(t, nil)
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"name":"x"}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+generateTestJWT(t, "user-1", tt.role, time.Hour))
			w := serve(s, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("ステータスコード: got %d, want %d (body: %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusForbidden {
				if backend.calls() != 1 {
					t.Errorf("上流の呼び出し回数: got %d, want 1", backend.calls())
				}
				return
			}

			body := decodeBody(t, w)
			if body["error"] != "insufficient_permissions" {
				t.Errorf("error: got %v, want insufficient_permissions", body["error"])
			}
			if body["required"] != tt.wantRequired {
				t.Errorf("required: got %v, want %q", body["required"], tt.wantRequired)
			}
			if body["current"] != tt.role {
				t.Errorf("current: got %v, want %q", body["current"], tt.role)
			}
			if msg, _ := body["message"].(string); msg == "" {
				t.Error("message が空")
			}
			if w.Header().Get(middleware.HeaderUserRole) != tt.role {
				t.Errorf("403でも X-User-Role を返すべき: got %q", w.Header().Get(middleware.HeaderUserRole))
			}
			if backend.calls() != 0 {
				t.Errorf("上流の呼び出し回数: got %d, want 0", backend.calls())
			}
		})
	}
}

func TestRouteDecision(t *testing.T) {
	t.Parallel()

	classifier, err := policy.New(policy.DefaultRules())
	if err != nil {
		t.Fatalf("policy.New() error = %v", err)
	}

	t.Run("Authenticateが格納した分類結果を後続のハンドラで参照できること", func(t *testing.T) {
		t.Parallel()

		var (
			got   policy.Decision
			found bool
		)
		router := gin.New()
		router.Use(Authenticate(classifier, middleware.NewHMACVerifier(testJWTSecret), policy.RoleStudent))
		router.POST("/courses/v1/categorias", func(c *gin.Context) {
			got, found = routeDecision(c)
			c.Status(http.StatusNoContent)
		})

		req := httptest.NewRequest(http.MethodPost, "/courses/v1/categorias", nil)
		req.Header.Set("Authorization", "Bearer "+generateTestJWT(t, "admin-1", policy.RoleAdmin, time.Hour))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusNoContent)
		}
		if !found {
			t.Fatal("分類結果が見つからない")
		}
		if got.Access != policy.RoleRestricted {
			t.Errorf("Access: got %v, want %v", got.Access, policy.RoleRestricted)
		}
	})

	t.Run("Authenticateを通らない場合は見つからないこと", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		if _, ok := routeDecision(c); ok {
			t.Error("routeDecision() ok = true, want false")
		}
	})
}
