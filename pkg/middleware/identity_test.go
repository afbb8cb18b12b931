package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// TestIdentity はIDの組み立てとGinコンテキストへの保存を検証する。
func TestIdentity(t *testing.T) {
	t.Parallel()

	t.Run("ロールが無い場合は既定ロールを使うこと", func(t *testing.T) {
		t.Parallel()

		id := NewIdentity(&Claims{Subject: "user-1"}, "ALUNO")
		if id.Role != "ALUNO" {
			t.Errorf("Role = %q, want %q", id.Role, "ALUNO")
		}
	})

	t.Run("SetIdentityでレスポンスヘッダーとコンテキストに反映されること", func(t *testing.T) {
		t.Parallel()

		var got Identity
		var ok bool
		router := gin.New()
		router.GET("/test", func(c *gin.Context) {
			SetIdentity(c, NewIdentity(&Claims{Subject: "user-2", Role: "ADMIN"}, "ALUNO"))
			got, ok = GetIdentity(c)
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if !ok || got.UserID != "user-2" || got.Role != "ADMIN" {
			t.Errorf("GetIdentity() = %+v, %v", got, ok)
		}
		if h := w.Header().Get(HeaderUserID); h != "user-2" {
			t.Errorf("%s = %q, want %q", HeaderUserID, h, "user-2")
		}
		if h := w.Header().Get(HeaderUserRole); h != "ADMIN" {
			t.Errorf("%s = %q, want %q", HeaderUserRole, h, "ADMIN")
		}
	})

	t.Run("未認証の場合はGetIdentityがfalseを返すこと", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		if _, ok := GetIdentity(c); ok {
			t.Error("未認証のコンテキストでGetIdentity()がtrueを返した")
		}
	})
}
