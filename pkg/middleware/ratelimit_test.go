package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// TestRateLimit はレート制限ミドルウェアを検証する。
func TestRateLimit(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.Use(RateLimit(2, time.Minute))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.0.2.10:12345"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	for i := range 2 {
		if w := do(); w.Code != http.StatusOK {
			t.Fatalf("%d回目のステータスコード = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}

	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("上限超過時のステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v", err)
	}
	if body["error"] != "rate_limited" {
		t.Errorf("error = %q, want %q", body["error"], "rate_limited")
	}
}
