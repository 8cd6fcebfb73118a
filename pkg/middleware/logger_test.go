package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TestRequestLogger はRequestLoggerミドルウェアを検証する。
func TestRequestLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{name: "2xxはinfoで記録されること", status: http.StatusOK, wantLevel: "info"},
		{name: "4xxはwarnで記録されること", status: http.StatusNotFound, wantLevel: "warn"},
		{name: "5xxはerrorで記録されること", status: http.StatusInternalServerError, wantLevel: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			router := gin.New()
			router.Use(RequestLogger(zerolog.New(&buf)))
			router.GET("/log", func(c *gin.Context) {
				c.Set("user_id", "user-log")
				c.Status(tt.status)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/log", nil))

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("ログのパースに失敗: %v (%s)", err, buf.String())
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["path"] != "/log" {
				t.Errorf("path = %v, want /log", entry["path"])
			}
			if got, _ := entry["status"].(float64); int(got) != tt.status {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
			if entry["user_id"] != "user-log" {
				t.Errorf("user_id = %v, want user-log", entry["user_id"])
			}
		})
	}
}
