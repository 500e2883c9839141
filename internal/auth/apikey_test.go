package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAPIKeyMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		key    string
		header string
		query  string
		want   int
	}{
		{name: "disabled", key: "", want: http.StatusOK},
		{name: "missing", key: "s3cret", want: http.StatusUnauthorized},
		{name: "header", key: "s3cret", header: "s3cret", want: http.StatusOK},
		{name: "query", key: "s3cret", query: "s3cret", want: http.StatusOK},
		{name: "wrong", key: "s3cret", header: "nope", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/x", APIKeyMiddleware(tt.key), func(c *gin.Context) { c.Status(http.StatusOK) })

			target := "/x"
			if tt.query != "" {
				target += "?api_key=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set(HeaderName, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
