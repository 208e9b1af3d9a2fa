package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded single hop", "203.0.113.1", "", "10.0.0.1:1234", "203.0.113.1"},
		{"forwarded chain keeps first hop", "203.0.113.1, 198.51.100.1", "", "10.0.0.1:1234", "203.0.113.1"},
		{"forwarded chain trims whitespace", "203.0.113.1  ,  198.51.100.1", "", "10.0.0.1:1234", "203.0.113.1"},
		{"forwarded wins over real ip", "203.0.113.1", "198.51.100.1", "10.0.0.1:1234", "203.0.113.1"},
		{"real ip", "", "198.51.100.1", "10.0.0.1:1234", "198.51.100.1"},
		{"remote addr strips port", "", "", "192.168.1.1:54321", "192.168.1.1"},
		{"ipv6 remote addr strips brackets and port", "", "", "[2001:db8::1]:54321", "2001:db8::1"},
		{"remote addr without port", "", "", "192.168.1.1", "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}

			require.Equal(t, tt.want, clientIP(r))
		})
	}
}

func TestRequests(t *testing.T) {
	t.Run("scopes the context logger and logs the request line", func(t *testing.T) {
		var buf bytes.Buffer
		log := zerolog.New(&buf)

		handler := Requests(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			zerolog.Ctx(r.Context()).Info().Msg("inside handler")
			w.WriteHeader(http.StatusCreated)
		}))

		r := httptest.NewRequest(http.MethodPost, "/api/v1/org-requests", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		out := buf.String()
		require.Contains(t, out, `"inside handler"`)
		require.Contains(t, out, `"addr":"203.0.113.1"`)
		require.Contains(t, out, `"path":"/api/v1/org-requests"`)
		require.Contains(t, out, `"status":201`)
	})

	t.Run("logs server errors at error level", func(t *testing.T) {
		var buf bytes.Buffer
		log := zerolog.New(&buf)

		handler := Requests(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Contains(t, buf.String(), `"level":"error"`)
		require.Contains(t, buf.String(), `"status":500`)
	})
}
