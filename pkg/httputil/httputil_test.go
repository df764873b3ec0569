package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/biller/pkg/observability"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
	}{
		{"error", func(w http.ResponseWriter) { WriteError(w, http.StatusTeapot, errors.New("msg")) }, http.StatusTeapot},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "msg") }, http.StatusBadRequest},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "msg") }, http.StatusNotFound},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "msg") }, http.StatusConflict},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, errors.New("msg")) }, http.StatusInternalServerError},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "msg") }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, "msg", body.Error)
		})
	}
}

func TestParsePathInt64(t *testing.T) {
	router := mux.NewRouter()
	var got int64
	router.HandleFunc("/invoices/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := ParsePathInt64OrError(w, r, "id")
		if !ok {
			return
		}
		got = id
		w.WriteHeader(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/invoices/42", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, int64(42), got)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/invoices/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid integer for id")

	_, err := ParsePathInt64(httptest.NewRequest(http.MethodGet, "/", nil), "id")
	assert.Error(t, err)
}

func TestParseQueryString(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/invoices?status=PAID", nil)
	assert.Equal(t, "PAID", ParseQueryString(r, "status", ""))
	assert.Equal(t, "x", ParseQueryString(r, "missing", "x"))
}

func TestMiddlewareChain(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var seenID string

	handler := Chain(
		RequestIDMiddleware(logger),
		LoggingMiddleware,
		RecoveryMiddleware,
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = observability.GetRequestID(r.Context())
		if r.URL.Path == "/panic" {
			panic("handler exploded")
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	t.Run("request id is propagated", func(t *testing.T) {
		hook.Reset()
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set(RequestIDHeader, "abc")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
		assert.Equal(t, "abc", seenID)
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, "HTTP request", hook.LastEntry().Message)
		assert.Equal(t, http.StatusAccepted, hook.LastEntry().Data["status"])
		assert.Equal(t, "abc", hook.LastEntry().Data["request_id"])
	})

	t.Run("request id is generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
		assert.Len(t, w.Header().Get(RequestIDHeader), 36)
	})

	t.Run("panic becomes 500", func(t *testing.T) {
		hook.Reset()
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "PANIC recovered in HTTP handler", hook.AllEntries()[0].Message)
	})
}
