package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusOK, map[string]string{"hello": "world"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"hello":"world"}`, rec.Body.String())
}

func TestWriteForbiddenIncludesMissingPermissions(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteForbidden(rec, "insufficient permissions", "reports:view", "admin:access")

	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient permissions", resp.Error)
	assert.Equal(t, []string{"reports:view", "admin:access"}, resp.Missing)
}

func TestWriteServiceUnavailableSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceUnavailable(rec, "upstream unavailable", 30)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestWriteTooManyRequestsSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteTooManyRequests(rec, "rate limit exceeded", 15)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "15", rec.Header().Get("Retry-After"))
}

func TestParseJSONOrError(t *testing.T) {
	var dest struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	rec := httptest.NewRecorder()
	assert.True(t, ParseJSONOrError(rec, req, &dest))
	assert.Equal(t, "x", dest.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
	rec = httptest.NewRecorder()
	assert.False(t, ParseJSONOrError(rec, req, &dest))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParsePathString(t *testing.T) {
	router := mux.NewRouter()

	var got string
	var ok bool
	router.HandleFunc("/reports/{reportId}", func(w http.ResponseWriter, r *http.Request) {
		got, ok = ParsePathStringOrError(w, r, "reportId")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/r-42", nil))
	assert.True(t, ok)
	assert.Equal(t, "r-42", got)
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25", nil)
	val, err := ParseQueryInt(req, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 25, val)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	val, err = ParseQueryInt(req, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, val)

	req = httptest.NewRequest(http.MethodGet, "/?limit=abc", nil)
	_, err = ParseQueryInt(req, "limit", 50)
	assert.Error(t, err)
}

func TestParseQueryTime(t *testing.T) {
	stamp := "2026-01-02T15:04:05Z"
	req := httptest.NewRequest(http.MethodGet, "/?since="+stamp, nil)
	got, err := ParseQueryTime(req, "since")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), got.UTC())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	got, err = ParseQueryTime(req, "since")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	req = httptest.NewRequest(http.MethodGet, "/?since=yesterday", nil)
	_, err = ParseQueryTime(req, "since")
	assert.Error(t, err)
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Disallowed origin gets no CORS headers
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Preflight short-circuits
	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(mk("outer"), mk("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestMaxBytesMiddleware(t *testing.T) {
	handler := MaxBytesMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var dest map[string]interface{}
		if err := ParseJSON(r, &dest); err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"bbbbbbbbbbbbbbbb"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
