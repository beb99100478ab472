package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func TestWriteHelpers(t *testing.T) {
	t.Run("error with code", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteErrorCode(rec, http.StatusForbidden, "organization_access_denied", "denied")

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"error":"denied","code":"organization_access_denied"}`, rec.Body.String())
	})

	t.Run("detail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteDetail(rec, http.StatusUnprocessableEntity, "Invalid email address", "")

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.JSONEq(t, `{"detail":"Invalid email address"}`, rec.Body.String())
	})

	t.Run("internal error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteInternalError(rec, errors.New("boom"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"boom"}`, rec.Body.String())
	})

	t.Run("no content", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteNoContent(rec)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestParseHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/organizations?page=2&size=x&q=acme", nil)

	page, err := ParseQueryInt(req, "page", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page)

	_, err = ParseQueryInt(req, "size", 10)
	assert.Error(t, err)

	missing, err := ParseQueryInt(req, "limit", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, missing)

	assert.Equal(t, "acme", ParseQueryString(req, "q", ""))
	assert.Equal(t, "none", ParseQueryString(req, "sort", "none"))

	var body struct {
		Email string `json:"email"`
	}
	post := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c"}`))
	require.NoError(t, ParseJSON(post, &body))
	assert.Equal(t, "a@b.c", body.Email)

	bad := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.Error(t, ParseJSON(bad, &body))
}

func TestParsePathString(t *testing.T) {
	router := mux.NewRouter()
	var got string
	var gotErr error
	router.HandleFunc("/organizations/{id}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = ParsePathString(r, "id")
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/organizations/abc", nil))
	require.NoError(t, gotErr)
	assert.Equal(t, "abc", got)

	_, err := ParsePathString(httptest.NewRequest(http.MethodGet, "/", nil), "id")
	assert.Error(t, err)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "given")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "given", seen)
}

func TestLoggingAndRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	handler := Chain(
		RequestIDMiddleware,
		LoggingMiddleware(logger),
		RecoveryMiddleware,
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	req := httptest.NewRequest(http.MethodGet, "/app/me", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var completed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &completed))
	assert.Equal(t, "request completed", completed["msg"])
	assert.Equal(t, "req-42", completed["request_id"])
	assert.EqualValues(t, 500, completed["status"])
	assert.Contains(t, lines[0], "handler exploded")
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"http://localhost:5173"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/organizations", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Selected-Org")

	req = httptest.NewRequest(http.MethodGet, "/organizations", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMaxBytesMiddleware(t *testing.T) {
	handler := MaxBytesMiddleware(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v interface{}
		if err := ParseJSON(r, &v); err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
		WriteNoContent(w)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"too long"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
