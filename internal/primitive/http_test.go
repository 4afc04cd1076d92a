package primitive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPExecutor_SuccessfulGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := NewHTTPExecutor()
	out, err := e.Execute(context.Background(), map[string]any{"url": srv.URL}, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestHTTPExecutor_PostWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		w.Write(buf[:n])
	}))
	defer srv.Close()

	e := NewHTTPExecutor()
	out, err := e.Execute(context.Background(), map[string]any{
		"url":    srv.URL,
		"method": http.MethodPost,
	}, map[string]any{"body": "payload"})
	require.NoError(t, err)
	require.Equal(t, "payload", out)
}

func TestHTTPExecutor_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	e := NewHTTPExecutor()
	_, err := e.Execute(context.Background(), map[string]any{"url": srv.URL}, nil)
	require.Error(t, err)
}

func TestHTTPExecutor_MissingURL(t *testing.T) {
	e := NewHTTPExecutor()
	_, err := e.Execute(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
}
