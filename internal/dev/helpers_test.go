package dev

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/disco0/usbundle/internal/server"
)

func httptestGet(t *testing.T, srv *server.Server, path string) string {
	t.Helper()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec.Body.String()
}
