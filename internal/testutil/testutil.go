// Package testutil provides shared helpers for tests of the /debug routes.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// LocalAddr is the remote address given to requests so tsweb's debug
// handler treats them as coming from the local machine.
const LocalAddr = "127.0.0.1:12345"

// NewLocalRequest creates a test request that passes the debug access check.
func NewLocalRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = LocalAddr
	return req
}

// Serve runs req against h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
