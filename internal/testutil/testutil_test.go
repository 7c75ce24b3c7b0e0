package testutil

import (
	"net/http"
	"strings"
	"testing"
)

func TestNewLocalRequest(t *testing.T) {
	req := NewLocalRequest(http.MethodPost, "/debug/serial-send", strings.NewReader("command=5a"))
	if req.Method != http.MethodPost {
		t.Errorf("method = %s", req.Method)
	}
	if req.URL.Path != "/debug/serial-send" {
		t.Errorf("path = %s", req.URL.Path)
	}
	if req.RemoteAddr != LocalAddr {
		t.Errorf("remote addr = %s", req.RemoteAddr)
	}
}

func TestServe(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := Serve(h, NewLocalRequest(http.MethodGet, "/", nil))
	AssertStatusCode(t, rec.Code, http.StatusTeapot)
}
