package execadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/freedeaths/tidbcloud-skills/internal/skill"
)

func newTestAdapter(t *testing.T, handler http.Handler) (*HTTPAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := skill.Config{}
	cfg.Connection.Host = srv.URL // http://127.0.0.1:port
	cfg.Connection.BasePath = "/api/v1beta1"
	return NewHTTPAdapter("test", cfg, nil), srv
}

func TestHTTPAdapterSuccess(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1beta1/clusters" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if body["displayName"] != "c1" {
			t.Errorf("displayName = %v", body["displayName"])
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"clusterId": "10312345", "state": "CREATING"})
	}))

	out, err := adapter.Execute(context.Background(), "ClusterService_CreateCluster", Request{
		Type:   "http",
		Method: "POST",
		Path:   "/clusters",
		Body:   map[string]any{"displayName": "c1"},
	})
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if !out.Success {
		t.Fatalf("outcome not successful: %+v", out)
	}
	if out.StatusCode != 200 {
		t.Errorf("status = %d", out.StatusCode)
	}
	if out.Body["clusterId"] != "10312345" {
		t.Errorf("clusterId = %v", out.Body["clusterId"])
	}
	if out.Class != FailureNone {
		t.Errorf("class = %q, want none", out.Class)
	}
}

func TestHTTPAdapterNonJSONBody(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("plain text response"))
	}))

	out, err := adapter.Execute(context.Background(), "op", Request{Method: "GET", Path: "/x"})
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if out.Body["raw"] != "plain text response" {
		t.Errorf("raw body = %v", out.Body["raw"])
	}
}

func TestHTTPAdapterFailureClassification(t *testing.T) {
	tests := []struct {
		status int
		class  FailureClass
	}{
		{http.StatusConflict, FailureConflict},
		{http.StatusTooManyRequests, FailureTransient},
		{http.StatusInternalServerError, FailureTransient},
		{http.StatusNotFound, FailureUnknown},
	}
	for _, tt := range tests {
		status := tt.status
		adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		out, err := adapter.Execute(context.Background(), "op", Request{Method: "GET", Path: "/x"})
		if err != nil {
			t.Fatalf("Execute returned unexpected error: %v", err)
		}
		if out.Success {
			t.Errorf("status %d should not be a success", status)
		}
		if out.Class != tt.class {
			t.Errorf("status %d class = %q, want %q", status, out.Class, tt.class)
		}
		if !strings.Contains(out.Error, "HTTP") {
			t.Errorf("error %q missing HTTP prefix", out.Error)
		}
	}
}

func TestHTTPAdapterDigestHandshake(t *testing.T) {
	t.Setenv("TEST_PUBLIC_KEY", "pub")
	t.Setenv("TEST_PRIVATE_KEY", "priv")

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") == "" {
			w.Header().Set("WWW-Authenticate", `Digest realm="tidb.cloud", qop="auth", nonce="abc"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Digest ") {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	t.Cleanup(srv.Close)

	cfg := skill.Config{}
	cfg.Connection.Host = srv.URL
	cfg.Connection.Auth.Type = "digest"
	cfg.Connection.Auth.EnvVars = map[string]string{
		"public_key":  "TEST_PUBLIC_KEY",
		"private_key": "TEST_PRIVATE_KEY",
	}
	adapter := NewHTTPAdapter("test", cfg, nil)

	out, err := adapter.Execute(context.Background(), "op", Request{Method: "GET", Path: "/projects"})
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if !out.Success {
		t.Fatalf("digest handshake failed: %+v", out)
	}
	if calls != 2 {
		t.Errorf("server saw %d calls, want 2 (challenge + retry)", calls)
	}
}

func TestCLIAdapterMissingTool(t *testing.T) {
	adapter := NewCLIAdapter(nil)
	out, err := adapter.Execute(context.Background(), "op", Request{Type: "cli"})
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if out.Success {
		t.Fatal("missing tool should not succeed")
	}
	if out.Class != FailureValidation {
		t.Errorf("class = %q, want validation", out.Class)
	}
}
