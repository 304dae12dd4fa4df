package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"pkt.systems/pslog"

	"github.com/parking-reservation/backend/internal/auth"
)

func TestHealthURL(t *testing.T) {
	cases := map[string]string{
		":8080":          "http://localhost:8080/api/health",
		"0.0.0.0:9000":   "http://localhost:9000/api/health",
		"[::]:9000":      "http://localhost:9000/api/health",
		"10.1.2.3:8080":  "http://10.1.2.3:8080/api/health",
		"parkd.internal": "http://parkd.internal/api/health",
	}
	for addr, want := range cases {
		if got := healthURL(addr); got != want {
			t.Errorf("healthURL(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestRunHealthCheck(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	if err := runHealthCheck(context.Background(), addr); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	status.Store(http.StatusServiceUnavailable)
	if err := runHealthCheck(context.Background(), addr); err == nil {
		t.Fatal("expected error for degraded server")
	}
}

func TestTokenCommand(t *testing.T) {
	cmd := newRootCommand(pslog.NoopLogger())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--jwt-secret", "s3cret", "--id", "admin", "--role", "admin"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("token command: %v", err)
	}

	id, err := auth.NewTokenVerifier("s3cret").Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("verify minted token: %v", err)
	}
	if id.ID != "admin" || id.Role != auth.RoleAdmin {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestServeRejectsMissingSecret(t *testing.T) {
	t.Setenv("PARKD_JWT_SECRET", "")
	cmd := newRootCommand(pslog.NoopLogger())
	cmd.SetArgs([]string{"serve", "--data-dir", t.TempDir()})
	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "jwt-secret") {
		t.Fatalf("expected jwt-secret error, got %v", err)
	}
}
