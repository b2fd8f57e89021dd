package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lexdraft/complaint-cli/credstore"
	"github.com/lexdraft/complaint-cli/tui"
)

var configEnvKeys = []string{"SERVER_URL", "API_BASE_URL", "TOKEN_FILE", "STATE_FILE", "LOG_LEVEL"}

// clearConfigEnv unsets every config variable for the duration of the test.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, args, err := loadConfig(nil, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	want := Config{
		ServerURL: "http://localhost:8080",
		APIBase:   "/api",
		TokenFile: ".complaint-session.json",
		StateFile: ".complaint-state.json",
		LogLevel:  "warn",
	}
	if cfg != want {
		t.Errorf("loadConfig() = %+v, want %+v", cfg, want)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SERVER_URL", "https://env.example.com")
	t.Setenv("TOKEN_FILE", "/tmp/env-session.json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, args, err := loadConfig([]string{
		"-server-url", "https://flag.example.com",
		"-api-base", "/v2",
		"get", "/complaints",
	}, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.ServerURL != "https://flag.example.com" {
		t.Errorf("ServerURL = %q, flag should win over env", cfg.ServerURL)
	}
	if cfg.APIBase != "/v2" {
		t.Errorf("APIBase = %q, want /v2", cfg.APIBase)
	}
	if cfg.TokenFile != "/tmp/env-session.json" {
		t.Errorf("TokenFile = %q, env should win over default", cfg.TokenFile)
	}
	if cfg.StateFile != ".complaint-state.json" {
		t.Errorf("StateFile = %q, want default", cfg.StateFile)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if strings.Join(args, " ") != "get /complaints" {
		t.Errorf("args = %v, want [get /complaints]", args)
	}
}

func TestLoadConfig_InvalidServerURL(t *testing.T) {
	clearConfigEnv(t)

	if _, _, err := loadConfig([]string{"-server-url", "ftp://example.com"}, io.Discard); err == nil {
		t.Error("loadConfig() expected error for ftp scheme")
	}
	if _, _, err := loadConfig([]string{"-h"}, io.Discard); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("loadConfig(-h) error = %v, want flag.ErrHelp", err)
	}
}

func TestValidateServerURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://complaints.example.com", false},
		{"http with port", "http://localhost:8080", false},
		{"empty", "", true},
		{"no scheme", "localhost:8080", true},
		{"no host", "http://", true},
		{"bad scheme", "ws://example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateServerURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateServerURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestResolveBaseURL(t *testing.T) {
	tests := []struct {
		server string
		base   string
		want   string
	}{
		{"http://localhost:8080", "/api", "http://localhost:8080/api"},
		{"http://localhost:8080/", "api/", "http://localhost:8080/api"},
		{"https://example.com/portal", "/api", "https://example.com/portal/api"},
		{"https://example.com", "", "https://example.com"},
		{"https://example.com", "https://api.example.com/v1/", "https://api.example.com/v1"},
	}

	for _, tt := range tests {
		got, err := resolveBaseURL(tt.server, tt.base)
		if err != nil {
			t.Errorf("resolveBaseURL(%q, %q) error = %v", tt.server, tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("resolveBaseURL(%q, %q) = %q, want %q", tt.server, tt.base, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "info")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "key=value") {
		t.Errorf("unexpected log output: %q", out)
	}

	if _, err := newLogger(&buf, "loud"); err == nil {
		t.Error("newLogger() expected error for unknown level")
	}
}

// fakeAPI is a minimal complaint backend.
type fakeAPI struct {
	mu      sync.Mutex
	access  string
	refresh string
	revoked bool

	refreshCalls atomic.Int32
}

func (f *fakeAPI) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+f.access
}

// expireAccess makes the issued access token invalid.
func (f *fakeAPI) expireAccess(revokeRefresh bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access = "rotated-" + f.access
	f.revoked = revokeRefresh
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()

	writeTokens := func(w http.ResponseWriter, access, refresh string) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": refresh,
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}

	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Email != "ada@example.com" || body.Password != "secret" {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.access, f.refresh, f.revoked = "access-1", "refresh-1", false
		f.mu.Unlock()
		writeTokens(w, "access-1", "refresh-1")
	})

	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    11,
			"email": body["email"],
			"name":  body["name"],
		})
	})

	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.revoked || body.RefreshToken != f.refresh {
			http.Error(w, `{"error":"refresh token revoked"}`, http.StatusUnauthorized)
			return
		}
		f.access, f.refresh = "access-2", "refresh-2"
		writeTokens(w, f.access, f.refresh)
	})

	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":7,"email":"ada@example.com","name":"Ada","address":null,"phone_number":null}`)
	})

	mux.HandleFunc("GET /api/complaints/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.PathValue("id") == "missing" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"`+r.PathValue("id")+`"}`)
	})

	return mux
}

type testEnv struct {
	api *fakeAPI
	cfg Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	return &testEnv{
		api: api,
		cfg: Config{
			ServerURL: srv.URL,
			APIBase:   "/api",
			TokenFile: filepath.Join(dir, "session.json"),
			StateFile: filepath.Join(dir, "state.json"),
			LogLevel:  "error",
		},
	}
}

// runCommand builds a fresh app, as a new process would, and runs args.
func (e *testEnv) runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	a, err := newApp(e.cfg, tui.NoopDisplayer{}, strings.NewReader(stdin), &out, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	err = a.run(context.Background(), args)
	return out.String(), err
}

func TestCommands_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.runCommand(t, "", "login", "-email", "ada@example.com", "-password", "wrong"); err == nil {
		t.Fatal("login with a bad password should fail")
	}

	if _, err := env.runCommand(t, "secret\n", "login", "-email", "ada@example.com"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	out, err := env.runCommand(t, "", "whoami")
	if err != nil {
		t.Fatalf("whoami error = %v", err)
	}
	if !strings.Contains(out, `"email": "ada@example.com"`) {
		t.Errorf("whoami output = %q", out)
	}

	out, err = env.runCommand(t, "", "get", "/complaints/1", "/complaints/2", "/complaints/3")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	if want := "{\"id\":\"1\"}\n{\"id\":\"2\"}\n{\"id\":\"3\"}\n"; out != want {
		t.Errorf("get output = %q, want %q", out, want)
	}

	if _, err := env.runCommand(t, "", "logout"); err != nil {
		t.Fatalf("logout error = %v", err)
	}

	store := credstore.NewFileStore(env.cfg.TokenFile, env.cfg.ServerURL+"/api", nil)
	if _, ok := store.Get(credstore.AccessTokenName); ok {
		t.Error("access token still stored after logout")
	}

	if _, err := env.runCommand(t, "", "status"); err != nil {
		t.Errorf("status as guest error = %v", err)
	}
}

func TestCommands_GetRefreshesExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.runCommand(t, "", "login", "-email", "ada@example.com", "-password", "secret"); err != nil {
		t.Fatalf("login error = %v", err)
	}
	env.api.expireAccess(false)

	out, err := env.runCommand(t, "", "get", "/complaints/1", "/complaints/2")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	if !strings.Contains(out, `"1"`) || !strings.Contains(out, `"2"`) {
		t.Errorf("get output = %q", out)
	}
	if n := env.api.refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}

	store := credstore.NewFileStore(env.cfg.TokenFile, env.cfg.ServerURL+"/api", nil)
	if got, _ := store.Get(credstore.RefreshTokenName); got != "refresh-2" {
		t.Errorf("stored refresh token = %q, want refresh-2", got)
	}
}

func TestCommands_RevokedSessionExpires(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.runCommand(t, "", "login", "-email", "ada@example.com", "-password", "secret"); err != nil {
		t.Fatalf("login error = %v", err)
	}
	env.api.expireAccess(true)

	_, err := env.runCommand(t, "", "get", "/complaints/1")
	if !errors.Is(err, errSessionExpired) {
		t.Fatalf("get error = %v, want errSessionExpired", err)
	}

	store := credstore.NewFileStore(env.cfg.TokenFile, env.cfg.ServerURL+"/api", nil)
	if _, ok := store.Get(credstore.AccessTokenName); ok {
		t.Error("credentials should be cleared after a failed refresh")
	}
}

func TestCommands_GetWritesOutputFile(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.runCommand(t, "", "login", "-email", "ada@example.com", "-password", "secret"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "out.json")
	out, err := env.runCommand(t, "", "get", "-o", path, "/complaints/9")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	if out != "" {
		t.Errorf("stdout = %q, want empty", out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "{\"id\":\"9\"}\n" {
		t.Errorf("output file = %q", data)
	}
}

func TestCommands_GetReportsHTTPErrors(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.runCommand(t, "", "login", "-email", "ada@example.com", "-password", "secret"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	_, err := env.runCommand(t, "", "get", "/complaints/missing")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("get error = %v, want a 404", err)
	}
}

func TestCommands_Register(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.runCommand(t, "", "register", "-email", "grace@example.com"); err == nil {
		t.Error("register without -name should fail")
	}
	if _, err := env.runCommand(t, "hunter2\n", "register", "-email", "grace@example.com", "-name", "Grace"); err != nil {
		t.Errorf("register error = %v", err)
	}
}

func TestCommands_Unknown(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.runCommand(t, "", "frobnicate"); err == nil {
		t.Error("unknown command should fail")
	}
}
