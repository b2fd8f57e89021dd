package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the CLI settings.
// Priority: flag > env > .env file > default.
type Config struct {
	ServerURL string `env:"SERVER_URL"   env-default:"http://localhost:8080"  env-description:"Backend server URL"`
	APIBase   string `env:"API_BASE_URL" env-default:"/api"                   env-description:"API base URL, absolute or relative to SERVER_URL"`
	TokenFile string `env:"TOKEN_FILE"   env-default:".complaint-session.json" env-description:"Credential storage file"`
	StateFile string `env:"STATE_FILE"   env-default:".complaint-state.json"  env-description:"Identity state file"`
	LogLevel  string `env:"LOG_LEVEL"    env-default:"warn"                   env-description:"Log level (debug, info, warn, error)"`
}

// loadConfig reads the environment and then applies any flags found in
// args. It returns the config and the remaining (command) arguments.
func loadConfig(args []string, stderr io.Writer) (Config, []string, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, nil, fmt.Errorf("failed to read environment: %w", err)
	}

	fs := flag.NewFlagSet("complaint", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flagServerURL := fs.String("server-url", "", "Backend server URL (default: http://localhost:8080 or SERVER_URL env)")
	flagAPIBase := fs.String("api-base", "", "API base URL (default: /api or API_BASE_URL env)")
	flagTokenFile := fs.String("token-file", "", "Credential storage file (default: .complaint-session.json or TOKEN_FILE env)")
	flagStateFile := fs.String("state-file", "", "Identity state file (default: .complaint-state.json or STATE_FILE env)")
	flagLogLevel := fs.String("log-level", "", "Log level (default: warn or LOG_LEVEL env)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: complaint [flags] <command> [args]")
		fmt.Fprintln(stderr, "\nCommands: status (default), login, register, logout, whoami, get <path>...")
		fmt.Fprintln(stderr, "\nFlags:")
		fs.PrintDefaults()
		fmt.Fprintln(stderr, "\nEnvironment:")
		help, _ := cleanenv.GetDescription(&Config{}, nil)
		fmt.Fprintln(stderr, help)
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}

	cfg.ServerURL = getConfig(*flagServerURL, cfg.ServerURL)
	cfg.APIBase = getConfig(*flagAPIBase, cfg.APIBase)
	cfg.TokenFile = getConfig(*flagTokenFile, cfg.TokenFile)
	cfg.StateFile = getConfig(*flagStateFile, cfg.StateFile)
	cfg.LogLevel = getConfig(*flagLogLevel, cfg.LogLevel)

	if err := validateServerURL(cfg.ServerURL); err != nil {
		return Config{}, nil, fmt.Errorf("invalid SERVER_URL: %w", err)
	}

	return cfg, fs.Args(), nil
}

// getConfig returns the flag value when set, otherwise the env-derived value.
func getConfig(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return envValue
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// resolveBaseURL resolves the API base against the server URL. An absolute
// API base is used as-is.
func resolveBaseURL(serverURL, apiBase string) (string, error) {
	server, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	base, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("invalid API base URL: %w", err)
	}
	if base.IsAbs() {
		return strings.TrimSuffix(base.String(), "/"), nil
	}

	server.Path = strings.TrimSuffix(server.Path, "/") + "/" + strings.Trim(base.Path, "/")
	server.RawQuery = ""
	server.Fragment = ""
	return strings.TrimSuffix(server.String(), "/"), nil
}

// newLogger returns a text logger on w at the named level.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
