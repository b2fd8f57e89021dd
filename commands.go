package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lexdraft/complaint-cli/authclient"
	"github.com/lexdraft/complaint-cli/credstore"
	"github.com/lexdraft/complaint-cli/identity"
	"github.com/lexdraft/complaint-cli/tui"
)

// maxParallelGets bounds concurrent requests issued by the get command.
const maxParallelGets = 4

// errSessionExpired is returned when a command ended the session because
// the refresh failed.
var errSessionExpired = errors.New("session expired, run `complaint login` to sign in again")

// app wires the client, its stores and the display for one invocation.
type app struct {
	client *authclient.Client
	creds  *credstore.FileStore
	users  *identity.Store
	d      tui.Displayer
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	expired atomic.Bool
}

func newApp(cfg Config, d tui.Displayer, in io.Reader, out io.Writer, logger *slog.Logger) (*app, error) {
	baseURL, err := resolveBaseURL(cfg.ServerURL, cfg.APIBase)
	if err != nil {
		return nil, err
	}

	a := &app{
		creds:  credstore.NewFileStore(cfg.TokenFile, baseURL, logger),
		users:  identity.NewStore(identity.NewFileMirror(cfg.StateFile), logger),
		d:      d,
		in:     in,
		out:    out,
		logger: logger,
	}

	a.client, err = authclient.New(baseURL, a.creds, a.users, authclient.Options{
		Navigator: authclient.NavigatorFunc(func(route string) {
			a.expired.Store(true)
			d.Navigate(route)
		}),
		Events: d,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// run dispatches a command. An empty args runs status.
func (a *app) run(ctx context.Context, args []string) error {
	cmd := "status"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "status":
		err = a.status(ctx)
	case "login":
		err = a.login(ctx, args)
	case "register":
		err = a.register(ctx, args)
	case "logout":
		err = a.logout()
	case "whoami":
		err = a.whoami(ctx)
	case "get":
		err = a.get(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	// status reports a guest instead of failing
	if a.expired.Load() && cmd != "status" {
		return errSessionExpired
	}
	if err != nil {
		return err
	}

	a.d.Done(a.summary())
	return nil
}

// status validates the persisted session.
func (a *app) status(ctx context.Context) error {
	a.d.Restoring()
	u, err := a.client.Bootstrap(ctx)
	if err != nil {
		a.logger.Debug("bootstrap failed", "error", err)
		a.d.Guest(guestReason(err))
		return nil
	}
	a.d.SessionRestored(u)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "Account email (required)")
	password := fs.String("password", "", "Account password (read from stdin when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("login: -email is required")
	}

	pw, err := a.secret(*password)
	if err != nil {
		return err
	}

	u, err := a.client.Login(ctx, *email, pw)
	if err != nil {
		return err
	}
	a.d.SignedIn(u)
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var req authclient.RegisterRequest
	fs.StringVar(&req.Email, "email", "", "Account email (required)")
	fs.StringVar(&req.Password, "password", "", "Account password (read from stdin when empty)")
	fs.StringVar(&req.Name, "name", "", "Full name (required)")
	fs.StringVar(&req.Address, "address", "", "Postal address")
	fs.StringVar(&req.PhoneNumber, "phone", "", "Phone number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if req.Email == "" || req.Name == "" {
		return errors.New("register: -email and -name are required")
	}

	pw, err := a.secret(req.Password)
	if err != nil {
		return err
	}
	req.Password = pw

	u, err := a.client.Register(ctx, req)
	if err != nil {
		return err
	}
	a.d.Registered(u)
	return nil
}

func (a *app) logout() error {
	a.client.Logout()
	a.d.SignedOut()
	return nil
}

// whoami prints the current profile as JSON on stdout.
func (a *app) whoami(ctx context.Context) error {
	u, err := a.client.Me(ctx)
	if err != nil {
		return err
	}
	a.users.Set(u)

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(u)
}

// get fetches every path concurrently and writes the bodies to stdout, or
// to the -o file, in argument order.
func (a *app) get(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	output := fs.String("o", "", "Write response bodies to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return errors.New("get: at least one path is required")
	}

	bodies := make([][]byte, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelGets)
	for i, path := range paths {
		g.Go(func() error {
			body, err := a.fetch(gctx, path)
			if err != nil {
				return err
			}
			bodies[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w := a.out
	if *output != "" {
		f, err := os.OpenFile(*output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	for _, body := range bodies {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		if len(body) > 0 && body[len(body)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
	return nil
}

func (a *app) fetch(ctx context.Context, path string) ([]byte, error) {
	a.d.Requesting(path)

	req, err := a.client.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	a.d.Response(path, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// secret returns value, or reads one line from stdin when it is empty.
func (a *app) secret(value string) (string, error) {
	if value != "" {
		return value, nil
	}
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

// summary reports the identity and the access token expiry.
func (a *app) summary() tui.Summary {
	var s tui.Summary
	if u, ok := a.users.Current(); ok {
		s.User = &u
	}

	if e, ok := a.creds.Lookup(credstore.AccessTokenName); ok {
		s.ExpiresAt = e.ExpiresAt
		if exp, ok := credstore.AccessTokenExpiry(e.Value); ok && exp.Before(s.ExpiresAt) {
			s.ExpiresAt = exp
		}
	}
	return s
}

// guestReason hides the expected "no session" case from the status output.
func guestReason(err error) error {
	if errors.Is(err, authclient.ErrNoRefreshToken) {
		return nil
	}
	return err
}
