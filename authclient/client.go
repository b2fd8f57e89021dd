// Package authclient is the authenticated HTTP client for the complaint
// backend. Every request passes through a fixed pipeline:
//
//	request stages (request id, bearer header) -> transport -> coordinator
//
// The coordinator turns access-token expiry into a single refresh call and
// replays the requests that were rejected while it ran.
package authclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"

	"github.com/lexdraft/complaint-cli/credstore"
	"github.com/lexdraft/complaint-cli/identity"
)

// Backend paths, relative to the API base URL.
const (
	LoginPath    = "/auth/login"
	MePath       = "/auth/me"
	RefreshPath  = "/auth/refresh"
	RegisterPath = "/auth/register"
)

// Timeouts for the two transports.
const (
	requestTimeout = 30 * time.Second
	refreshTimeout = 10 * time.Second
)

// Doer executes one HTTP exchange. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// retryDoer adapts the go-httpretry client to Doer.
type retryDoer struct {
	client *retry.Client
}

func (d retryDoer) Do(req *http.Request) (*http.Response, error) {
	return d.client.DoWithContext(req.Context(), req)
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	// Transport carries application requests. Defaults to a retrying client
	// that retries network errors and 5xx responses.
	Transport Doer
	// RefreshTransport carries the refresh call only. It must not route
	// back through this Client. Defaults to a plain client without retries.
	RefreshTransport Doer
	// Navigator receives the login redirect after a failed refresh.
	Navigator Navigator
	// Events observes refresh start, success and failure.
	Events Events
	Logger *slog.Logger
}

// Client is the authenticated HTTP client. It is safe for concurrent use;
// create one per API base URL and share it.
type Client struct {
	baseURL   *url.URL
	store     credstore.Store
	users     *identity.Store
	transport Doer
	bare      Doer
	stages    []RequestStage
	coord     *Coordinator
	logger    *slog.Logger
}

// New returns a Client for the API rooted at baseURL.
func New(baseURL string, store credstore.Store, users *identity.Store, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL must include a host")
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if users == nil {
		users = identity.NewStore(nil, opts.Logger)
	}
	if opts.Events == nil {
		opts.Events = NoopEvents{}
	}
	if opts.Navigator == nil {
		opts.Navigator = NavigatorFunc(func(string) {})
	}
	if opts.Transport == nil {
		rc, err := retry.NewClient(
			retry.WithHTTPClient(newHTTPClient(requestTimeout)),
			retry.WithLogger(opts.Logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create retry client: %w", err)
		}
		opts.Transport = retryDoer{client: rc}
	}
	if opts.RefreshTransport == nil {
		opts.RefreshTransport = newHTTPClient(refreshTimeout)
	}

	c := &Client{
		baseURL:   u,
		store:     store,
		users:     users,
		transport: opts.Transport,
		bare:      opts.RefreshTransport,
		stages:    []RequestStage{TagRequestID(), InjectAuthHeader(store)},
		logger:    opts.Logger,
	}

	refreshURL := c.url(RefreshPath)
	c.coord = &Coordinator{
		store:   store,
		refresh: c.refreshTokens,
		isRefreshEndpoint: func(req *http.Request) bool {
			return req.URL.Host == refreshURL.Host &&
				strings.TrimSuffix(req.URL.Path, "/") == refreshURL.Path
		},
		onExpired: users.Clear,
		navigator: opts.Navigator,
		events:    opts.Events,
		logger:    opts.Logger,
	}

	return c, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Coordinator exposes the refresh coordinator, mainly for inspection.
func (c *Client) Coordinator() *Coordinator {
	return c.coord
}

// url resolves an API path against the base URL.
func (c *Client) url(path string) *url.URL {
	u := *c.baseURL
	p, query, _ := strings.Cut(path, "?")
	u.Path = u.Path + "/" + strings.TrimPrefix(p, "/")
	u.RawQuery = query
	return &u
}

// NewRequest builds a request for an API path such as "/complaints/12".
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path).String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return req, nil
}

// Do sends req through the authenticated pipeline. Responses other than
// 401 are returned as-is, whatever their status. A 401 is recovered
// through the coordinator; when recovery is impossible Do returns a
// *StatusError or *RefreshError and a nil response.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	req, err := rewindable(req)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	for _, stage := range c.stages {
		out = stage(out)
	}

	resp, err := c.transport.Do(out)
	if err != nil {
		return nil, err
	}
	return c.coord.handle(out, resp, c.replay)
}

// replay re-sends req with a fresh copy of its body.
func (c *Client) replay(req *http.Request) (*http.Response, error) {
	next := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		next.Body = body
	}
	return c.send(next)
}

// rewindable returns a copy of req whose body can be replayed.
func rewindable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	out.ContentLength = int64(len(data))
	return out, nil
}
