package authclient

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/lexdraft/complaint-cli/credstore"
)

// LoginRoute is where the navigator is sent when the session cannot be
// recovered.
const LoginRoute = "/login"

// Navigator receives the redirect issued after an unrecoverable refresh failure.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) { f(route) }

// Events observes the refresh lifecycle.
type Events interface {
	RefreshStarted()
	RefreshSucceeded()
	RefreshFailed(err error)
}

// NoopEvents ignores every event.
type NoopEvents struct{}

func (NoopEvents) RefreshStarted()       {}
func (NoopEvents) RefreshSucceeded()     {}
func (NoopEvents) RefreshFailed(_ error) {}

// refreshFunc exchanges a refresh token for a new credential pair.
type refreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// replayFunc re-issues a request through the full pipeline.
type replayFunc func(req *http.Request) (*http.Response, error)

// waiter is one caller suspended behind an in-flight refresh.
type waiter struct {
	outcome chan bool
	resumed chan struct{}
	once    sync.Once
}

// wait blocks until the refresh outcome arrives or ctx is done. The caller
// must call resume afterwards, whichever way wait returned.
func (w *waiter) wait(ctx context.Context) (bool, error) {
	select {
	case ok := <-w.outcome:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// resume hands the turn to the next waiter in the queue.
func (w *waiter) resume() {
	w.once.Do(func() { close(w.resumed) })
}

// pendingQueue holds callers suspended behind an in-flight refresh.
// It is only touched with Coordinator.mu held.
type pendingQueue struct {
	waiters []*waiter
}

// push appends a waiter to the back of the queue.
func (q *pendingQueue) push() *waiter {
	w := &waiter{outcome: make(chan bool, 1), resumed: make(chan struct{})}
	q.waiters = append(q.waiters, w)
	return w
}

// take empties the queue and returns its waiters in insertion order.
func (q *pendingQueue) take() []*waiter {
	ws := q.waiters
	q.waiters = nil
	return ws
}

func (q *pendingQueue) len() int {
	return len(q.waiters)
}

// release signals each waiter with ok in order. A waiter is signalled only
// after the previous one has resumed. It must be called without
// Coordinator.mu held.
func release(ws []*waiter, ok bool) {
	for _, w := range ws {
		w.outcome <- ok
		<-w.resumed
	}
}

// Coordinator recovers from access-token expiry. Any number of concurrent
// 401s produce a single refresh call; the first caller runs it while the
// others wait in a FIFO queue and are replayed once it succeeds.
type Coordinator struct {
	mu         sync.Mutex
	refreshing bool
	queue      pendingQueue
	generation uint64

	// access token a failed refresh gave up on; 401s carrying it fail fast
	abandoned    string
	hasAbandoned bool

	store             credstore.Store
	refresh           refreshFunc
	isRefreshEndpoint func(*http.Request) bool
	onExpired         func()
	navigator         Navigator
	events            Events
	logger            *slog.Logger
}

// Refreshing reports whether a refresh call is in flight.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// Queued reports how many callers are waiting for the in-flight refresh.
func (c *Coordinator) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// Reset discards waiting callers and invalidates any refresh in flight so
// its result is dropped instead of persisted. The Refreshing state is left
// to the in-flight refresh, which clears it when it returns.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.generation++
	c.hasAbandoned = false
	c.abandoned = ""
	ws := c.queue.take()
	c.mu.Unlock()

	if len(ws) > 0 {
		c.logger.Debug("discarded queued requests on reset", "count", len(ws))
	}
	release(ws, false)
}

// handle is the response stage. Non-401 responses pass through untouched;
// a 401 is turned into a refresh, a queued replay or a terminal error.
func (c *Coordinator) handle(req *http.Request, resp *http.Response, replay replayFunc) (*http.Response, error) {
	if resp.StatusCode != http.StatusUnauthorized || c.isRefreshEndpoint(req) {
		return resp, nil
	}

	unauthorized := newStatusError(req, resp)
	if unauthorized.Retried {
		return nil, unauthorized
	}

	sent := bearerToken(req)

	c.mu.Lock()
	if c.refreshing {
		w := c.queue.push()
		c.mu.Unlock()

		ok, err := w.wait(req.Context())
		if err != nil {
			w.resume()
			return nil, err
		}
		if !ok {
			w.resume()
			return nil, unauthorized
		}
		next := MarkRetried(req)
		w.resume()
		return replay(next)
	}

	// a refresh finished after this request went out; the new credential is
	// already stored
	if current, ok := c.store.Get(credstore.AccessTokenName); ok && current != sent {
		c.mu.Unlock()
		return replay(MarkRetried(req))
	}

	// the session already ended for this credential
	if c.hasAbandoned && sent == c.abandoned {
		c.mu.Unlock()
		return nil, unauthorized
	}

	c.refreshing = true
	gen := c.generation
	c.mu.Unlock()

	c.logger.Debug("access token rejected, refreshing", "method", req.Method, "url", req.URL.Redacted())
	c.events.RefreshStarted()

	// the refresh outlives the caller that happened to trigger it
	tok, err := c.runRefresh(context.WithoutCancel(req.Context()))

	c.mu.Lock()
	if gen != c.generation {
		stale := c.queue.take()
		c.refreshing = false
		c.mu.Unlock()

		release(stale, false)
		return nil, &RefreshError{Original: unauthorized, Cause: ErrSessionReset}
	}

	if err == nil {
		err = c.store.Save(tok)
	}

	if err != nil {
		discarded := c.queue.take()
		c.store.Clear()
		c.abandoned = sent
		c.hasAbandoned = true
		c.refreshing = false
		c.mu.Unlock()

		release(discarded, false)
		c.logger.Warn("session refresh failed", "error", err, "discarded", len(discarded))
		c.onExpired()
		c.events.RefreshFailed(err)
		c.navigator.Navigate(LoginRoute)
		return nil, &RefreshError{Original: unauthorized, Cause: err}
	}

	waiting := c.queue.take()
	c.hasAbandoned = false
	c.abandoned = ""
	c.refreshing = false
	c.mu.Unlock()

	c.logger.Debug("session refreshed", "replaying", len(waiting)+1)
	release(waiting, true)
	c.events.RefreshSucceeded()
	return replay(MarkRetried(req))
}

// runRefresh reads the refresh token at call time and exchanges it.
func (c *Coordinator) runRefresh(ctx context.Context) (*oauth2.Token, error) {
	refreshToken, ok := c.store.Get(credstore.RefreshTokenName)
	if !ok {
		return nil, ErrNoRefreshToken
	}
	return c.refresh(ctx, refreshToken)
}
