package authclient

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/lexdraft/complaint-cli/credstore"
)

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// RequestStage transforms an outgoing request. Stages run in order on a
// private clone of the caller's request, so they may modify it in place.
// A stage must not block or perform network I/O.
type RequestStage func(req *http.Request) *http.Request

// InjectAuthHeader sets the stored access credential as a bearer
// Authorization header, replacing any header already present. Requests go
// out unchanged when no credential is stored.
func InjectAuthHeader(store credstore.Store) RequestStage {
	return func(req *http.Request) *http.Request {
		token, ok := store.Get(credstore.AccessTokenName)
		if !ok {
			return req
		}
		(&oauth2.Token{AccessToken: token}).SetAuthHeader(req)
		return req
	}
}

// TagRequestID adds an X-Request-ID unless the request already has one.
// Replays keep the id of the request they repeat.
func TagRequestID() RequestStage {
	return func(req *http.Request) *http.Request {
		if req.Header.Get(RequestIDHeader) == "" {
			req.Header.Set(RequestIDHeader, uuid.NewString())
		}
		return req
	}
}

// bearerToken returns the token an outgoing request was authorized with.
func bearerToken(req *http.Request) string {
	h := req.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return h[7:]
}

type retriedKey struct{}

// MarkRetried returns a shallow copy of req carrying the retry marker.
// A marked request that receives another 401 is not refreshed again.
func MarkRetried(req *http.Request) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), retriedKey{}, true))
}

// IsRetried reports whether req carries the retry marker.
func IsRetried(req *http.Request) bool {
	v, _ := req.Context().Value(retriedKey{}).(bool)
	return v
}
