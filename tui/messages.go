package tui

import (
	"time"

	"github.com/lexdraft/complaint-cli/identity"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgRestoring signals that the persisted session is being validated.
type MsgRestoring struct{}

// MsgSessionRestored signals that the stored session is valid.
type MsgSessionRestored struct{ User identity.User }

// MsgGuest signals that there is no usable session.
type MsgGuest struct{ Err error }

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgSessionExpired signals that the session ended and the user was sent
// to the login route.
type MsgSessionExpired struct{ Route string }

// MsgSignedIn signals a successful login.
type MsgSignedIn struct{ User identity.User }

// MsgRegistered signals that an account was created.
type MsgRegistered struct{ User identity.User }

// MsgSignedOut signals that local credentials were cleared.
type MsgSignedOut struct{}

// MsgRequesting signals that an API call started.
type MsgRequesting struct{ Path string }

// MsgResponse signals that an API call completed.
type MsgResponse struct {
	Path       string
	StatusCode int
}

// MsgDone signals successful completion of the command.
type MsgDone struct{ Summary Summary }

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }

// Summary is the final session state shown when a command finishes.
type Summary struct {
	User *identity.User
	// ExpiresAt is the access token expiry, zero when unknown.
	ExpiresAt time.Time
}
