package tui

import (
	"fmt"
	"io"
	"net/http"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/lexdraft/complaint-cli/identity"
)

// Displayer abstracts all output from a CLI command. It also receives the
// client's refresh events and login redirects.
type Displayer interface {
	Banner()
	Restoring()
	SessionRestored(u identity.User)
	Guest(err error)
	RefreshStarted()
	RefreshSucceeded()
	RefreshFailed(err error)
	Navigate(route string)
	SignedIn(u identity.User)
	Registered(u identity.User)
	SignedOut()
	Requesting(path string)
	Response(path string, statusCode int)
	Done(s Summary)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== Complaint Portal CLI ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) Restoring() {
	fmt.Fprintln(p.w, "Restoring session...")
}

func (p *PlainDisplayer) SessionRestored(u identity.User) {
	fmt.Fprintf(p.w, "Signed in as %s\n", displayName(u))
}

func (p *PlainDisplayer) Guest(err error) {
	if err != nil {
		fmt.Fprintf(p.w, "Not signed in: %v\n", err)
		return
	}
	fmt.Fprintln(p.w, "Not signed in")
}

func (p *PlainDisplayer) RefreshStarted() {
	fmt.Fprintln(p.w, "Access token rejected (401), refreshing...")
}

func (p *PlainDisplayer) RefreshSucceeded() {
	fmt.Fprintln(p.w, "Token refreshed successfully!")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) Navigate(route string) {
	fmt.Fprintf(p.w, "Session expired (%s), run `complaint login` to sign in again\n", route)
}

func (p *PlainDisplayer) SignedIn(u identity.User) {
	fmt.Fprintf(p.w, "\nLogin successful! Signed in as %s\n", displayName(u))
}

func (p *PlainDisplayer) Registered(u identity.User) {
	fmt.Fprintf(p.w, "Account created for %s (id %s)\n", u.Email, u.ID)
}

func (p *PlainDisplayer) SignedOut() {
	fmt.Fprintln(p.w, "Signed out, local credentials removed")
}

func (p *PlainDisplayer) Requesting(path string) {
	fmt.Fprintf(p.w, "GET %s...\n", path)
}

func (p *PlainDisplayer) Response(path string, statusCode int) {
	fmt.Fprintf(p.w, "GET %s: %d %s\n", path, statusCode, http.StatusText(statusCode))
}

func (p *PlainDisplayer) Done(s Summary) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintln(p.w, "Session Info:")
	if s.User == nil {
		fmt.Fprintln(p.w, "User: (guest)")
	} else {
		fmt.Fprintf(p.w, "User: %s\n", displayName(*s.User))
		fmt.Fprintf(p.w, "ID: %s\n", s.User.ID)
	}
	if !s.ExpiresAt.IsZero() {
		fmt.Fprintf(p.w, "Token Expires In: %s\n", time.Until(s.ExpiresAt).Round(time.Second))
	}
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                         {}
func (NoopDisplayer) Restoring()                      {}
func (NoopDisplayer) SessionRestored(_ identity.User) {}
func (NoopDisplayer) Guest(_ error)                   {}
func (NoopDisplayer) RefreshStarted()                 {}
func (NoopDisplayer) RefreshSucceeded()               {}
func (NoopDisplayer) RefreshFailed(_ error)           {}
func (NoopDisplayer) Navigate(_ string)               {}
func (NoopDisplayer) SignedIn(_ identity.User)        {}
func (NoopDisplayer) Registered(_ identity.User)      {}
func (NoopDisplayer) SignedOut()                      {}
func (NoopDisplayer) Requesting(_ string)             {}
func (NoopDisplayer) Response(_ string, _ int)        {}
func (NoopDisplayer) Done(_ Summary)                  {}
func (NoopDisplayer) Fatal(_ error)                   {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) Restoring() {
	t.p.Send(MsgRestoring{})
}

func (t *ProgramDisplayer) SessionRestored(u identity.User) {
	t.p.Send(MsgSessionRestored{User: u})
}

func (t *ProgramDisplayer) Guest(err error) {
	t.p.Send(MsgGuest{Err: err})
}

func (t *ProgramDisplayer) RefreshStarted() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshSucceeded() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) Navigate(route string) {
	t.p.Send(MsgSessionExpired{Route: route})
}

func (t *ProgramDisplayer) SignedIn(u identity.User) {
	t.p.Send(MsgSignedIn{User: u})
}

func (t *ProgramDisplayer) Registered(u identity.User) {
	t.p.Send(MsgRegistered{User: u})
}

func (t *ProgramDisplayer) SignedOut() {
	t.p.Send(MsgSignedOut{})
}

func (t *ProgramDisplayer) Requesting(path string) {
	t.p.Send(MsgRequesting{Path: path})
}

func (t *ProgramDisplayer) Response(path string, statusCode int) {
	t.p.Send(MsgResponse{Path: path, StatusCode: statusCode})
}

func (t *ProgramDisplayer) Done(s Summary) {
	t.p.Send(MsgDone{Summary: s})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}

func displayName(u identity.User) string {
	if u.Name == "" {
		return u.Email
	}
	return fmt.Sprintf("%s <%s>", u.Name, u.Email)
}
