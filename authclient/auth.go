package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lexdraft/complaint-cli/credstore"
	"github.com/lexdraft/complaint-cli/identity"
)

// RegisterRequest is the body of /auth/register.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	Address     string `json:"address,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// Login exchanges email and password for a credential pair, persists it and
// publishes the user's identity. A 401 here means bad credentials, so the
// call bypasses the refresh coordinator.
func (c *Client) Login(ctx context.Context, email, password string) (identity.User, error) {
	body, err := c.postPublic(ctx, LoginPath, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return identity.User{}, fmt.Errorf("login failed: %w", err)
	}

	tok, err := parseTokenResponse(body)
	if err != nil {
		return identity.User{}, fmt.Errorf("login failed: %w", err)
	}
	if err := c.store.Save(tok); err != nil {
		return identity.User{}, fmt.Errorf("failed to save credentials: %w", err)
	}

	u, err := c.Me(ctx)
	if err != nil {
		c.users.Clear()
		return identity.User{}, fmt.Errorf("failed to load profile after login: %w", err)
	}
	c.users.Set(u)
	return u, nil
}

// Register creates an account and returns its profile. It does not sign in.
func (c *Client) Register(ctx context.Context, r RegisterRequest) (identity.User, error) {
	body, err := c.postPublic(ctx, RegisterPath, r)
	if err != nil {
		return identity.User{}, fmt.Errorf("registration failed: %w", err)
	}
	return decodeProfile(body)
}

// Me fetches the signed-in user's profile through the authenticated pipeline.
func (c *Client) Me(ctx context.Context) (identity.User, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, MePath, nil)
	if err != nil {
		return identity.User{}, err
	}

	resp, err := c.Do(req)
	if err != nil {
		return identity.User{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return identity.User{}, newStatusError(req, resp)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return identity.User{}, fmt.Errorf("failed to read response: %w", err)
	}
	return decodeProfile(body)
}

// Logout ends the session locally: credentials, identity and any queued
// refresh waiters are dropped.
func (c *Client) Logout() {
	c.coord.Reset()
	c.store.Clear()
	c.users.Clear()
}

// Bootstrap validates the persisted session and reconciles the identity
// store. It performs the profile call every time it runs. On any failure
// the identity is cleared and the error returned for display; stored
// credentials are left to the coordinator and Logout.
func (c *Client) Bootstrap(ctx context.Context) (identity.User, error) {
	// requests read the store directly, so there is no cached header to restore
	_, found := c.store.Get(credstore.AccessTokenName)
	c.logger.Debug("restoring session", "credential_present", found)

	u, err := c.Me(ctx)
	if err != nil {
		c.users.Clear()
		return identity.User{}, fmt.Errorf("session bootstrap: %w", err)
	}

	c.users.Set(u)
	return u, nil
}

// postPublic sends a JSON POST on the retrying transport without the bearer
// header or refresh handling and returns the 2xx body.
func (c *Client) postPublic(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := c.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req = TagRequestID()(req)

	resp, err := c.transport.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(req, resp)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func decodeProfile(body []byte) (identity.User, error) {
	var p identity.Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return identity.User{}, fmt.Errorf("%w: %v", identity.ErrMalformedProfile, err)
	}
	return p.User()
}
