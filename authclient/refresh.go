package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// tokenResponse is the body of /auth/login and /auth/refresh.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// parseTokenResponse validates a token body and converts it to an oauth2.Token.
func parseTokenResponse(body []byte) (*oauth2.Token, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenResponse, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: access_token is empty", ErrInvalidTokenResponse)
	}
	if tr.TokenType != "" && tr.TokenType != "Bearer" && tr.TokenType != "bearer" {
		return nil, fmt.Errorf("%w: unexpected token_type %q", ErrInvalidTokenResponse, tr.TokenType)
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    "Bearer",
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// refreshTokens calls the refresh endpoint on the bare transport. It never
// goes through the request stages or the coordinator, and it is never
// retried: any failure ends the session.
func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.url(RefreshPath).String(),
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.bare.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrRefreshTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &oauth2.RetrieveError{Response: resp, Body: body}
	}

	return parseTokenResponse(body)
}
