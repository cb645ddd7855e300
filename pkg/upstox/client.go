// Package upstox is a minimal client for the Upstox trading API covering what
// the pipeline needs: OAuth token exchange, market-feed authorization and the
// websocket market-data feed.
package upstox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

const DefaultBaseURL = "https://api.upstox.com"

// Client is an authenticated Upstox REST client.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a client with an existing access token.
func NewClient(accessToken string) *Client {
	return &Client{
		baseURL:     DefaultBaseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBaseURL overrides the API host, used by tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

// TOTPCode computes the current time-based one-time password for the broker
// login flow.
func TOTPCode(secret string) (string, error) {
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		return "", fmt.Errorf("upstox: totp: %w", err)
	}
	return code, nil
}

// ExchangeCode swaps an OAuth authorization code for an access token and
// stores it on the client.
func (c *Client) ExchangeCode(ctx context.Context, apiKey, apiSecret, redirectURI, code string) (string, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", apiKey)
	form.Set("client_secret", apiSecret)
	form.Set("redirect_uri", redirectURI)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/login/authorization/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstox: token exchange: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upstox: token exchange status %d: %s", resp.StatusCode, raw)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("upstox: token exchange response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("upstox: token exchange returned no access token")
	}
	c.accessToken = body.AccessToken
	return body.AccessToken, nil
}

// AuthorizeFeed asks the API for a one-shot authorized websocket URI for the
// market-data feed.
func (c *Client) AuthorizeFeed(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v3/feed/market-data-feed/authorize", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstox: feed authorize: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upstox: feed authorize status %d: %s", resp.StatusCode, raw)
	}

	var body struct {
		Status string `json:"status"`
		Data   struct {
			AuthorizedRedirectURI string `json:"authorizedRedirectUri"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("upstox: feed authorize response: %w", err)
	}
	if body.Status != "success" || body.Data.AuthorizedRedirectURI == "" {
		return "", fmt.Errorf("upstox: feed authorize rejected: %s", raw)
	}
	return body.Data.AuthorizedRedirectURI, nil
}
