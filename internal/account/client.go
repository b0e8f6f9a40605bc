// Package account talks to the server's account API and keeps local
// subscriptions in line with the signed-in account.
package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"

	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
	"notify-sync-client/internal/topic"
)

// TokenSource returns the current session token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is an account API client for one server.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	cache   *cache.Cache
}

// NewClient creates a client. Account reads are cached for cacheTTL.
func NewClient(baseURL string, tokens TokenSource, cacheTTL time.Duration) *Client {
	return &Client{
		baseURL: topic.NormalizeBaseURL(baseURL),
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
		cache:   cache.New(cacheTTL, 2*cacheTTL),
	}
}

// Login exchanges basic credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp tokenResponse
	err := c.do(ctx, "account.login", http.MethodPost, "/v1/account/token", model.BasicAuth(username, password), nil, nil, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errs.Errorf(errs.Unknown, "account.login", "server returned no token")
	}
	return resp.Token, nil
}

// Logout revokes the session token.
func (c *Client) Logout(ctx context.Context) error {
	defer c.cache.Flush()
	return c.authed(ctx, "account.logout", http.MethodDelete, "/v1/account/token", nil, nil, nil)
}

// Get returns the account, from cache when fresh.
func (c *Client) Get(ctx context.Context) (*Account, error) {
	token, err := c.token(ctx, "account.get")
	if err != nil {
		return nil, err
	}
	if cached, ok := c.cache.Get(token); ok {
		return cached.(*Account), nil
	}

	var acct Account
	if err := c.do(ctx, "account.get", http.MethodGet, "/v1/account", "Bearer "+token, nil, nil, &acct); err != nil {
		return nil, err
	}
	c.cache.SetDefault(token, &acct)
	return &acct, nil
}

// Invalidate drops the cached account.
func (c *Client) Invalidate() {
	c.cache.Flush()
}

// Create signs up a new account. It needs no session.
func (c *Client) Create(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	return c.do(ctx, "account.create", http.MethodPost, "/v1/account", "", nil, body, nil)
}

// Delete removes the account; the password is required again.
func (c *Client) Delete(ctx context.Context, password string) error {
	defer c.cache.Flush()
	return c.authed(ctx, "account.delete", http.MethodDelete, "/v1/account", nil, map[string]string{"password": password}, nil)
}

func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	body := map[string]string{"password": current, "new_password": next}
	return c.authed(ctx, "account.change_password", http.MethodPost, "/v1/account/password", nil, body, nil)
}

func (c *Client) UpdateSettings(ctx context.Context, settings Settings) error {
	defer c.cache.Flush()
	return c.authed(ctx, "account.update_settings", http.MethodPatch, "/v1/account/settings", nil, settings, nil)
}

func (c *Client) AddSubscription(ctx context.Context, baseURL, name string) error {
	defer c.cache.Flush()
	body := model.RemoteSubscription{BaseURL: topic.NormalizeBaseURL(baseURL), Topic: name}
	return c.authed(ctx, "account.add_subscription", http.MethodPost, "/v1/account/subscription", nil, body, nil)
}

func (c *Client) UpdateSubscription(ctx context.Context, baseURL, name string, displayName *string) error {
	defer c.cache.Flush()
	body := model.RemoteSubscription{BaseURL: topic.NormalizeBaseURL(baseURL), Topic: name, DisplayName: displayName}
	return c.authed(ctx, "account.update_subscription", http.MethodPatch, "/v1/account/subscription", nil, body, nil)
}

func (c *Client) DeleteSubscription(ctx context.Context, baseURL, name string) error {
	defer c.cache.Flush()
	headers := http.Header{}
	headers.Set("X-BaseURL", topic.NormalizeBaseURL(baseURL))
	headers.Set("X-Topic", name)
	return c.authed(ctx, "account.delete_subscription", http.MethodDelete, "/v1/account/subscription", headers, nil, nil)
}

// UpsertReservation reserves a topic. A topic reserved by someone else is a Conflict.
func (c *Client) UpsertReservation(ctx context.Context, name, everyone string) error {
	defer c.cache.Flush()
	body := model.Reservation{Topic: name, Everyone: everyone}
	return c.authed(ctx, "account.upsert_reservation", http.MethodPost, "/v1/account/reservation", nil, body, nil)
}

func (c *Client) DeleteReservation(ctx context.Context, name string, deleteMessages bool) error {
	defer c.cache.Flush()
	headers := http.Header{}
	if deleteMessages {
		headers.Set("X-Delete-Messages", "true")
	}
	return c.authed(ctx, "account.delete_reservation", http.MethodDelete, "/v1/account/reservation/"+url.PathEscape(name), headers, nil, nil)
}

func (c *Client) CreateBillingSubscription(ctx context.Context, req BillingRequest) (*BillingResponse, error) {
	defer c.cache.Flush()
	var resp BillingResponse
	if err := c.authed(ctx, "account.create_billing", http.MethodPost, "/v1/account/billing/subscription", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UpdateBillingSubscription(ctx context.Context, req BillingRequest) error {
	defer c.cache.Flush()
	return c.authed(ctx, "account.update_billing", http.MethodPut, "/v1/account/billing/subscription", nil, req, nil)
}

func (c *Client) DeleteBillingSubscription(ctx context.Context) error {
	defer c.cache.Flush()
	return c.authed(ctx, "account.delete_billing", http.MethodDelete, "/v1/account/billing/subscription", nil, nil, nil)
}

func (c *Client) token(ctx context.Context, op string) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errs.Errorf(errs.Unauthorized, op, "not signed in")
	}
	return token, nil
}

func (c *Client) authed(ctx context.Context, op, method, path string, headers http.Header, body, out any) error {
	token, err := c.token(ctx, op)
	if err != nil {
		return err
	}
	return c.do(ctx, op, method, path, "Bearer "+token, headers, body, out)
}

func (c *Client) do(ctx context.Context, op, method, path, auth string, headers http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errs.E(errs.Validation, op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errs.E(errs.Validation, op, err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.E(errs.Network, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.E(errs.FromStatus(resp.StatusCode), op, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, serverError(resp.Body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.E(errs.Unknown, op, err)
	}
	return nil
}

// serverError extracts the message of a JSON error body, if there is one.
func serverError(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return string(bytes.TrimSpace(data))
}
