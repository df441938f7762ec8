// Package keycloak provides the admin API client used by actions: the
// availability probe, the password-grant session handshake, authenticated
// verbs and one wrapper function per admin endpoint.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/kcconfig/kcconfig/internal/audit"
	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

const (
	DefaultAdminClientID = "admin-cli"
	DefaultTokenRealm    = "master"
	DefaultPollInterval  = time.Second
)

// ErrNoSession is returned by the verbs before InitializeSession succeeds.
var ErrNoSession = errors.New("no admin session: InitializeSession has not succeeded")

// Client talks to one server. It is used from a single goroutine; the session
// is written once by InitializeSession and read by every call after it.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	logger        zerolog.Logger
	pollInterval  time.Duration
	adminClientID string
	tokenRealm    string

	mu          sync.Mutex
	authed      *http.Client
	accessToken string
	auditLogger *audit.Logger
	runUUID     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client used for all calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithPollInterval sets the availability probe interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithAdminClientID sets the OAuth client id used for the password grant.
func WithAdminClientID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.adminClientID = id
		}
	}
}

// WithTokenRealm sets the realm that issues the admin token.
func WithTokenRealm(realm string) Option {
	return func(c *Client) {
		if realm != "" {
			c.tokenRealm = realm
		}
	}
}

// New creates a client for baseURL. No network traffic happens until
// WaitForAvailability or InitializeSession.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{},
		logger:        zerolog.Nop(),
		pollInterval:  DefaultPollInterval,
		adminClientID: DefaultAdminClientID,
		tokenRealm:    DefaultTokenRealm,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// SetAudit records every mutating call to al under runUUID.
func (c *Client) SetAudit(al *audit.Logger, runUUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auditLogger = al
	c.runUUID = runUUID
}

func (c *Client) tokenURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, c.tokenRealm)
}

// WaitForAvailability polls the token realm endpoint until it answers 200 or
// timeout elapses. Transport errors and other statuses count as not ready.
// Each probe is bounded by the overall deadline; the admin verbs carry no
// per-call timeout.
func (c *Client) WaitForAvailability(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	probeURL := fmt.Sprintf("%s/realms/%s", c.baseURL, c.tokenRealm)

	for attempt := 1; ; attempt++ {
		if c.probe(ctx, probeURL, deadline) {
			c.logger.Info().Str("url", c.baseURL).Int("attempts", attempt).Msg("server is available")
			return true
		}
		if time.Now().Add(c.pollInterval).After(deadline) {
			c.logger.Error().Str("url", c.baseURL).Dur("timeout", timeout).Msg("server did not become available")
			return false
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (c *Client) probe(ctx context.Context, url string, deadline time.Time) bool {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("availability probe failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug().Int("status", resp.StatusCode).Msg("availability probe")
	return resp.StatusCode == http.StatusOK
}

// InitializeSession exchanges admin credentials for a bearer token. The
// token is attached to every later call and never refreshed.
func (c *Client) InitializeSession(ctx context.Context, username, password string) bool {
	conf := &oauth2.Config{
		ClientID: c.adminClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := conf.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		c.logger.Error().Err(err).Str("user", username).Msg("admin login failed")
		return false
	}

	authed := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))

	c.mu.Lock()
	c.authed = authed
	c.accessToken = tok.AccessToken
	al, runUUID := c.auditLogger, c.runUUID
	c.mu.Unlock()

	c.logger.Info().Str("user", username).Str("realm", c.tokenRealm).Msg("admin session established")
	if al != nil {
		al.Log(audit.EventSessionOpened, runUUID, "", map[string]string{
			"base_url": c.baseURL,
			"user":     username,
		})
	}
	return true
}

// HasSession reports whether InitializeSession has succeeded.
func (c *Client) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed != nil
}

// AccessToken returns the admin bearer token for handing to external
// processes.
func (c *Client) AccessToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authed == nil {
		return "", ErrNoSession
	}
	return c.accessToken, nil
}

func (c *Client) Get(ctx context.Context, path string) (*sdk.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body any) (*sdk.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body any) (*sdk.Response, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *Client) Delete(ctx context.Context, path string, body any) (*sdk.Response, error) {
	return c.do(ctx, http.MethodDelete, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*sdk.Response, error) {
	c.mu.Lock()
	hc := c.authed
	c.mu.Unlock()
	if hc == nil {
		return nil, ErrNoSession
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.logCall(ctx, method, path, 0, time.Since(start), err)
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logCall(ctx, method, path, resp.StatusCode, time.Since(start), err)
		return nil, fmt.Errorf("reading %s %s response: %w", method, path, err)
	}

	c.logCall(ctx, method, path, resp.StatusCode, time.Since(start), nil)
	return &sdk.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// logCall records a call to the structured logger and, for mutating verbs,
// to the audit chain.
func (c *Client) logCall(ctx context.Context, method, path string, status int, elapsed time.Duration, err error) {
	action := sdk.ActionName(ctx)
	ev := c.logger.Debug()
	if err != nil {
		ev = c.logger.Warn().Err(err)
	}
	ev.Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("elapsed", elapsed).
		Str("action", action).
		Msg("admin api call")

	if method == http.MethodGet {
		return
	}

	c.mu.Lock()
	al, runUUID := c.auditLogger, c.runUUID
	c.mu.Unlock()
	if al == nil {
		return
	}

	detail := map[string]any{
		"method": method,
		"path":   path,
		"status": status,
	}
	if err != nil {
		detail["error"] = err.Error()
	}
	if aerr := al.Log(audit.EventAPICall, runUUID, action, detail); aerr != nil {
		c.logger.Warn().Err(aerr).Msg("writing audit record")
	}
}
