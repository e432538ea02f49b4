// Package polyanalyst provides client initialization and session management.
//
// The Client owns one authenticated session with a PolyAnalyst server: it
// performs the credential login, retains the session identity across requests,
// and transparently re-authenticates once when the server reports an expired
// session.
package polyanalyst

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	paerrors "github.com/megaputer/polyanalyst6api-go/errors"
	"github.com/megaputer/polyanalyst6api-go/patypes"
)

// Version is the client library version reported in the User-Agent header.
const Version = "0.1.0"

// DefaultAPIVersion is the PolyAnalyst API version used when none is set.
const DefaultAPIVersion = "1.0"

const (
	apiPath          = "/polyanalyst/api/"
	defaultUserAgent = "polyanalyst6api-go/" + Version

	// authExpiredMarker is the phrase the server embeds in 403 responses for
	// requests carried by an expired or missing session
	authExpiredMarker = "are not logged in"

	// operationLimitedMarker is the phrase the server embeds in 403 responses
	// for operations restricted to project owners and administrators
	operationLimitedMarker = "operation is limited "

	sessionCookieName = "sid"
)

var validAPIVersions = []string{"1.0"}

// RequestOptions carries the optional parts of an API request.
type RequestOptions struct {
	// Params are encoded into the request query string
	Params url.Values

	// JSON, when non-nil, is marshalled into the request body
	JSON any

	// Headers are added to the request headers
	Headers http.Header
}

// Client represents an authenticated connection to a PolyAnalyst server.
// It is safe for concurrent use; re-authentication after session expiry is
// serialized so concurrent requests never race redundant logins.
type Client struct {
	// baseURL is the versioned API root, e.g. https://host/polyanalyst/api/v1.0
	baseURL *url.URL

	username string
	password string

	httpClient        *http.Client
	maxRetries        int
	retryInitialDelay time.Duration
	retryMaxDelay     time.Duration
	userAgent         string
	logger            zerolog.Logger

	// sessionMu guards sid and generation
	sessionMu sync.RWMutex

	// authMu serializes login attempts so only one re-auth is in flight
	authMu sync.Mutex

	// sid is the server-issued session identity, empty when logged out
	sid string

	// generation increments on every successful login; request paths remember
	// the generation they dispatched under so a failed request only triggers a
	// re-login when nobody else refreshed the session in the meantime
	generation uint64
}

// New creates a client for the PolyAnalyst server at serverURL with the given
// credentials. The session is not established until Login is called.
//
// Example:
//
//	client, err := polyanalyst.New("https://pa.example.com:5043", "analyst", "secret",
//	    polyanalyst.WithTimeout(30*time.Second),
//	)
func New(serverURL, username, password string, opts ...patypes.Option) (*Client, error) {
	cfg := &patypes.ClientConfig{
		APIVersion:        DefaultAPIVersion,
		MaxRetries:        3,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxDelay:     8 * time.Second,
		UserAgent:         defaultUserAgent,
		Logger:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if !slices.Contains(validAPIVersions, cfg.APIVersion) {
		return nil, paerrors.NewError("new", paerrors.ErrUnsupportedVersion).
			WithMessage(fmt.Sprintf("valid API versions are %s", strings.Join(validAPIVersions, ", ")))
	}

	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, paerrors.NewError("new", paerrors.ErrInvalidInput).WithMessage(err.Error())
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, paerrors.NewError("new", paerrors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("server URL %q must include scheme and host", serverURL))
	}
	if username == "" {
		return nil, paerrors.NewError("new", paerrors.ErrInvalidInput).
			WithMessage("username cannot be empty")
	}

	httpClient := cfg.CustomHTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.TLSConfig != nil {
			transport.TLSClientConfig = cfg.TLSConfig.Clone()
		}
		if cfg.InsecureSkipVerify {
			if transport.TLSClientConfig == nil {
				transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
			transport.TLSClientConfig.InsecureSkipVerify = true
		}
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		}
	}

	return &Client{
		baseURL:           parsed.JoinPath(apiPath, "v"+cfg.APIVersion),
		username:          username,
		password:          password,
		httpClient:        httpClient,
		maxRetries:        cfg.MaxRetries,
		retryInitialDelay: cfg.RetryInitialDelay,
		retryMaxDelay:     cfg.RetryMaxDelay,
		userAgent:         cfg.UserAgent,
		logger:            cfg.Logger,
	}, nil
}

// SID returns the current session identity, or an empty string when the
// client is not logged in.
func (c *Client) SID() string {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.sid
}

// Login establishes a session with the stored credentials.
// It fails with an error matching errors.ErrAuthentication when the server
// rejects the credentials and errors.ErrConnectivity on network failure.
func (c *Client) Login(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.loginLocked(ctx)
}

// loginLocked performs the credential exchange. Callers must hold authMu.
func (c *Client) loginLocked(ctx context.Context) error {
	opts := &RequestOptions{
		Params: url.Values{
			"uname": {c.username},
			"pwd":   {c.password},
		},
	}

	resp, err := c.doEndpoint(ctx, http.MethodPost, "login", opts, false)
	if err != nil {
		return err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return paerrors.NewEndpointError("login", "login", paerrors.ErrAuthentication).
			WithStatus(resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return paerrors.NewEndpointError("login", "login",
			fmt.Errorf("server returned status %s", resp.Status)).WithStatus(resp.StatusCode)
	}

	var sid string
	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookieName {
			sid = cookie.Value
			break
		}
	}
	if sid == "" {
		return paerrors.NewEndpointError("login", "login", paerrors.ErrAuthentication).
			WithMessage("server did not return a session cookie")
	}

	c.sessionMu.Lock()
	c.sid = sid
	c.generation++
	c.sessionMu.Unlock()

	c.logger.Debug().Str("user", c.username).Msg("logged in to PolyAnalyst server")
	return nil
}

// Logout invalidates the session on the server and forgets the session
// identity. It is idempotent: calling it without an active session is a no-op.
func (c *Client) Logout(ctx context.Context) error {
	if c.SID() == "" {
		return nil
	}

	_, _, err := c.request(ctx, http.MethodPost, "logout", nil, false)
	if err != nil && !errors.Is(err, paerrors.ErrNotLoggedIn) && !paerrors.IsAuthentication(err) {
		return err
	}

	c.sessionMu.Lock()
	c.sid = ""
	c.sessionMu.Unlock()
	return nil
}

// Request dispatches an authenticated call to an API endpoint and returns the
// raw response together with its decoded JSON body. When the server signals an
// expired session the client re-authenticates once and retries the call;
// a second rejection surfaces an error matching errors.ErrAuthentication.
func (c *Client) Request(
	ctx context.Context,
	method, endpoint string,
	opts *RequestOptions,
) (*http.Response, json.RawMessage, error) {
	return c.request(ctx, method, endpoint, opts, true)
}

// Get dispatches a GET request and decodes the JSON response into out.
// A nil out discards the response body.
func (c *Client) Get(ctx context.Context, endpoint string, opts *RequestOptions, out any) error {
	_, raw, err := c.Request(ctx, http.MethodGet, endpoint, opts)
	if err != nil {
		return err
	}
	return decodeInto(endpoint, raw, out)
}

// Post dispatches a POST request and decodes the JSON response into out.
// A nil out discards the response body.
func (c *Client) Post(ctx context.Context, endpoint string, opts *RequestOptions, out any) error {
	_, raw, err := c.Request(ctx, http.MethodPost, endpoint, opts)
	if err != nil {
		return err
	}
	return decodeInto(endpoint, raw, out)
}

// RunTask initiates scheduler task execution by task id.
func (c *Client) RunTask(ctx context.Context, id int) error {
	return c.Post(ctx, "scheduler/run-task", &RequestOptions{JSON: map[string]any{"taskId": id}}, nil)
}

// ServerInfo returns the server information document.
func (c *Client) ServerInfo(ctx context.Context) (map[string]any, error) {
	var info map[string]any
	if err := c.Get(ctx, "server/info", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) request(
	ctx context.Context,
	method, endpoint string,
	opts *RequestOptions,
	allowReauth bool,
) (*http.Response, json.RawMessage, error) {
	resp, err := c.doEndpoint(ctx, method, endpoint, opts, allowReauth)
	if err != nil {
		return nil, nil, err
	}
	raw, err := handleResponse(endpoint, resp)
	if err != nil {
		return nil, nil, err
	}
	return resp, raw, nil
}

// doEndpoint builds and dispatches a request to an endpoint relative to the
// versioned API root.
func (c *Client) doEndpoint(
	ctx context.Context,
	method, endpoint string,
	opts *RequestOptions,
	allowReauth bool,
) (*http.Response, error) {
	var body []byte
	contentType := ""
	if opts != nil && opts.JSON != nil {
		var err error
		body, err = json.Marshal(opts.JSON)
		if err != nil {
			return nil, paerrors.NewEndpointError("request", endpoint, err)
		}
		contentType = "application/json"
	}

	target := c.baseURL.JoinPath(endpoint)
	if opts != nil && len(opts.Params) > 0 {
		target.RawQuery = opts.Params.Encode()
	}

	newReq := func() (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if opts != nil {
			for key, values := range opts.Headers {
				for _, value := range values {
					req.Header.Add(key, value)
				}
			}
		}
		return req, nil
	}

	resp, err := c.do(ctx, newReq, allowReauth)
	if err != nil {
		var apiErr *paerrors.Error
		if errors.As(err, &apiErr) {
			return nil, apiErr.WithEndpoint(endpoint)
		}
		return nil, paerrors.NewEndpointError("request", endpoint, err)
	}
	return resp, nil
}

// do dispatches a request built by newReq with transient-failure retry and,
// when allowReauth is set, a single transparent re-authentication on session
// expiry. newReq must build a fresh request on every call so retries never
// reuse a consumed body.
func (c *Client) do(
	ctx context.Context,
	newReq func() (*http.Request, error),
	allowReauth bool,
) (*http.Response, error) {
	generation := c.sessionGeneration()

	resp, err := c.attempt(ctx, newReq)
	if err != nil {
		return nil, err
	}
	if !allowReauth || !notLoggedIn(resp) {
		return resp, nil
	}
	drainClose(resp.Body)

	if err := c.reauthenticate(ctx, generation); err != nil {
		return nil, paerrors.NewError("reauth", paerrors.ErrAuthentication).
			WithMessage(err.Error())
	}

	resp, err = c.attempt(ctx, newReq)
	if err != nil {
		return nil, err
	}
	if notLoggedIn(resp) {
		status := resp.StatusCode
		drainClose(resp.Body)
		return nil, paerrors.NewError("reauth", paerrors.ErrAuthentication).WithStatus(status)
	}
	return resp, nil
}

// attempt performs one logical request with bounded exponential backoff on
// network failures and gateway-level statuses. Application-level statuses,
// including 500 which PolyAnalyst uses for business errors, are returned to
// the caller unretried.
func (c *Client) attempt(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInitialDelay
	policy.MaxInterval = c.retryMaxDelay

	resp, err := backoff.RetryNotifyWithData(
		func() (*http.Response, error) {
			req, err := newReq()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			c.decorate(req)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return nil, backoff.Permanent(ctx.Err())
				}
				return nil, fmt.Errorf("%w: %v", paerrors.ErrConnectivity, err)
			}
			if transientStatus(resp.StatusCode) {
				drainClose(resp.Body)
				return nil, fmt.Errorf("%w: server returned status %d", paerrors.ErrConnectivity, resp.StatusCode)
			}
			return resp, nil
		},
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx),
		func(err error, wait time.Duration) {
			c.logger.Warn().Err(err).Dur("backoff", wait).Msg("transient request failure, retrying")
		},
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// decorate applies the headers every request carries: the user agent and,
// when logged in, the session identity as both header and cookie.
func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	if sid := c.SID(); sid != "" {
		req.Header.Set(sessionCookieName, sid)
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sid})
	}
}

// reauthenticate performs a single-flight re-login. The caller passes the
// session generation it dispatched under; if another goroutine already
// refreshed the session since then, the login is skipped.
func (c *Client) reauthenticate(ctx context.Context, seen uint64) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.sessionGeneration() != seen {
		return nil
	}
	c.logger.Warn().Msg("session expired, re-authenticating")
	return c.loginLocked(ctx)
}

func (c *Client) sessionGeneration() uint64 {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.generation
}

// handleResponse maps a server response to its decoded JSON body or a typed
// error, mirroring the server's status conventions: 200/202 carry results,
// 403 carries session and permission failures as text, and 500 carries
// business errors as an ["Error", message] pair.
func handleResponse(endpoint string, resp *http.Response) (json.RawMessage, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, paerrors.NewEndpointError("request", endpoint,
			fmt.Errorf("%w: reading response: %v", paerrors.ErrConnectivity, err))
	}

	var raw json.RawMessage
	if json.Valid(data) {
		raw = json.RawMessage(data)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return raw, nil

	case resp.StatusCode == http.StatusForbidden:
		text := string(data)
		if strings.Contains(text, authExpiredMarker) {
			return nil, paerrors.NewEndpointError("request", endpoint, paerrors.ErrNotLoggedIn).
				WithStatus(resp.StatusCode)
		}
		if strings.Contains(text, operationLimitedMarker) {
			return nil, paerrors.NewEndpointError("request", endpoint, paerrors.ErrOperationLimited).
				WithStatus(resp.StatusCode)
		}
		return nil, paerrors.NewEndpointError("request", endpoint,
			fmt.Errorf("server returned status %s", resp.Status)).WithStatus(resp.StatusCode)

	case resp.StatusCode == http.StatusInternalServerError:
		if msg, ok := serverErrorMessage(raw); ok {
			if isWrapperNotFound(msg) {
				return nil, paerrors.NewEndpointError("request", endpoint, paerrors.ErrWrapperNotFound).
					WithMessage(msg).WithStatus(resp.StatusCode)
			}
			return nil, paerrors.NewEndpointError("request", endpoint, errors.New(msg)).
				WithStatus(resp.StatusCode)
		}
		return nil, paerrors.NewEndpointError("request", endpoint,
			fmt.Errorf("server returned status %s", resp.Status)).WithStatus(resp.StatusCode)

	default:
		return nil, paerrors.NewEndpointError("request", endpoint,
			fmt.Errorf("server returned status %s", resp.Status)).WithStatus(resp.StatusCode)
	}
}

// serverErrorMessage extracts the message from the ["Error", message] pair
// the server places in 500 response bodies.
func serverErrorMessage(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var pair []string
	if err := json.Unmarshal(raw, &pair); err != nil {
		return "", false
	}
	if len(pair) < 2 || pair[0] != "Error" {
		return "", false
	}
	return pair[1], true
}

func isWrapperNotFound(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "wrapper") && strings.Contains(lower, "not found")
}

// notLoggedIn reports whether the response is the server's session-expired
// rejection. The body is consumed for the check and restored for downstream
// readers.
func notLoggedIn(resp *http.Response) bool {
	if resp.StatusCode != http.StatusForbidden {
		return false
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8192))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), authExpiredMarker)
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func decodeInto(endpoint string, raw json.RawMessage, out any) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return paerrors.NewEndpointError("decode", endpoint, err)
	}
	return nil
}

// drainClose discards the remainder of a response body and closes it so the
// underlying connection can be reused.
func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 8192))
	_ = body.Close()
}
