// Package upstream provides low-level, stateless helpers for talking to
// the private v1internal endpoint and to Google's standard OAuth and
// user-info endpoints.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/oauth2"

	"github.com/quotarelay/quotarelay/internal/ratelimit"
)

const (
	// defaultClientID / defaultClientSecret are the well-known installed-app
	// OAuth credentials used when GOOGLE_OAUTH_CLIENT_ID / _SECRET are unset.
	defaultClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	defaultClientSecret = "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"

	oauthTokenURL    = "https://oauth2.googleapis.com/token"
	userInfoURL      = "https://www.googleapis.com/oauth2/v2/userinfo?alt=json"
	prodHost         = "cloudcode-pa.googleapis.com"
	sandboxHost      = "daily-cloudcode-pa.sandbox.googleapis.com"
	apiVersion       = "v1internal"
	defaultUserAgent = "google-api-nodejs-client/9.15.1"
	apiClientHeader  = "google-cloud-sdk vscode_cloudshelleditor/0.1"
	clientMetadata   = `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`
)

// Response is the raw, untouched shape of an upstream HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client issues bearer-authenticated calls against v1internal and the
// companion OAuth/user-info endpoints. It is stateless: every method takes
// the token/body it needs as an argument.
type Client struct {
	httpClient   *http.Client
	hosts        []string
	clientID     string
	clientSecret string
	userAgent    string
	scheme       string
}

// Option configures a Client at construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client (e.g. to route
// through a proxy transport).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithHost prepends an explicit host override as the first host tried.
func WithHost(host string) Option {
	return func(c *Client) {
		if host == "" {
			return
		}
		c.hosts = append([]string{host}, c.hosts...)
	}
}

// New builds a Client. Host resolution order: an explicit override (via
// WithHost), then the production host, then the sandbox host named in the
// upstream contract. OAuth client id/secret fall back to the well-known
// installed-app defaults when the corresponding env vars are unset.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{},
		hosts:        []string{prodHost, sandboxHost},
		clientID:     envOr("GOOGLE_OAUTH_CLIENT_ID", defaultClientID),
		clientSecret: envOr("GOOGLE_OAUTH_CLIENT_SECRET", defaultClientSecret),
		userAgent:    defaultUserAgent,
		scheme:       "https",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// CallOptions customizes a single CallV1Internal invocation.
type CallOptions struct {
	Query   url.Values
	Headers http.Header
	Gate    *ratelimit.Gate
}

// CallV1Internal issues POST https://<host>/v1internal:<method><query> with
// a bearer token, and returns the raw response untouched. Hosts are tried
// in order on transport-level failure only; a well-formed non-2xx response
// from the first reachable host is never retried against a different host.
func (c *Client) CallV1Internal(ctx context.Context, method, token string, body []byte, opts CallOptions) (*Response, error) {
	if opts.Gate != nil {
		if err := opts.Gate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for _, host := range c.hosts {
		u := fmt.Sprintf("%s://%s/%s:%s", c.scheme, host, apiVersion, method)
		if len(opts.Query) > 0 {
			u += "?" + opts.Query.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept-Encoding", "gzip")
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("X-Goog-Api-Client", apiClientHeader)
		req.Header.Set("Client-Metadata", clientMetadata)
		for k, vs := range opts.Headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		return readResponse(resp)
	}
	return nil, lastErr
}

func readResponse(resp *http.Response) (*Response, error) {
	defer func() { _ = resp.Body.Close() }()

	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("decompress upstream response: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	header := resp.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       data,
	}, nil
}

// LoadProjectIDResult is the parsed outcome of loadCodeAssist.
type LoadProjectIDResult struct {
	ProjectID string
	RawBody   []byte
}

// LoadProjectID POSTs an empty metadata body to loadCodeAssist. A missing
// projectId in a 200 body is not an error; callers may fall back to
// synthesizing one from the raw body.
func (c *Client) LoadProjectID(ctx context.Context, token string, gate *ratelimit.Gate) (*LoadProjectIDResult, error) {
	body := []byte(`{"metadata":{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`)
	resp, err := c.CallV1Internal(ctx, "loadCodeAssist", token, body, CallOptions{Gate: gate})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return &LoadProjectIDResult{
		ProjectID: extractProjectID(resp.Body),
		RawBody:   resp.Body,
	}, nil
}

// ListModels calls fetchAvailableModels. It deliberately bypasses the rate
// gate so the quota refresher can fan out across accounts in parallel.
func (c *Client) ListModels(ctx context.Context, token, projectID string) (*Response, error) {
	body := []byte(fmt.Sprintf(`{"project":%q}`, projectID))
	return c.CallV1Internal(ctx, "fetchAvailableModels", token, body, CallOptions{})
}

// UserInfo fetches the authenticated user's e-mail.
func (c *Client) UserInfo(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	r, err := readResponse(resp)
	if err != nil {
		return "", err
	}
	if r.StatusCode < 200 || r.StatusCode >= 300 {
		return "", nil
	}
	return extractEmail(r.Body), nil
}

// TokenResult mirrors Google's OAuth token endpoint response.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TokenType    string
}

// oauthConfig builds the oauth2.Config for Google's token endpoint.
func (c *Client) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  redirectURI,
		Endpoint:     oauth2.Endpoint{TokenURL: oauthTokenURL},
	}
}

// oauthContext routes the oauth2 package's internal HTTP traffic through
// this client's transport.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// ExchangeAuthCode exchanges an authorization code for tokens.
func (c *Client) ExchangeAuthCode(ctx context.Context, code, redirectURI string) (*TokenResult, error) {
	tok, err := c.oauthConfig(redirectURI).Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange auth code: %w", err)
	}
	return fromOAuthToken(tok), nil
}

// RefreshToken exchanges a refresh token for a fresh access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	src := c.oauthConfig("").TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return fromOAuthToken(tok), nil
}

func fromOAuthToken(tok *oauth2.Token) *TokenResult {
	expiresIn := int64(0)
	if !tok.Expiry.IsZero() {
		expiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	return &TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
		TokenType:    tok.TokenType,
	}
}

