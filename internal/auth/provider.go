package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// defaultScope is requested when Config.Scopes is empty.
const defaultScope = "read write"

// Config holds the configuration for creating a Provider.
type Config struct {
	// AuthURL is the authorization endpoint the user is sent to.
	AuthURL string

	// ClientID is the OAuth client identifier.
	ClientID string

	// ClientSecret is the OAuth client secret. Optional for public clients.
	ClientSecret string

	// HTTPClient is used for token requests. Defaults to a 30s-timeout client.
	HTTPClient *http.Client

	// Logger is the structured logger for the provider.
	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// RedirectURI is the loopback callback URL registered with the server.
	RedirectURI string

	// Scopes are the requested scopes.
	Scopes []string

	// Store persists tokens between runs.
	Store TokenStore

	// TokenURL is the token endpoint.
	TokenURL string
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("client ID is required"))
	}
	if c.TokenURL == "" {
		errs = append(errs, errors.New("token URL is required"))
	}
	if c.Store == nil {
		errs = append(errs, errors.New("token store is required"))
	}
	return errors.Join(errs...)
}

// Provider hands out bearer tokens, refreshing them when they expire.
type Provider struct {
	authURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *slog.Logger
	now          func() time.Time
	redirectURI  string
	scope        string
	store        TokenStore
	tokenURL     string

	// mu protects tokens, loaded, invalidated and rejected.
	mu          sync.RWMutex
	tokens      TokenSet
	loaded      bool
	invalidated bool

	// rejected is the access token the server last refused. It is dropped
	// whenever it reappears in a reload from the store.
	rejected string
}

// New creates a new Provider.
func New(cfg Config) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	scope := defaultScope
	if len(cfg.Scopes) > 0 {
		scope = strings.Join(cfg.Scopes, " ")
	}

	return &Provider{
		authURL:      cfg.AuthURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
		logger:       logger,
		now:          now,
		redirectURI:  cfg.RedirectURI,
		scope:        scope,
		store:        cfg.Store,
		tokenURL:     cfg.TokenURL,
	}, nil
}

// AuthURL builds the authorization URL for a PKCE authorization-code flow.
func (p *Provider) AuthURL(state string, pkce PKCE) string {
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("code_challenge", pkce.Challenge)
	params.Set("code_challenge_method", pkce.Method)
	params.Set("redirect_uri", p.redirectURI)
	params.Set("response_type", "code")
	params.Set("scope", p.scope)
	params.Set("state", state)

	sep := "?"
	if strings.Contains(p.authURL, "?") {
		sep = "&"
	}
	return p.authURL + sep + params.Encode()
}

// BearerToken returns a usable access token, refreshing it if necessary.
// It returns an error wrapping ErrAuthRequired when the user must log in.
func (p *Provider) BearerToken(ctx context.Context) (string, error) {
	if token, ok := p.cachedToken(); ok {
		return token, nil
	}
	return p.refreshAccessToken(ctx, false)
}

// ExchangeCode exchanges an authorization code for tokens and stores them.
func (p *Provider) ExchangeCode(ctx context.Context, code string, verifier string) error {
	if code == "" {
		return errors.New("authorization code is required")
	}

	data := url.Values{}
	data.Set("client_id", p.clientID)
	data.Set("code", code)
	data.Set("code_verifier", verifier)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", p.redirectURI)
	if p.clientSecret != "" {
		data.Set("client_secret", p.clientSecret)
	}

	tokens, err := p.requestTokens(ctx, data)
	if err != nil {
		return fmt.Errorf("exchanging code: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.Save(ctx, tokens); err != nil {
		return fmt.Errorf("saving tokens: %w", err)
	}
	p.tokens = tokens
	p.loaded = true
	p.rejected = ""

	p.logger.Info("authorization code exchanged", "expires_at", tokens.ExpiresAt)
	return nil
}

// Invalidate discards the cached access token so the next BearerToken call
// performs a refresh. The refresh token is kept.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		p.invalidated = true
		return
	}
	p.rejected = p.tokens.AccessToken
	p.tokens.AccessToken = ""
	p.tokens.ExpiresAt = time.Time{}
}

// IsAuthenticated reports whether a usable access token is held. It never
// contacts the token endpoint, but re-reads the store when nothing usable is
// cached so that a login by another process is noticed.
func (p *Provider) IsAuthenticated(ctx context.Context) bool {
	if _, ok := p.cachedToken(); ok {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.reloadLocked(ctx); err != nil {
		return false
	}
	return p.tokens.Valid(p.now())
}

// Logout removes stored and cached tokens.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}
	p.tokens = TokenSet{}
	p.loaded = true

	p.logger.Info("logged out")
	return nil
}

// Refresh forces a refresh grant regardless of the cached token's expiry.
func (p *Provider) Refresh(ctx context.Context) error {
	_, err := p.refreshAccessToken(ctx, true)
	return err
}

// cachedToken returns the cached access token if valid, or false if refresh is needed.
func (p *Provider) cachedToken() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.loaded && p.tokens.Valid(p.now()) {
		return p.tokens.AccessToken, true
	}
	return "", false
}

// loadLocked reads tokens from the store unless they are already cached.
// Must be called with the write lock held.
func (p *Provider) loadLocked(ctx context.Context) error {
	if p.loaded {
		return nil
	}

	tokens, err := p.store.Load(ctx)
	if err != nil && !errors.Is(err, ErrNoToken) {
		return fmt.Errorf("loading tokens: %w", err)
	}

	if p.invalidated {
		tokens.AccessToken = ""
		tokens.ExpiresAt = time.Time{}
		p.invalidated = false
	}
	if p.rejected != "" && tokens.AccessToken == p.rejected {
		tokens.AccessToken = ""
		tokens.ExpiresAt = time.Time{}
	}

	p.tokens = tokens
	p.loaded = true
	return nil
}

// reloadLocked reads the store again. Must be called with the write lock held.
func (p *Provider) reloadLocked(ctx context.Context) error {
	p.loaded = false
	return p.loadLocked(ctx)
}

// refreshAccessToken loads stored tokens and performs a refresh grant when
// the access token is unusable or force is set.
func (p *Provider) refreshAccessToken(ctx context.Context, force bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wasLoaded := p.loaded
	if err := p.loadLocked(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}

	// Double-check after acquiring write lock.
	if !force && p.tokens.Valid(p.now()) {
		return p.tokens.AccessToken, nil
	}

	// The cached set may predate a login by another process.
	if p.tokens.RefreshToken == "" && wasLoaded {
		if err := p.reloadLocked(ctx); err != nil {
			return "", fmt.Errorf("%w: %w", ErrAuthRequired, err)
		}
		if !force && p.tokens.Valid(p.now()) {
			return p.tokens.AccessToken, nil
		}
	}

	if p.tokens.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token available", ErrAuthRequired)
	}

	data := url.Values{}
	data.Set("client_id", p.clientID)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", p.tokens.RefreshToken)
	if p.clientSecret != "" {
		data.Set("client_secret", p.clientSecret)
	}

	tokens, err := p.requestTokens(ctx, data)
	if err != nil {
		p.logger.Warn("token refresh failed", "error", err)
		// Read the store again next time in case the user has logged in since.
		p.loaded = false
		return "", fmt.Errorf("%w: refreshing token: %w", ErrAuthRequired, err)
	}

	// Keep the old refresh token if the server didn't rotate it.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = p.tokens.RefreshToken
	}

	if err := p.store.Save(ctx, tokens); err != nil {
		return "", fmt.Errorf("saving refreshed tokens: %w", err)
	}
	p.tokens = tokens

	p.logger.Debug("access token refreshed", "expires_at", tokens.ExpiresAt)
	return tokens.AccessToken, nil
}

// requestTokens posts a grant to the token endpoint.
func (p *Provider) requestTokens(ctx context.Context, data url.Values) (TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return TokenSet{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return TokenSet{}, fmt.Errorf("executing token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		var errResp oauthErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return TokenSet{}, fmt.Errorf("%s: %s", errResp.Error, errResp.Description)
		}
		return TokenSet{}, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return TokenSet{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return TokenSet{}, errors.New("token response has no access token")
	}

	now := p.now()
	tokens := TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		StoredAt:     now,
		TokenType:    tokenResp.TokenType,
	}
	if tokens.TokenType == "" {
		tokens.TokenType = "Bearer"
	}
	if tokenResp.ExpiresIn > 0 {
		tokens.ExpiresAt = now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	} else {
		tokens.ExpiresAt = now.Add(defaultTokenDuration)
	}

	return tokens, nil
}

// oauthErrorResponse represents an OAuth error from the token endpoint.
//
//nolint:tagliatelle // External API uses snake_case.
type oauthErrorResponse struct {
	Description string `json:"error_description"`
	Error       string `json:"error"`
}

// tokenResponse represents the OAuth token response.
//
//nolint:tagliatelle // External API uses snake_case.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}
