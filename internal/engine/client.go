package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/basekick-labs/lakebench/internal/config"
	"github.com/rs/zerolog"
)

// Config holds the engine client configuration
type Config struct {
	BaseURL         string // e.g. http://localhost:9047
	APIPath         string // REST prefix, default /api/v3
	LoginPath       string // default /apiv2/login
	Username        string
	Password        string
	Token           string // Personal access token; used instead of username/password when set
	PollInterval    time.Duration
	MaxWait         time.Duration // 0 means no ceiling
	NotFoundRetries int
	RequestTimeout  time.Duration
	Logger          zerolog.Logger
}

// Client talks to the query engine REST API. It keeps one request in flight
// at a time and reuses the credential obtained at login.
type Client struct {
	apiURL          string
	loginURL        string
	username        string
	password        string
	token           string
	pollInterval    time.Duration
	maxWait         time.Duration
	notFoundRetries int
	httpClient      *http.Client
	logger          zerolog.Logger

	mu         sync.Mutex
	authHeader string
}

// traffic counts request and response body bytes of one or more calls.
type traffic struct {
	sent     int64
	received int64
}

func (t *traffic) add(o traffic) {
	t.sent += o.sent
	t.received += o.received
}

// NewClient creates a new engine client
func NewClient(cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("engine base URL is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	apiPath := cfg.APIPath
	if apiPath == "" {
		apiPath = "/api/v3"
	}
	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = "/apiv2/login"
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	c := &Client{
		apiURL:          base + "/" + strings.Trim(apiPath, "/"),
		loginURL:        base + "/" + strings.Trim(loginPath, "/"),
		username:        cfg.Username,
		password:        cfg.Password,
		token:           cfg.Token,
		pollInterval:    poll,
		maxWait:         cfg.MaxWait,
		notFoundRetries: cfg.NotFoundRetries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: cfg.Logger.With().Str("component", "engine-client").Logger(),
	}

	c.logger.Debug().
		Str("api_url", c.apiURL).
		Bool("token_auth", c.token != "").
		Dur("poll_interval", c.pollInterval).
		Msg("Engine client initialized")

	return c, nil
}

// NewFromConfig builds a client from the loaded engine configuration.
func NewFromConfig(cfg *config.EngineConfig, logger zerolog.Logger) (*Client, error) {
	return NewClient(&Config{
		BaseURL:         cfg.URL,
		APIPath:         cfg.APIPath,
		LoginPath:       cfg.LoginPath,
		Username:        cfg.Username,
		Password:        cfg.Password,
		Token:           cfg.Token,
		PollInterval:    cfg.PollInterval,
		MaxWait:         cfg.MaxWait,
		NotFoundRetries: cfg.NotFoundRetries,
		RequestTimeout:  cfg.RequestTimeout,
		Logger:          logger,
	})
}

type loginRequest struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Authenticate obtains the Authorization header value. A personal access token
// is used as a bearer token; otherwise username/password are exchanged for a
// session token at the login endpoint.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	if c.token != "" {
		c.authHeader = "Bearer " + c.token
		return nil
	}
	if c.username == "" || c.password == "" {
		return fmt.Errorf("%w: no token and no username/password configured", ErrAuthentication)
	}

	var resp loginResponse
	_, err := c.send(ctx, http.MethodPost, c.loginURL, "", loginRequest{
		UserName: c.username,
		Password: c.password,
	}, &resp)
	if err != nil {
		c.logger.Error().Err(err).Str("user", c.username).Msg("Login failed")
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if resp.Token == "" {
		return fmt.Errorf("%w: login response carried no token", ErrAuthentication)
	}

	c.authHeader = "_dremio" + resp.Token
	c.logger.Info().Str("user", c.username).Msg("Authenticated with engine")
	return nil
}

func (c *Client) authorization(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authHeader == "" {
		if err := c.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.authHeader, nil
}

// do performs an authenticated call against the REST API. path is relative to
// the API prefix (e.g. "/sql").
func (c *Client) do(ctx context.Context, method, path string, body, out any) (traffic, error) {
	auth, err := c.authorization(ctx)
	if err != nil {
		return traffic{}, err
	}
	return c.send(ctx, method, c.apiURL+path, auth, body, out)
}

func (c *Client) send(ctx context.Context, method, url, auth string, body, out any) (traffic, error) {
	var t traffic
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return t, fmt.Errorf("failed to marshal request: %w", err)
		}
		t.sent = int64(len(jsonData))
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return t, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return t, fmt.Errorf("%s %s request failed: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	t.received = int64(len(data))
	if err != nil {
		return t, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       strings.TrimPrefix(url, c.apiURL),
			Body:       strings.TrimSpace(string(data)),
		}
		var payload struct {
			ErrorMessage string `json:"errorMessage"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.ErrorMessage
		}
		return t, apiErr
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return t, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return t, nil
}
