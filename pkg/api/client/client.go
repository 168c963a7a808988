package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the confvault API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	_, err := c.doStatus(ctx, method, path, body, token, v)
	return err
}

// doStatus performs the request and reports the response status code.
func (c *Client) doStatus(ctx context.Context, method, path string, body any, token string, v any) (int, error) {
	if c == nil {
		return 0, fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return resp.StatusCode, APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Actor identifies the authenticated user.
type Actor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Token is an issued bearer token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AuthResponse captures the payload returned by signup and login.
type AuthResponse struct {
	User  Actor `json:"user"`
	Token Token `json:"token"`
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) (AuthResponse, error) {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, path, body, "", &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Signup registers a user and returns its first token.
func (c *Client) Signup(ctx context.Context, username, password string) (AuthResponse, error) {
	return c.authenticate(ctx, "/auth/signup", username, password)
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (AuthResponse, error) {
	return c.authenticate(ctx, "/auth/login", username, password)
}

// Environment is a named variable namespace.
type Environment struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListEnvironments returns all environments ordered by name.
func (c *Client) ListEnvironments(ctx context.Context, token string) ([]Environment, error) {
	var envs []Environment
	if err := c.do(ctx, http.MethodGet, "/environments", nil, token, &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

// CreateEnvironment registers a new environment.
func (c *Client) CreateEnvironment(ctx context.Context, token, name, description string) (Environment, error) {
	body := map[string]string{"name": name, "description": description}
	var env Environment
	if err := c.do(ctx, http.MethodPost, "/environments", body, token, &env); err != nil {
		return Environment{}, err
	}
	return env, nil
}

// DeleteEnvironment removes an empty environment.
func (c *Client) DeleteEnvironment(ctx context.Context, token, name string) (Environment, error) {
	var env Environment
	if err := c.do(ctx, http.MethodDelete, envPath(name), nil, token, &env); err != nil {
		return Environment{}, err
	}
	return env, nil
}

// Variable is a stored key/value pair. Value holds ciphertext for secrets
// unless it was fetched decrypted.
type Variable struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environment_id"`
	Key           string    `json:"key"`
	Value         string    `json:"value"`
	Encrypted     bool      `json:"encrypted"`
	IsSecret      bool      `json:"is_secret"`
	Tags          string    `json:"tags"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SetVariableInput is the body of an upsert.
type SetVariableInput struct {
	Value       string `json:"value"`
	IsSecret    bool   `json:"is_secret"`
	Tags        string `json:"tags,omitempty"`
	Description string `json:"description,omitempty"`
}

func envPath(name string) string {
	return "/environments/" + url.PathEscape(name)
}

func variablePath(env, key string) string {
	return envPath(env) + "/variables/" + url.PathEscape(key)
}

// ListVariables returns the variables of an environment.
func (c *Client) ListVariables(ctx context.Context, token, env string) ([]Variable, error) {
	var vars []Variable
	if err := c.do(ctx, http.MethodGet, envPath(env)+"/variables", nil, token, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// GetVariable fetches one variable, optionally with its secret decrypted.
func (c *Client) GetVariable(ctx context.Context, token, env, key string, decrypt bool) (Variable, error) {
	path := variablePath(env, key)
	if decrypt {
		path += "?decrypt=true"
	}
	var v Variable
	if err := c.do(ctx, http.MethodGet, path, nil, token, &v); err != nil {
		return Variable{}, err
	}
	return v, nil
}

// SetVariable creates or updates a variable and reports whether it was created.
func (c *Client) SetVariable(ctx context.Context, token, env, key string, input SetVariableInput) (Variable, bool, error) {
	var v Variable
	status, err := c.doStatus(ctx, http.MethodPut, variablePath(env, key), input, token, &v)
	if err != nil {
		return Variable{}, false, err
	}
	return v, status == http.StatusCreated, nil
}

// DeleteVariable removes a variable.
func (c *Client) DeleteVariable(ctx context.Context, token, env, key string) error {
	return c.do(ctx, http.MethodDelete, variablePath(env, key), nil, token, nil)
}

// AuditLog is one entry of the audit trail.
type AuditLog struct {
	Seq        int64           `json:"seq"`
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	OldValue   *string         `json:"old_value,omitempty"`
	NewValue   *string         `json:"new_value,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	UserID     string          `json:"user_id"`
	UserName   string          `json:"user_name"`
	Timestamp  time.Time       `json:"timestamp"`
}

// AuditFilter narrows an audit query. Zero values are omitted.
type AuditFilter struct {
	Action     string
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}

// AuditPage is one page of audit entries, newest first.
type AuditPage struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// AuditLogs queries the audit trail.
func (c *Client) AuditLogs(ctx context.Context, token string, filter AuditFilter) (AuditPage, error) {
	q := url.Values{}
	if filter.Action != "" {
		q.Set("action", filter.Action)
	}
	if filter.EntityType != "" {
		q.Set("entity_type", filter.EntityType)
	}
	if filter.EntityID != "" {
		q.Set("entity_id", filter.EntityID)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	path := "/audit-logs"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var page AuditPage
	if err := c.do(ctx, http.MethodGet, path, nil, token, &page); err != nil {
		return AuditPage{}, err
	}
	return page, nil
}
