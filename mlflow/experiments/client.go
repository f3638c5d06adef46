/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package experiments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/manfredcalvo/agentmlflow/mlflow/retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	// ErrAlreadyExists is returned by Create when the name is taken.
	ErrAlreadyExists = errors.New("experiment already exists")
	// ErrNotFound is returned by GetByName when no experiment has the name.
	ErrNotFound = errors.New("experiment not found")
)

// Experiment is the subset of an MLflow experiment this client reads.
type Experiment struct {
	ID               string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	LifecycleStage   string `json:"lifecycle_stage,omitempty"`
}

// APIError is a non-2xx response from the workspace.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error_code"`
	Message    string `json:"message"`

	retryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("databricks returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("databricks returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// RetryAfter returns the wait the server asked for, if any.
func (e *APIError) RetryAfter() time.Duration {
	return e.retryAfter
}

// Client talks to one workspace.
type Client struct {
	host   *url.URL
	base   *http.Client
	ts     oauth2.TokenSource
	creds  *clientcredentials.Config
	policy retry.Policy

	api *http.Client
}

// Option configures a Client.
type Option func(*Client) error

// WithToken authenticates with a personal access token.
func WithToken(token string) Option {
	return func(c *Client) error {
		if token == "" {
			return errors.New("token cannot be empty")
		}
		c.ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		return nil
	}
}

// WithTokenSource authenticates with tokens from ts.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) error {
		if ts == nil {
			return errors.New("token source cannot be nil")
		}
		c.ts = ts
		return nil
	}
}

// WithClientCredentials authenticates as a service principal using the
// workspace's OAuth machine-to-machine flow.
func WithClientCredentials(clientID, clientSecret string) Option {
	return func(c *Client) error {
		if clientID == "" || clientSecret == "" {
			return errors.New("client id and secret are required")
		}
		c.creds = &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{"all-apis"},
		}
		return nil
	}
}

// WithHTTPClient sets the client used for both API and token requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		c.base = hc
		return nil
	}
}

// WithRetryPolicy overrides retry.DefaultPolicy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) error {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid retry policy: %w", err)
		}
		c.policy = p
		return nil
	}
}

// New creates a client for the workspace at host. Exactly one credential
// option is required; client credentials take precedence over a token.
func New(ctx context.Context, host string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing host: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("host %q must be an absolute URL", host)
	}

	c := &Client{
		host:   u,
		base:   http.DefaultClient,
		policy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	ts := c.ts
	if c.creds != nil {
		c.creds.TokenURL = u.String() + "/oidc/v1/token"
		ts = c.creds.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, c.base))
	}
	if ts == nil {
		return nil, errors.New("no credentials configured")
	}

	c.ts = oauth2.ReuseTokenSource(nil, ts)
	c.api = &http.Client{
		Transport: &oauth2.Transport{
			Source: c.ts,
			Base:   c.base.Transport,
		},
		Timeout: c.base.Timeout,
	}
	return c, nil
}

// Token returns a current access token, for callers that authenticate other
// requests to the same workspace, such as span export.
func (c *Client) Token() (*oauth2.Token, error) {
	return c.ts.Token()
}

// URL returns the workspace UI address of an experiment.
func (c *Client) URL(id string) string {
	return c.host.String() + "/ml/experiments/" + url.PathEscape(id)
}

// CurrentUser returns the user name of the authenticated principal.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	var resp struct {
		UserName string `json:"userName"`
	}
	if err := c.do(ctx, "current_user", http.MethodGet, "/api/2.0/preview/scim/v2/Me", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.UserName, nil
}

// Create creates an experiment and returns its id.
func (c *Client) Create(ctx context.Context, name string) (string, error) {
	var resp struct {
		ID string `json:"experiment_id"`
	}
	err := c.do(ctx, "create_experiment", http.MethodPost, "/api/2.0/mlflow/experiments/create", nil, map[string]string{"name": name}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "RESOURCE_ALREADY_EXISTS" {
			return "", fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
		return "", err
	}
	return resp.ID, nil
}

// GetByName looks up an experiment by its full path.
func (c *Client) GetByName(ctx context.Context, name string) (Experiment, error) {
	var resp struct {
		Experiment Experiment `json:"experiment"`
	}
	q := url.Values{"experiment_name": {name}}
	if err := c.do(ctx, "get_experiment_by_name", http.MethodGet, "/api/2.0/mlflow/experiments/get-by-name", q, nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.Code == "RESOURCE_DOES_NOT_EXIST") {
			return Experiment{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Experiment{}, err
	}
	return resp.Experiment, nil
}

// SearchOptions narrows Search.
type SearchOptions struct {
	// Filter is an MLflow search filter, e.g. "name LIKE '%agent%'".
	Filter string
	// PageSize is the number of experiments requested per page (default 1000).
	PageSize int
	// Limit stops paging once this many experiments were returned. 0 means all.
	Limit int
}

// Search lists experiments, following page tokens.
func (c *Client) Search(ctx context.Context, opts SearchOptions) ([]Experiment, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	var (
		out   []Experiment
		token string
	)
	for {
		q := url.Values{"max_results": {strconv.Itoa(pageSize)}}
		if opts.Filter != "" {
			q.Set("filter", opts.Filter)
		}
		if token != "" {
			q.Set("page_token", token)
		}

		var resp struct {
			Experiments   []Experiment `json:"experiments"`
			NextPageToken string       `json:"next_page_token"`
		}
		if err := c.do(ctx, "search_experiments", http.MethodGet, "/api/2.0/mlflow/experiments/search", q, nil, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Experiments...)

		if opts.Limit > 0 && len(out) >= opts.Limit {
			return out[:opts.Limit], nil
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		token = resp.NextPageToken
	}
}

// ResolvePath turns an experiment name into a workspace path.
//
// Absolute names are kept. Relative names go under the caller's home folder,
// or under /Shared when the caller cannot be determined.
func (c *Client) ResolvePath(ctx context.Context, name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	user, err := c.CurrentUser(ctx)
	if err != nil || user == "" {
		clog.FromContext(ctx).With("error", err).Warn("Could not determine current user, using /Shared")
		return "/Shared/" + name
	}
	return "/Users/" + user + "/" + name
}

// Ensure resolves name, creates the experiment if needed and returns its id.
func (c *Client) Ensure(ctx context.Context, name string) (string, error) {
	path := c.ResolvePath(ctx, name)
	log := clog.FromContext(ctx).With("experiment", path)

	id, err := c.Create(ctx, path)
	switch {
	case err == nil:
		log.With("experiment_id", id).Info("Created experiment")
		return id, nil
	case !errors.Is(err, ErrAlreadyExists):
		return "", fmt.Errorf("creating experiment %s: %w", path, err)
	}

	exp, err := c.GetByName(ctx, path)
	if err != nil {
		return "", fmt.Errorf("experiment %s exists but could not be fetched: %w", path, err)
	}
	log.With("experiment_id", exp.ID).Info("Using existing experiment")
	return exp.ID, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding %s request: %w", operation, err)
		}
	}

	u := *c.host
	u.Path += path
	u.RawQuery = query.Encode()

	_, err := retry.Do(ctx, c.policy, operation, retryable, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.api.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("%s: %w", operation, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return struct{}{}, fmt.Errorf("reading %s response: %w", operation, err)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return struct{}{}, newAPIError(resp, data)
		}
		if out == nil || len(data) == 0 {
			return struct{}{}, nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return struct{}{}, fmt.Errorf("decoding %s response: %w", operation, err)
		}
		return struct{}{}, nil
	})
	return err
}

func newAPIError(resp *http.Response, data []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.retryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

// retryable reports whether err is a throttling or server-side failure.
func retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
}
