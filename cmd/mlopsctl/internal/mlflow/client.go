// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package mlflow manages identity and permission state on an MLflow
tracking server running with basic authentication.

The client is session-scoped: Authenticate verifies credentials against
the server and holds them in memory for subsequent calls; Logout drops
them. Operations map one-to-one onto single HTTP calls with no
automatic retries, so every error the server reports surfaces exactly
once at the caller.

# Security Context

Credentials live only in client memory for the lifetime of the session
and are attached per-request via HTTP Basic auth. Passwords are never
logged; log lines carry usernames only.

# Error Taxonomy

Server responses are folded into sentinel errors usable with errors.Is:
ErrUnauthorized (401/403), ErrNotFound (404, RESOURCE_DOES_NOT_EXIST),
ErrConflict (409, RESOURCE_ALREADY_EXISTS), and ErrServiceUnreachable
for transport failures.
*/
package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"

	"github.com/AleutianAI/mlopsctl/pkg/logging"
	"github.com/AleutianAI/mlopsctl/pkg/validation"
)

// -----------------------------------------------------------------------------
// REST endpoints (MLflow basic-auth API)
// -----------------------------------------------------------------------------

const (
	endpointUserCreate     = "/api/2.0/mlflow/users/create"
	endpointUserGet        = "/api/2.0/mlflow/users/get"
	endpointUserList       = "/api/2.0/mlflow/users/list"
	endpointUserDelete     = "/api/2.0/mlflow/users/delete"
	endpointUserPassword   = "/api/2.0/mlflow/users/update-password"
	endpointUserAdmin      = "/api/2.0/mlflow/users/update-admin"
	endpointExpPermCreate  = "/api/2.0/mlflow/experiments/permissions/create"
	endpointExpPermUpdate  = "/api/2.0/mlflow/experiments/permissions/update"
	endpointExpPermDelete  = "/api/2.0/mlflow/experiments/permissions/delete"
	endpointModPermCreate  = "/api/2.0/mlflow/registered-models/permissions/create"
	endpointModPermUpdate  = "/api/2.0/mlflow/registered-models/permissions/update"
	endpointModPermDelete  = "/api/2.0/mlflow/registered-models/permissions/delete"
)

// HTTPDoer abstracts the HTTP client for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a session-scoped MLflow identity and permission client.
//
// # Thread Safety
//
// Client is safe for concurrent use; session credentials are guarded
// by a mutex and each operation issues an independent request.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	logger     *logging.Logger

	mu       sync.Mutex
	username string
	password string
	authed   bool
}

// NewClient creates a client for the tracking server at baseURL.
//
// # Inputs
//
//   - baseURL: Tracking URI, e.g. "http://localhost:5000"
//   - httpClient: Injected for tests; nil means http.DefaultClient
//   - logger: Nil means the default logger
func NewClient(baseURL string, httpClient HTTPDoer, logger *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// -----------------------------------------------------------------------------
// Session
// -----------------------------------------------------------------------------

// Authenticate verifies credentials and opens the session.
//
// # Description
//
// Issues a self-lookup with the supplied credentials. On success they
// are held in memory and attached to every subsequent call. A second
// Authenticate replaces the session.
//
// # Outputs
//
//   - error: ErrUnauthorized for rejected credentials,
//     ErrServiceUnreachable if the server is down
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password required", ErrInvalidInput)
	}

	// Probe with the candidate credentials before committing them.
	query := url.Values{"username": {username}}
	_, err := c.request(ctx, http.MethodGet, endpointUserGet, query, nil, username, password)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.username = username
	c.password = password
	c.authed = true
	c.mu.Unlock()

	c.logger.Info("mlflow session opened", "username", username)
	return nil
}

// Logout closes the session and clears credentials from memory.
func (c *Client) Logout() {
	c.mu.Lock()
	c.username = ""
	c.password = ""
	c.authed = false
	c.mu.Unlock()
}

// session returns the held credentials or ErrNotAuthenticated.
func (c *Client) session() (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authed {
		return "", "", ErrNotAuthenticated
	}
	return c.username, c.password, nil
}

// -----------------------------------------------------------------------------
// User Operations
// -----------------------------------------------------------------------------

// CreateUser creates a new user account.
//
// Returns ErrConflict when the username is already taken; the existing
// account is left untouched.
func (c *Client) CreateUser(ctx context.Context, username, password string) (*Principal, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: password required", ErrInvalidInput)
	}
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	body, err := c.authedRequest(ctx, http.MethodPost, endpointUserCreate, nil, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		User Principal `json:"user"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode create-user response: %w", err)
	}
	c.logger.Info("user created", "username", username)
	return &resp.User, nil
}

// GetUser fetches one user by name. Returns ErrNotFound when absent.
func (c *Client) GetUser(ctx context.Context, username string) (*Principal, error) {
	body, err := c.authedRequest(ctx, http.MethodGet, endpointUserGet,
		url.Values{"username": {username}}, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		User Principal `json:"user"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode get-user response: %w", err)
	}
	return &resp.User, nil
}

// ListUsers returns all user accounts.
//
// The list is materialized per call; nothing is cached between calls.
func (c *Client) ListUsers(ctx context.Context) ([]Principal, error) {
	body, err := c.authedRequest(ctx, http.MethodGet, endpointUserList, nil, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Users []Principal `json:"users"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode list-users response: %w", err)
	}
	return resp.Users, nil
}

// DeleteUser removes a user account. Returns ErrNotFound when absent.
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	_, err := c.authedRequest(ctx, http.MethodDelete, endpointUserDelete, nil, map[string]string{
		"username": username,
	})
	if err != nil {
		return err
	}
	c.logger.Info("user deleted", "username", username)
	return nil
}

// UpdatePassword sets a new password for the user.
func (c *Client) UpdatePassword(ctx context.Context, username, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: new password required", ErrInvalidInput)
	}
	_, err := c.authedRequest(ctx, http.MethodPatch, endpointUserPassword, nil, map[string]string{
		"username": username,
		"password": newPassword,
	})
	if err != nil {
		return err
	}
	c.logger.Info("password updated", "username", username)
	return nil
}

// PromoteUser grants tracking-server admin rights.
func (c *Client) PromoteUser(ctx context.Context, username string) error {
	return c.updateAdmin(ctx, username, true)
}

// DemoteUser revokes tracking-server admin rights.
func (c *Client) DemoteUser(ctx context.Context, username string) error {
	return c.updateAdmin(ctx, username, false)
}

func (c *Client) updateAdmin(ctx context.Context, username string, isAdmin bool) error {
	_, err := c.authedRequest(ctx, http.MethodPatch, endpointUserAdmin, nil, map[string]any{
		"username": username,
		"is_admin": isAdmin,
	})
	if err != nil {
		return err
	}
	c.logger.Info("admin flag updated", "username", username, "is_admin", isAdmin)
	return nil
}

// -----------------------------------------------------------------------------
// Permission Operations
// -----------------------------------------------------------------------------

// GrantExperimentPermission grants a user access to an experiment.
//
// # Description
//
// Upsert semantics: attempts a create, and when the server reports the
// grant already exists, updates it to the new level instead. At most
// one grant exists per (experiment, user) afterwards.
func (c *Client) GrantExperimentPermission(ctx context.Context, experimentID, username string, level PermissionLevel) error {
	return c.grant(ctx, endpointExpPermCreate, endpointExpPermUpdate, map[string]any{
		"experiment_id": experimentID,
		"username":      username,
		"permission":    string(level),
	}, level)
}

// RevokeExperimentPermission removes a user's experiment grant.
//
// Revoking an absent grant is a no-op returning nil.
func (c *Client) RevokeExperimentPermission(ctx context.Context, experimentID, username string) error {
	return c.revoke(ctx, endpointExpPermDelete, map[string]any{
		"experiment_id": experimentID,
		"username":      username,
	})
}

// GrantModelPermission grants a user access to a registered model.
// Same upsert semantics as GrantExperimentPermission.
func (c *Client) GrantModelPermission(ctx context.Context, modelName, username string, level PermissionLevel) error {
	return c.grant(ctx, endpointModPermCreate, endpointModPermUpdate, map[string]any{
		"name":       modelName,
		"username":   username,
		"permission": string(level),
	}, level)
}

// RevokeModelPermission removes a user's registered-model grant.
// Revoking an absent grant is a no-op returning nil.
func (c *Client) RevokeModelPermission(ctx context.Context, modelName, username string) error {
	return c.revoke(ctx, endpointModPermDelete, map[string]any{
		"name":     modelName,
		"username": username,
	})
}

// grant implements create-then-update upsert for both resource kinds.
func (c *Client) grant(ctx context.Context, createEndpoint, updateEndpoint string, payload map[string]any, level PermissionLevel) error {
	if err := level.Validate(); err != nil {
		return err
	}

	_, err := c.authedRequest(ctx, http.MethodPost, createEndpoint, nil, payload)
	if err == nil {
		return nil
	}
	if !IsConflict(err) {
		return err
	}
	_, err = c.authedRequest(ctx, http.MethodPatch, updateEndpoint, nil, payload)
	return err
}

// revoke deletes a grant, treating an absent grant as success.
func (c *Client) revoke(ctx context.Context, deleteEndpoint string, payload map[string]any) error {
	_, err := c.authedRequest(ctx, http.MethodDelete, deleteEndpoint, nil, payload)
	if err != nil && IsNotFound(err) {
		return nil
	}
	return err
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

// serverError is the JSON error envelope the tracking server returns.
type serverError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// authedRequest runs a request with the session credentials.
func (c *Client) authedRequest(ctx context.Context, method, endpoint string, query url.Values, body any) ([]byte, error) {
	user, pass, err := c.session()
	if err != nil {
		return nil, err
	}
	return c.request(ctx, method, endpoint, query, body, user, pass)
}

// request executes one HTTP call and maps the response to the error
// taxonomy. No retries at this layer.
func (c *Client) request(ctx context.Context, method, endpoint string, query url.Values, body any, user, pass string) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL: %v", ErrInvalidInput, err)
	}
	u.Path = path.Join(u.Path, endpoint)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(user, pass)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, c.mapError(resp.StatusCode, data)
}

// mapError folds an HTTP error response into a sentinel error.
func (c *Client) mapError(status int, body []byte) error {
	var se serverError
	_ = json.Unmarshal(body, &se)
	detail := se.Message
	if detail == "" {
		detail = string(body)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
	case status == http.StatusNotFound || se.ErrorCode == "RESOURCE_DOES_NOT_EXIST":
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	case status == http.StatusConflict || se.ErrorCode == "RESOURCE_ALREADY_EXISTS":
		return fmt.Errorf("%w: %s", ErrConflict, detail)
	default:
		return fmt.Errorf("tracking server error (HTTP %d, %s): %s", status, se.ErrorCode, detail)
	}
}

// -----------------------------------------------------------------------------
// Error Helpers
// -----------------------------------------------------------------------------

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
