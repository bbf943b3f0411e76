// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mlflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===== Test Harness =====

// fakeTracking is an in-memory stand-in for an MLflow tracking server
// with basic auth enabled.
type fakeTracking struct {
	mu       sync.Mutex
	users    map[string]*Principal // username -> principal
	passes   map[string]string     // username -> password
	expPerms map[string]string     // experiment_id/username -> level
	modPerms map[string]string     // model_name/username -> level
	requests []string              // "METHOD path" log
	nextID   int64
}

func newFakeTracking() *fakeTracking {
	f := &fakeTracking{
		users:    make(map[string]*Principal),
		passes:   make(map[string]string),
		expPerms: make(map[string]string),
		modPerms: make(map[string]string),
		nextID:   1,
	}
	f.addUser("admin", "admin-pass", true)
	return f
}

func (f *fakeTracking) addUser(name, pass string, admin bool) {
	f.users[name] = &Principal{ID: f.nextID, Username: name, IsAdmin: admin}
	f.passes[name] = pass
	f.nextID++
}

func (f *fakeTracking) writeError(w http.ResponseWriter, status int, code, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error_code": code, "message": msg})
}

func (f *fakeTracking) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)

		user, pass, ok := r.BasicAuth()
		if !ok || f.passes[user] != pass {
			f.writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "bad credentials")
			return
		}

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		str := func(k string) string { s, _ := body[k].(string); return s }

		switch r.URL.Path {
		case endpointUserGet:
			name := r.URL.Query().Get("username")
			p, exists := f.users[name]
			if !exists {
				f.writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "no such user")
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"user": p})

		case endpointUserList:
			var all []*Principal
			for _, p := range f.users {
				all = append(all, p)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"users": all})

		case endpointUserCreate:
			name := str("username")
			if _, exists := f.users[name]; exists {
				f.writeError(w, http.StatusConflict, "RESOURCE_ALREADY_EXISTS", "user exists")
				return
			}
			f.addUser(name, str("password"), false)
			_ = json.NewEncoder(w).Encode(map[string]any{"user": f.users[name]})

		case endpointUserDelete:
			name := str("username")
			if _, exists := f.users[name]; !exists {
				f.writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "no such user")
				return
			}
			delete(f.users, name)
			delete(f.passes, name)
			w.WriteHeader(http.StatusOK)

		case endpointUserPassword:
			name := str("username")
			if _, exists := f.users[name]; !exists {
				f.writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "no such user")
				return
			}
			f.passes[name] = str("password")
			w.WriteHeader(http.StatusOK)

		case endpointUserAdmin:
			name := str("username")
			p, exists := f.users[name]
			if !exists {
				f.writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "no such user")
				return
			}
			isAdmin, _ := body["is_admin"].(bool)
			p.IsAdmin = isAdmin
			w.WriteHeader(http.StatusOK)

		case endpointExpPermCreate, endpointExpPermUpdate, endpointExpPermDelete:
			f.handlePerm(w, r.URL.Path, endpointExpPermCreate, endpointExpPermDelete,
				f.expPerms, str("experiment_id")+"/"+str("username"), str("permission"))

		case endpointModPermCreate, endpointModPermUpdate, endpointModPermDelete:
			f.handlePerm(w, r.URL.Path, endpointModPermCreate, endpointModPermDelete,
				f.modPerms, str("name")+"/"+str("username"), str("permission"))

		default:
			f.writeError(w, http.StatusNotFound, "ENDPOINT_NOT_FOUND", r.URL.Path)
		}
	})
}

func (f *fakeTracking) handlePerm(w http.ResponseWriter, path, createPath, deletePath string, store map[string]string, key, level string) {
	_, exists := store[key]
	switch path {
	case createPath:
		if exists {
			f.writeError(w, http.StatusConflict, "RESOURCE_ALREADY_EXISTS", "permission exists")
			return
		}
		store[key] = level
	case deletePath:
		if !exists {
			f.writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "no such permission")
			return
		}
		delete(store, key)
	default: // update
		if !exists {
			f.writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "no such permission")
			return
		}
		store[key] = level
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeTracking) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// newAuthedClient returns a client with an open admin session against
// a fresh fake server.
func newAuthedClient(t *testing.T) (*Client, *fakeTracking) {
	t.Helper()
	fake := newFakeTracking()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, nil, nil)
	require.NoError(t, client.Authenticate(context.Background(), "admin", "admin-pass"))
	return client, fake
}

// ===== Session Tests =====

func TestAuthenticateSuccess(t *testing.T) {
	fake := newFakeTracking()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := NewClient(srv.URL, nil, nil)
	err := client.Authenticate(context.Background(), "admin", "admin-pass")
	require.NoError(t, err)

	// Session is usable for subsequent calls.
	_, err = client.GetUser(context.Background(), "admin")
	assert.NoError(t, err)
}

func TestAuthenticateBadCredentials(t *testing.T) {
	fake := newFakeTracking()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := NewClient(srv.URL, nil, nil)
	err := client.Authenticate(context.Background(), "admin", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)

	// Failed authentication must not open a session.
	_, err = client.CreateUser(context.Background(), "bob", "pw")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestAuthenticateEmptyInput(t *testing.T) {
	client := NewClient("http://localhost:5000", nil, nil)
	err := client.Authenticate(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMutationBeforeAuthenticate(t *testing.T) {
	fake := newFakeTracking()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := NewClient(srv.URL, nil, nil)
	_, err := client.CreateUser(context.Background(), "bob", "pw")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	// The server must not have been contacted at all.
	assert.Empty(t, fake.requestLog())
}

func TestLogoutClosesSession(t *testing.T) {
	client, _ := newAuthedClient(t)
	client.Logout()

	err := client.DeleteUser(context.Background(), "admin")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestReauthenticateReplacesSession(t *testing.T) {
	client, fake := newAuthedClient(t)
	fake.mu.Lock()
	fake.addUser("ops", "ops-pass", false)
	fake.mu.Unlock()

	require.NoError(t, client.Authenticate(context.Background(), "ops", "ops-pass"))

	// Requests now carry the new credentials; a self-lookup still works.
	p, err := client.GetUser(context.Background(), "ops")
	require.NoError(t, err)
	assert.Equal(t, "ops", p.Username)
}

func TestServiceUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, nil, nil)
	err := client.Authenticate(context.Background(), "admin", "admin-pass")
	assert.ErrorIs(t, err, ErrServiceUnreachable)
}

// ===== User Tests =====

func TestCreateUser(t *testing.T) {
	client, fake := newAuthedClient(t)

	p, err := client.CreateUser(context.Background(), "alice", "alice-pw")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	assert.False(t, p.IsAdmin)
	assert.NotZero(t, p.ID)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.users, "alice")
}

func TestCreateUserDuplicate(t *testing.T) {
	client, fake := newAuthedClient(t)

	_, err := client.CreateUser(context.Background(), "alice", "pw1")
	require.NoError(t, err)

	_, err = client.CreateUser(context.Background(), "alice", "pw2")
	require.ErrorIs(t, err, ErrConflict)

	// The original account survives untouched.
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "pw1", fake.passes["alice"])
	assert.Len(t, fake.users, 2) // admin + alice
}

func TestCreateUserRejectsHostileUsername(t *testing.T) {
	client, fake := newAuthedClient(t)
	before := len(fake.requestLog())

	for _, name := range []string{"../admin", "a/b", "user?admin=true", "has space"} {
		_, err := client.CreateUser(context.Background(), name, "pw")
		assert.ErrorIs(t, err, ErrInvalidInput, "username %q", name)
	}
	// Rejected client-side; the server saw nothing.
	assert.Len(t, fake.requestLog(), before)
}

func TestGetUserNotFound(t *testing.T) {
	client, _ := newAuthedClient(t)
	_, err := client.GetUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUsers(t *testing.T) {
	client, _ := newAuthedClient(t)
	_, err := client.CreateUser(context.Background(), "alice", "pw")
	require.NoError(t, err)
	_, err = client.CreateUser(context.Background(), "bob", "pw")
	require.NoError(t, err)

	users, err := client.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 3)

	names := make(map[string]bool)
	for _, u := range users {
		names[u.Username] = true
	}
	assert.True(t, names["admin"] && names["alice"] && names["bob"])
}

func TestDeleteUser(t *testing.T) {
	client, _ := newAuthedClient(t)
	_, err := client.CreateUser(context.Background(), "alice", "pw")
	require.NoError(t, err)

	require.NoError(t, client.DeleteUser(context.Background(), "alice"))

	_, err = client.GetUser(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUserNotFound(t *testing.T) {
	client, _ := newAuthedClient(t)
	err := client.DeleteUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePassword(t *testing.T) {
	client, fake := newAuthedClient(t)
	_, err := client.CreateUser(context.Background(), "alice", "old-pw")
	require.NoError(t, err)

	require.NoError(t, client.UpdatePassword(context.Background(), "alice", "new-pw"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "new-pw", fake.passes["alice"])
}

func TestUpdatePasswordEmpty(t *testing.T) {
	client, _ := newAuthedClient(t)
	err := client.UpdatePassword(context.Background(), "alice", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPromoteAndDemote(t *testing.T) {
	client, fake := newAuthedClient(t)
	_, err := client.CreateUser(context.Background(), "alice", "pw")
	require.NoError(t, err)

	require.NoError(t, client.PromoteUser(context.Background(), "alice"))
	fake.mu.Lock()
	assert.True(t, fake.users["alice"].IsAdmin)
	fake.mu.Unlock()

	require.NoError(t, client.DemoteUser(context.Background(), "alice"))
	fake.mu.Lock()
	assert.False(t, fake.users["alice"].IsAdmin)
	fake.mu.Unlock()
}

// ===== Permission Tests =====

func TestGrantExperimentPermission(t *testing.T) {
	client, fake := newAuthedClient(t)

	err := client.GrantExperimentPermission(context.Background(), "7", "alice", PermissionRead)
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "READ", fake.expPerms["7/alice"])
}

func TestGrantUpsertsExistingPermission(t *testing.T) {
	client, fake := newAuthedClient(t)
	ctx := context.Background()

	require.NoError(t, client.GrantExperimentPermission(ctx, "7", "alice", PermissionRead))
	require.NoError(t, client.GrantExperimentPermission(ctx, "7", "alice", PermissionManage))

	// Exactly one grant remains, at the latest level.
	fake.mu.Lock()
	assert.Len(t, fake.expPerms, 1)
	assert.Equal(t, "MANAGE", fake.expPerms["7/alice"])
	fake.mu.Unlock()

	// Second grant went create -> conflict -> update.
	log := fake.requestLog()
	assert.Contains(t, log, "PATCH "+endpointExpPermUpdate)
}

func TestGrantInvalidLevel(t *testing.T) {
	client, fake := newAuthedClient(t)
	before := len(fake.requestLog())

	err := client.GrantExperimentPermission(context.Background(), "7", "alice", PermissionLevel("OWNER"))
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Len(t, fake.requestLog(), before)
}

func TestRevokeExperimentPermission(t *testing.T) {
	client, fake := newAuthedClient(t)
	ctx := context.Background()

	require.NoError(t, client.GrantExperimentPermission(ctx, "7", "alice", PermissionEdit))
	require.NoError(t, client.RevokeExperimentPermission(ctx, "7", "alice"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.expPerms)
}

func TestRevokeAbsentPermissionIsNoop(t *testing.T) {
	client, _ := newAuthedClient(t)
	err := client.RevokeExperimentPermission(context.Background(), "7", "ghost")
	assert.NoError(t, err)
}

func TestGrantAndRevokeModelPermission(t *testing.T) {
	client, fake := newAuthedClient(t)
	ctx := context.Background()

	require.NoError(t, client.GrantModelPermission(ctx, "fraud-detector", "alice", PermissionEdit))
	fake.mu.Lock()
	assert.Equal(t, "EDIT", fake.modPerms["fraud-detector/alice"])
	fake.mu.Unlock()

	require.NoError(t, client.GrantModelPermission(ctx, "fraud-detector", "alice", PermissionManage))
	fake.mu.Lock()
	assert.Equal(t, "MANAGE", fake.modPerms["fraud-detector/alice"])
	fake.mu.Unlock()

	require.NoError(t, client.RevokeModelPermission(ctx, "fraud-detector", "alice"))
	require.NoError(t, client.RevokeModelPermission(ctx, "fraud-detector", "alice"))
}

// ===== Error Mapping Tests =====

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		code    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, "UNAUTHENTICATED", ErrUnauthorized},
		{"forbidden", http.StatusForbidden, "PERMISSION_DENIED", ErrUnauthorized},
		{"not found", http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", ErrNotFound},
		{"not found by code", http.StatusBadRequest, "RESOURCE_DOES_NOT_EXIST", ErrNotFound},
		{"conflict", http.StatusConflict, "RESOURCE_ALREADY_EXISTS", ErrConflict},
		{"conflict by code", http.StatusBadRequest, "RESOURCE_ALREADY_EXISTS", ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient("http://unused", nil, nil)
			body, _ := json.Marshal(map[string]string{"error_code": tt.code, "message": "detail"})
			err := client.mapError(tt.status, body)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), "detail")
		})
	}
}

func TestErrorMappingUnknownStatus(t *testing.T) {
	client := NewClient("http://unused", nil, nil)
	err := client.mapError(http.StatusInternalServerError, []byte("boom"))
	require.Error(t, err)
	for _, sentinel := range []error{ErrUnauthorized, ErrNotFound, ErrConflict} {
		assert.False(t, errors.Is(err, sentinel), "should not map to %v", sentinel)
	}
	assert.Contains(t, err.Error(), "boom")
}

func TestRequestsCarryBasicAuth(t *testing.T) {
	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		sawAuth = ok && user == "admin" && pass == "admin-pass"
		_ = json.NewEncoder(w).Encode(map[string]any{"user": &Principal{ID: 1, Username: "admin"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, nil)
	require.NoError(t, client.Authenticate(context.Background(), "admin", "admin-pass"))
	assert.True(t, sawAuth)
}

func TestConcurrentOperations(t *testing.T) {
	client, _ := newAuthedClient(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.CreateUser(ctx, fmt.Sprintf("user-%d", i), "pw")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "goroutine %d", i)
	}

	users, err := client.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 11)
}
