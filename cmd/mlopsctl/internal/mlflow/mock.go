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
	"sync"
)

// API is the identity and permission surface consumed by commands and
// the deploy orchestrator. *Client is the production implementation.
type API interface {
	Authenticate(ctx context.Context, username, password string) error
	Logout()
	CreateUser(ctx context.Context, username, password string) (*Principal, error)
	GetUser(ctx context.Context, username string) (*Principal, error)
	ListUsers(ctx context.Context) ([]Principal, error)
	DeleteUser(ctx context.Context, username string) error
	UpdatePassword(ctx context.Context, username, newPassword string) error
	PromoteUser(ctx context.Context, username string) error
	DemoteUser(ctx context.Context, username string) error
	GrantExperimentPermission(ctx context.Context, experimentID, username string, level PermissionLevel) error
	RevokeExperimentPermission(ctx context.Context, experimentID, username string) error
	GrantModelPermission(ctx context.Context, modelName, username string, level PermissionLevel) error
	RevokeModelPermission(ctx context.Context, modelName, username string) error
}

// MockAPI is a test double for API.
//
// Set the function fields to control behavior; unset fields succeed
// with zero values. Method names are recorded for verification.
type MockAPI struct {
	AuthenticateFunc   func(ctx context.Context, username, password string) error
	CreateUserFunc     func(ctx context.Context, username, password string) (*Principal, error)
	GetUserFunc        func(ctx context.Context, username string) (*Principal, error)
	ListUsersFunc      func(ctx context.Context) ([]Principal, error)
	DeleteUserFunc     func(ctx context.Context, username string) error
	UpdatePasswordFunc func(ctx context.Context, username, newPassword string) error
	PromoteUserFunc    func(ctx context.Context, username string) error
	DemoteUserFunc     func(ctx context.Context, username string) error
	GrantExpFunc       func(ctx context.Context, experimentID, username string, level PermissionLevel) error
	RevokeExpFunc      func(ctx context.Context, experimentID, username string) error
	GrantModelFunc     func(ctx context.Context, modelName, username string, level PermissionLevel) error
	RevokeModelFunc    func(ctx context.Context, modelName, username string) error

	// Calls records invoked method names in order.
	Calls []string

	mu sync.Mutex
}

func (m *MockAPI) record(method string) {
	m.mu.Lock()
	m.Calls = append(m.Calls, method)
	m.mu.Unlock()
}

// GetCalls returns a copy of the recorded method names.
func (m *MockAPI) GetCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.Calls))
	copy(result, m.Calls)
	return result
}

func (m *MockAPI) Authenticate(ctx context.Context, username, password string) error {
	m.record("Authenticate")
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, username, password)
	}
	return nil
}

func (m *MockAPI) Logout() {
	m.record("Logout")
}

func (m *MockAPI) CreateUser(ctx context.Context, username, password string) (*Principal, error) {
	m.record("CreateUser")
	if m.CreateUserFunc != nil {
		return m.CreateUserFunc(ctx, username, password)
	}
	return &Principal{ID: 1, Username: username}, nil
}

func (m *MockAPI) GetUser(ctx context.Context, username string) (*Principal, error) {
	m.record("GetUser")
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, username)
	}
	return &Principal{ID: 1, Username: username}, nil
}

func (m *MockAPI) ListUsers(ctx context.Context) ([]Principal, error) {
	m.record("ListUsers")
	if m.ListUsersFunc != nil {
		return m.ListUsersFunc(ctx)
	}
	return nil, nil
}

func (m *MockAPI) DeleteUser(ctx context.Context, username string) error {
	m.record("DeleteUser")
	if m.DeleteUserFunc != nil {
		return m.DeleteUserFunc(ctx, username)
	}
	return nil
}

func (m *MockAPI) UpdatePassword(ctx context.Context, username, newPassword string) error {
	m.record("UpdatePassword")
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, username, newPassword)
	}
	return nil
}

func (m *MockAPI) PromoteUser(ctx context.Context, username string) error {
	m.record("PromoteUser")
	if m.PromoteUserFunc != nil {
		return m.PromoteUserFunc(ctx, username)
	}
	return nil
}

func (m *MockAPI) DemoteUser(ctx context.Context, username string) error {
	m.record("DemoteUser")
	if m.DemoteUserFunc != nil {
		return m.DemoteUserFunc(ctx, username)
	}
	return nil
}

func (m *MockAPI) GrantExperimentPermission(ctx context.Context, experimentID, username string, level PermissionLevel) error {
	m.record("GrantExperimentPermission")
	if m.GrantExpFunc != nil {
		return m.GrantExpFunc(ctx, experimentID, username, level)
	}
	return nil
}

func (m *MockAPI) RevokeExperimentPermission(ctx context.Context, experimentID, username string) error {
	m.record("RevokeExperimentPermission")
	if m.RevokeExpFunc != nil {
		return m.RevokeExpFunc(ctx, experimentID, username)
	}
	return nil
}

func (m *MockAPI) GrantModelPermission(ctx context.Context, modelName, username string, level PermissionLevel) error {
	m.record("GrantModelPermission")
	if m.GrantModelFunc != nil {
		return m.GrantModelFunc(ctx, modelName, username, level)
	}
	return nil
}

func (m *MockAPI) RevokeModelPermission(ctx context.Context, modelName, username string) error {
	m.record("RevokeModelPermission")
	if m.RevokeModelFunc != nil {
		return m.RevokeModelFunc(ctx, modelName, username)
	}
	return nil
}

// Compile-time interface compliance checks.
var (
	_ API = (*Client)(nil)
	_ API = (*MockAPI)(nil)
)
