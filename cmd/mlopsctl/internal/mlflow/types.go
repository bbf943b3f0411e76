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

import "fmt"

// Principal is a user account in the MLflow auth database.
//
// Principals are never cached locally; every read is a live query so
// concurrent administrators cannot observe stale identity state.
type Principal struct {
	// ID is the server-assigned numeric identifier.
	ID int64 `json:"id"`

	// Username is the unique login name.
	Username string `json:"username"`

	// IsAdmin marks tracking-server administrators.
	IsAdmin bool `json:"is_admin"`
}

// ResourceKind identifies what a permission grant attaches to.
type ResourceKind string

const (
	// ResourceExperiment grants access to a tracking experiment by ID.
	ResourceExperiment ResourceKind = "experiment"

	// ResourceRegisteredModel grants access to a registered model by name.
	ResourceRegisteredModel ResourceKind = "registered-model"
)

// PermissionLevel orders access levels: READ < EDIT < MANAGE.
type PermissionLevel string

const (
	// PermissionRead allows viewing runs, metrics, and artifacts.
	PermissionRead PermissionLevel = "READ"

	// PermissionEdit adds logging and updating.
	PermissionEdit PermissionLevel = "EDIT"

	// PermissionManage adds permission administration and deletion.
	PermissionManage PermissionLevel = "MANAGE"
)

// Validate rejects levels the server does not understand.
func (l PermissionLevel) Validate() error {
	switch l {
	case PermissionRead, PermissionEdit, PermissionManage:
		return nil
	default:
		return fmt.Errorf("%w: permission level %q (want READ, EDIT, or MANAGE)", ErrInvalidInput, l)
	}
}

// PermissionGrant records one (resource, user) permission.
//
// Grants are unique per (resource, username); re-granting overwrites
// the level rather than accumulating entries.
type PermissionGrant struct {
	// ResourceKind is experiment or registered-model.
	ResourceKind ResourceKind `json:"resource_kind"`

	// ResourceID is the experiment ID or registered model name.
	ResourceID string `json:"resource_id"`

	// Username is the grantee.
	Username string `json:"username"`

	// Level is the granted access level.
	Level PermissionLevel `json:"permission"`
}
