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

import "errors"

// -----------------------------------------------------------------------------
// Error Sentinel Values
// -----------------------------------------------------------------------------

// ErrNotAuthenticated is returned when a mutating operation is called
// before Authenticate, or after Logout.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrUnauthorized is returned for HTTP 401/403: the session's
// credentials were rejected or lack admin rights.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNotFound is returned when the target user, resource, or grant
// does not exist (HTTP 404 or RESOURCE_DOES_NOT_EXIST).
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when creating something that already exists
// (HTTP 409 or RESOURCE_ALREADY_EXISTS).
var ErrConflict = errors.New("already exists")

// ErrServiceUnreachable is returned when the tracking server cannot be
// reached at the transport level. The client never retries; callers
// decide whether to re-run the operation.
var ErrServiceUnreachable = errors.New("tracking server unreachable")

// ErrInvalidInput is returned for client-side validation failures
// (empty username, unknown permission level).
var ErrInvalidInput = errors.New("invalid input")
