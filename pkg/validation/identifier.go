// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// HTTP request paths, compose invocations, or subprocess calls. Using these
// validators prevents injection attacks (command injection, path traversal,
// request smuggling via crafted identifiers).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// usernamePattern matches tracking-server account names.
// Allows: letters, digits, dots, underscores, hyphens, @ and + so that
// email-style usernames work. Max length: 64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@+\-]{0,63}$`)

// serviceNamePattern matches compose service names.
// Allows: lowercase letters, digits, underscores, hyphens.
var serviceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidateUsername validates a tracking-server username before it is
// placed in a request path or query string.
//
// Valid usernames:
//   - 1-64 characters
//   - Start with a letter or digit
//   - Contain only letters, digits, and . _ @ + -
//
// Returns an error describing the violation if the username is invalid.
//
// Example:
//
//	if err := validation.ValidateUsername(name); err != nil {
//	    return fmt.Errorf("rejecting account name: %w", err)
//	}
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if len(username) > 64 {
		return fmt.Errorf("username too long (%d chars, max 64)", len(username))
	}
	if strings.ContainsAny(username, "/\\?#%") {
		return fmt.Errorf("username %q contains URL-reserved characters", username)
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("username %q contains invalid characters (allowed: letters, digits, . _ @ + -)", username)
	}
	return nil
}

// ValidateServiceName validates a compose service name before it is
// passed to the compose engine or used as a readiness DAG node.
func ValidateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if !serviceNamePattern.MatchString(name) {
		return fmt.Errorf("service name %q is invalid (allowed: lowercase letters, digits, _ -, max 63 chars)", name)
	}
	return nil
}
