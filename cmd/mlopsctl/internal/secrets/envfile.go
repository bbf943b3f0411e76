// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ErrEnvFileMissing is returned when the env file does not exist.
var ErrEnvFileMissing = errors.New("env file not found")

// envKeyRegex validates env-file key names.
// Keys must start with a letter or underscore and contain only
// alphanumerics and underscores. This prevents writing malformed lines
// that the compose engine would misparse.
var envKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EnvFile is a line-oriented store of NAME=value pairs.
//
// # Description
//
// EnvFile reads a dotenv-style file into memory, supports targeted
// single-key updates, and writes the file back preserving every line
// it did not change: comments, blank lines, unrelated keys, and their
// original order all survive a Set/Save round trip.
//
// # Thread Safety
//
// EnvFile is NOT safe for concurrent use. The CLI provisions secrets
// from a single goroutine.
type EnvFile struct {
	path  string
	lines []string
}

// LoadEnvFile reads an env file into memory.
//
// # Outputs
//
//   - *EnvFile: The loaded store
//   - error: ErrEnvFileMissing if the file does not exist
func LoadEnvFile(path string) (*EnvFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrEnvFileMissing, path)
		}
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	return &EnvFile{
		path:  path,
		lines: splitLines(string(data)),
	}, nil
}

// NewEnvFile creates an empty in-memory store that will save to path.
func NewEnvFile(path string) *EnvFile {
	return &EnvFile{path: path}
}

// Path returns the file path the store saves to.
func (f *EnvFile) Path() string {
	return f.path
}

// Get returns the value for key and whether the key exists.
//
// When a key appears multiple times the last occurrence wins, matching
// how compose engines read dotenv files.
func (f *EnvFile) Get(key string) (string, bool) {
	value, found := "", false
	for _, line := range f.lines {
		if k, v, ok := parseAssignment(line); ok && k == key {
			value, found = v, true
		}
	}
	return value, found
}

// Keys returns all assigned keys in file order.
func (f *EnvFile) Keys() []string {
	var keys []string
	seen := map[string]bool{}
	for _, line := range f.lines {
		if k, _, ok := parseAssignment(line); ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	return keys
}

// Set updates the named key in place, or appends it if absent.
//
// # Description
//
// Rewrites only the line carrying the key. Every other line, including
// comments and blank separators, is left byte-for-byte intact. If the
// key appears multiple times all occurrences are updated so the file
// cannot disagree with itself.
//
// # Inputs
//
//   - key: Env key (validated against [a-zA-Z_][a-zA-Z0-9_]*)
//   - value: New value, written verbatim after the '='
//
// # Outputs
//
//   - error: If the key name is invalid
func (f *EnvFile) Set(key, value string) error {
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid env key %q", key)
	}

	replaced := false
	for i, line := range f.lines {
		if k, _, ok := parseAssignment(line); ok && k == key {
			f.lines[i] = key + "=" + value
			replaced = true
		}
	}
	if !replaced {
		f.lines = append(f.lines, key+"="+value)
	}
	return nil
}

// Save writes the store back to disk with owner-only permissions.
func (f *EnvFile) Save() error {
	content := strings.Join(f.lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(f.path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write env file: %w", err)
	}
	return nil
}

// parseAssignment splits a line into key and value.
// Returns ok=false for comments, blank lines, and non-assignments.
func parseAssignment(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	idx := strings.Index(trimmed, "=")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(trimmed[:idx])
	if !envKeyRegex.MatchString(key) {
		return "", "", false
	}
	return key, trimmed[idx+1:], true
}

// splitLines splits file content into lines without a trailing phantom
// line for files ending in a newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}
