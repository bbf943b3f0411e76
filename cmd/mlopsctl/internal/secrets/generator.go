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
Package secrets provisions credentials for the MLOps stack.

The package generates cryptographically strong secrets and writes them
into a `.env`-style configuration store with targeted, line-level
updates that preserve comments, ordering, and unrelated keys.

# Security Context

This is a CRITICAL-RISK component because it creates the credentials
(database passwords, MinIO keys, NextAuth secrets, salts) that every
service in the stack authenticates with. Generated values are never
logged; only key names appear in logs and results.

# Idempotency

Provisioning is idempotent by default: a key whose current value is
non-empty and not a known placeholder is left untouched. Passing
force regenerates everything, which invalidates credentials already
held by running services.
*/
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Error Sentinel Values
// -----------------------------------------------------------------------------

// ErrGeneration is returned when the secure random source fails.
// Callers must treat this as fatal; no fallback value is produced.
var ErrGeneration = errors.New("secret generation failed")

// ErrInvalidSpec is returned when a SecretSpec is malformed.
var ErrInvalidSpec = errors.New("invalid secret spec")

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Encoding selects the output alphabet for a generated secret.
type Encoding string

const (
	// EncodingBase64 produces URL-safe base64 without padding.
	// Suitable for tokens and NextAuth-style secrets.
	EncodingBase64 Encoding = "base64"

	// EncodingHex produces lowercase hex.
	// A spec with ByteLen N yields exactly 2*N characters, which makes
	// hex the right choice for fixed-length keys and salts.
	EncodingHex Encoding = "hex"
)

// SecretSpec describes one secret to generate.
type SecretSpec struct {
	// Name is the env-file key the secret is stored under.
	Name string

	// ByteLen is the number of random bytes to draw.
	ByteLen int

	// Encoding determines the output alphabet.
	Encoding Encoding
}

// -----------------------------------------------------------------------------
// Generation
// -----------------------------------------------------------------------------

// passwordAlphabet holds characters used for generated passwords.
// Letters and digits only so values survive shell quoting and URL embedding.
const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generate produces a secret according to the spec.
//
// # Description
//
// Draws spec.ByteLen bytes from crypto/rand and encodes them per
// spec.Encoding. Hex output is checked post-encode: a spec with
// ByteLen N must yield exactly 2*N characters, and any violation is
// an error, never a truncated or padded value.
//
// # Inputs
//
//   - spec: The secret to generate (Name, ByteLen, Encoding)
//
// # Outputs
//
//   - string: The encoded secret
//   - error: ErrInvalidSpec for bad specs, ErrGeneration if the random
//     source fails or the length contract is violated
//
// # Examples
//
//	key, err := secrets.Generate(secrets.SecretSpec{
//	    Name: "MLFLOW_FLASK_SECRET_KEY", ByteLen: 32, Encoding: secrets.EncodingHex,
//	})
//	// len(key) == 64
func Generate(spec SecretSpec) (string, error) {
	if spec.ByteLen <= 0 {
		return "", fmt.Errorf("%w: %s: ByteLen must be positive", ErrInvalidSpec, spec.Name)
	}
	switch spec.Encoding {
	case EncodingBase64, EncodingHex:
	default:
		return "", fmt.Errorf("%w: %s: unknown encoding %q", ErrInvalidSpec, spec.Name, spec.Encoding)
	}

	buf := make([]byte, spec.ByteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrGeneration, spec.Name, err)
	}

	switch spec.Encoding {
	case EncodingHex:
		out := hex.EncodeToString(buf)
		if len(out) != 2*spec.ByteLen {
			return "", fmt.Errorf("%w: %s: hex length %d, contract requires %d",
				ErrGeneration, spec.Name, len(out), 2*spec.ByteLen)
		}
		return out, nil
	default:
		return base64.RawURLEncoding.EncodeToString(buf), nil
	}
}

// GeneratePassword produces a random alphanumeric password.
//
// # Description
//
// Draws each character uniformly from [a-zA-Z0-9] using crypto/rand.
// Used for database and admin account passwords where symbol characters
// cause quoting trouble in connection strings.
//
// # Inputs
//
//   - length: Number of characters (must be positive)
//
// # Outputs
//
//   - string: The password
//   - error: ErrInvalidSpec for non-positive length, ErrGeneration on
//     random source failure
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("%w: password length must be positive", ErrInvalidSpec)
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	out := make([]byte, length)
	for i, b := range buf {
		out[i] = passwordAlphabet[int(b)%len(passwordAlphabet)]
	}
	return string(out), nil
}
