// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/config"
	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/mlflow"
	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/secrets"
	"github.com/AleutianAI/mlopsctl/pkg/logging"
	"github.com/spf13/cobra"
)

// generatedPasswordLength matches the length used for provisioned
// database passwords.
const generatedPasswordLength = 20

// openAdminSession builds a tracking client and authenticates with the
// configured admin credentials. The caller must Logout.
func openAdminSession(ctx context.Context, logger *logging.Logger) (*mlflow.Client, error) {
	cfg := config.Global
	if err := cfg.RequireAdminCredentials(); err != nil {
		return nil, err
	}

	client := mlflow.NewClient(cfg.Tracking.URI, nil, logger)
	if err := client.Authenticate(ctx, cfg.Tracking.AdminUsername, cfg.Tracking.AdminPassword); err != nil {
		if errors.Is(err, mlflow.ErrServiceUnreachable) {
			return nil, fmt.Errorf("tracking server not reachable at %s, is the stack running? (%v)",
				cfg.Tracking.URI, err)
		}
		return nil, err
	}
	return client, nil
}

// resolvePassword returns the --password flag value, generating and
// announcing one when the flag was omitted.
func resolvePassword() (string, error) {
	if newUserPassword != "" {
		return newUserPassword, nil
	}
	password, err := secrets.GeneratePassword(generatedPasswordLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate a password: %w", err)
	}
	fmt.Printf("Generated password: %s\n", password)
	fmt.Println("   Store it now; it is not persisted anywhere.")
	return password, nil
}

func runUserCreate(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()
	ctx := context.Background()

	client, err := openAdminSession(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to open admin session: %v", err)
	}
	defer client.Logout()

	username := args[0]
	password, err := resolvePassword()
	if err != nil {
		log.Fatalf("%v", err)
	}

	principal, err := client.CreateUser(ctx, username, password)
	if err != nil {
		if errors.Is(err, mlflow.ErrConflict) {
			log.Fatalf("User %q already exists. Use 'users change-password' to rotate their password.", username)
		}
		log.Fatalf("Failed to create user: %v", err)
	}
	fmt.Printf("User %q created (id %d).\n", principal.Username, principal.ID)
}

func runUserGet(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()
	ctx := context.Background()

	client, err := openAdminSession(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to open admin session: %v", err)
	}
	defer client.Logout()

	username := args[0]
	principal, err := client.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, mlflow.ErrNotFound) {
			log.Fatalf("User %q does not exist.", username)
		}
		log.Fatalf("Failed to get user: %v", err)
	}
	fmt.Printf("%-6s %-30s %s\n", "ID", "USERNAME", "ADMIN")
	fmt.Printf("%-6d %-30s %t\n", principal.ID, principal.Username, principal.IsAdmin)
}

func runUserDelete(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()
	ctx := context.Background()

	client, err := openAdminSession(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to open admin session: %v", err)
	}
	defer client.Logout()

	username := args[0]
	if err := client.DeleteUser(ctx, username); err != nil {
		if errors.Is(err, mlflow.ErrNotFound) {
			log.Fatalf("User %q does not exist.", username)
		}
		log.Fatalf("Failed to delete user: %v", err)
	}
	fmt.Printf("User %q deleted.\n", username)
}

func runUserList(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()
	ctx := context.Background()

	client, err := openAdminSession(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to open admin session: %v", err)
	}
	defer client.Logout()

	users, err := client.ListUsers(ctx)
	if err != nil {
		log.Fatalf("Failed to list users: %v", err)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	fmt.Printf("%-6s %-30s %s\n", "ID", "USERNAME", "ADMIN")
	for _, u := range users {
		fmt.Printf("%-6d %-30s %t\n", u.ID, u.Username, u.IsAdmin)
	}
}

func runUserChangePassword(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()
	ctx := context.Background()

	client, err := openAdminSession(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to open admin session: %v", err)
	}
	defer client.Logout()

	username := args[0]
	password, err := resolvePassword()
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := client.UpdatePassword(ctx, username, password); err != nil {
		log.Fatalf("Failed to change password: %v", err)
	}
	fmt.Printf("Password updated for %q.\n", username)
}

func runUserPromote(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()
	ctx := context.Background()

	client, err := openAdminSession(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to open admin session: %v", err)
	}
	defer client.Logout()

	username := args[0]
	if err := client.PromoteUser(ctx, username); err != nil {
		log.Fatalf("Failed to promote user: %v", err)
	}
	fmt.Printf("User %q is now a tracking server admin.\n", username)
}

func runUserDemote(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()
	ctx := context.Background()

	client, err := openAdminSession(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to open admin session: %v", err)
	}
	defer client.Logout()

	username := args[0]
	if err := client.DemoteUser(ctx, username); err != nil {
		log.Fatalf("Failed to demote user: %v", err)
	}
	fmt.Printf("User %q is no longer a tracking server admin.\n", username)
}
