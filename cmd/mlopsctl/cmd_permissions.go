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
	"fmt"
	"log"
	"strings"

	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/mlflow"
	"github.com/spf13/cobra"
)

// parsePermissionLevel normalizes and validates the --level flag.
func parsePermissionLevel() mlflow.PermissionLevel {
	level := mlflow.PermissionLevel(strings.ToUpper(permissionLevel))
	if err := level.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	return level
}

func runGrantExperiment(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()
	ctx := context.Background()
	level := parsePermissionLevel()

	client, err := openAdminSession(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to open admin session: %v", err)
	}
	defer client.Logout()

	experimentID, username := args[0], args[1]
	if err := client.GrantExperimentPermission(ctx, experimentID, username, level); err != nil {
		log.Fatalf("Failed to grant experiment permission: %v", err)
	}
	fmt.Printf("Granted %s on experiment %s to %q.\n", level, experimentID, username)
}

func runRevokeExperiment(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()
	ctx := context.Background()

	client, err := openAdminSession(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to open admin session: %v", err)
	}
	defer client.Logout()

	experimentID, username := args[0], args[1]
	if err := client.RevokeExperimentPermission(ctx, experimentID, username); err != nil {
		log.Fatalf("Failed to revoke experiment permission: %v", err)
	}
	fmt.Printf("Revoked %q's access to experiment %s.\n", username, experimentID)
}

func runGrantModel(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()
	ctx := context.Background()
	level := parsePermissionLevel()

	client, err := openAdminSession(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to open admin session: %v", err)
	}
	defer client.Logout()

	modelName, username := args[0], args[1]
	if err := client.GrantModelPermission(ctx, modelName, username, level); err != nil {
		log.Fatalf("Failed to grant model permission: %v", err)
	}
	fmt.Printf("Granted %s on model %q to %q.\n", level, modelName, username)
}

func runRevokeModel(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()
	ctx := context.Background()

	client, err := openAdminSession(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to open admin session: %v", err)
	}
	defer client.Logout()

	modelName, username := args[0], args[1]
	if err := client.RevokeModelPermission(ctx, modelName, username); err != nil {
		log.Fatalf("Failed to revoke model permission: %v", err)
	}
	fmt.Printf("Revoked %q's access to model %q.\n", username, modelName)
}
