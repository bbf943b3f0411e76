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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	forceBuild      bool
	skipPull        bool
	forceSecrets    bool
	deployTimeout   int // seconds
	validateWait    int // seconds
	stopVolumes     bool
	destroyForce    bool
	newUserPassword string
	permissionLevel string

	rootCmd = &cobra.Command{
		Use:   "mlopsctl",
		Short: "A cli to deploy and manage the MLflow + Langfuse MLOps stack",
		Long: `mlopsctl deploys a complete MLOps stack (MLflow tracking with
				basic auth, Langfuse observability, and their databases) on your
				own infrastructure, and manages tracking-server users and
				permissions.`,
	}

	// --- Stack Management ---
	stackCmd = &cobra.Command{
		Use:   "stack",
		Short: "Manage the local MLOps stack on your machine",
	}
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Provision secrets, start all services, and wait for readiness",
		Run:   runStart, // Defined in cmd_stack.go
	}
	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop all stack services, preserving data volumes",
		Run:   runStop, // Defined in cmd_stack.go
	}
	destroyCmd = &cobra.Command{
		Use:   "destroy",
		Short: "DANGER: Stops and deletes all stack containers AND data volumes",
		Run:   runDestroy, // Defined in cmd_stack.go
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the compose view of the stack services",
		Run:   runStatus, // Defined in cmd_stack.go
	}
	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Probe readiness of an already-running stack",
		Run:   runValidate, // Defined in cmd_stack.go
	}

	// --- Tracking Server Users ---
	usersCmd = &cobra.Command{
		Use:   "users",
		Short: "Manage MLflow tracking server user accounts",
	}
	userCreateCmd = &cobra.Command{
		Use:   "create [username]",
		Short: "Create a tracking server user (generates a password if none given)",
		Args:  cobra.ExactArgs(1),
		Run:   runUserCreate, // Defined in cmd_users.go
	}
	userGetCmd = &cobra.Command{
		Use:   "get [username]",
		Short: "Show a single tracking server user",
		Args:  cobra.ExactArgs(1),
		Run:   runUserGet, // Defined in cmd_users.go
	}
	userDeleteCmd = &cobra.Command{
		Use:   "delete [username]",
		Short: "Delete a tracking server user",
		Args:  cobra.ExactArgs(1),
		Run:   runUserDelete, // Defined in cmd_users.go
	}
	userListCmd = &cobra.Command{
		Use:   "list",
		Short: "List all tracking server users",
		Run:   runUserList, // Defined in cmd_users.go
	}
	userPasswordCmd = &cobra.Command{
		Use:   "change-password [username]",
		Short: "Set a new password for a tracking server user",
		Args:  cobra.ExactArgs(1),
		Run:   runUserChangePassword, // Defined in cmd_users.go
	}
	userPromoteCmd = &cobra.Command{
		Use:   "promote [username]",
		Short: "Grant tracking server admin rights to a user",
		Args:  cobra.ExactArgs(1),
		Run:   runUserPromote, // Defined in cmd_users.go
	}
	userDemoteCmd = &cobra.Command{
		Use:   "demote [username]",
		Short: "Revoke tracking server admin rights from a user",
		Args:  cobra.ExactArgs(1),
		Run:   runUserDemote, // Defined in cmd_users.go
	}

	// --- Tracking Server Permissions ---
	permissionsCmd = &cobra.Command{
		Use:   "permissions",
		Short: "Manage per-resource permissions on the tracking server",
	}
	grantExperimentCmd = &cobra.Command{
		Use:   "grant-experiment [experiment-id] [username]",
		Short: "Grant a user access to an experiment (re-grant updates the level)",
		Args:  cobra.ExactArgs(2),
		Run:   runGrantExperiment, // Defined in cmd_permissions.go
	}
	revokeExperimentCmd = &cobra.Command{
		Use:   "revoke-experiment [experiment-id] [username]",
		Short: "Remove a user's experiment permission",
		Args:  cobra.ExactArgs(2),
		Run:   runRevokeExperiment, // Defined in cmd_permissions.go
	}
	grantModelCmd = &cobra.Command{
		Use:   "grant-model [model-name] [username]",
		Short: "Grant a user access to a registered model (re-grant updates the level)",
		Args:  cobra.ExactArgs(2),
		Run:   runGrantModel, // Defined in cmd_permissions.go
	}
	revokeModelCmd = &cobra.Command{
		Use:   "revoke-model [model-name] [username]",
		Short: "Remove a user's registered-model permission",
		Args:  cobra.ExactArgs(2),
		Run:   runRevokeModel, // Defined in cmd_permissions.go
	}
)

// init runs when the Go program starts
func init() {
	// --- Stack Commands ---
	rootCmd.AddCommand(stackCmd)
	stackCmd.AddCommand(startCmd)
	stackCmd.AddCommand(stopCmd)
	stackCmd.AddCommand(destroyCmd)
	stackCmd.AddCommand(statusCmd)
	stackCmd.AddCommand(validateCmd)
	startCmd.Flags().BoolVar(&forceBuild, "build", false, "Force rebuild of container images")
	startCmd.Flags().BoolVar(&skipPull, "skip-pull", false, "Skip pulling image updates before starting")
	startCmd.Flags().BoolVar(&forceSecrets, "force-secrets", false,
		"Regenerate every managed secret, replacing existing values")
	startCmd.Flags().IntVar(&deployTimeout, "timeout", 300, "Readiness timeout in seconds")
	stopCmd.Flags().BoolVar(&stopVolumes, "volumes", false,
		"Also remove data volumes (equivalent to destroy without the prompt)")
	destroyCmd.Flags().BoolVar(&destroyForce, "force", false, "Skip the confirmation prompt")
	validateCmd.Flags().IntVar(&validateWait, "wait", 60, "Seconds to wait for services to become ready")

	// --- User Commands ---
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(userCreateCmd)
	usersCmd.AddCommand(userGetCmd)
	usersCmd.AddCommand(userDeleteCmd)
	usersCmd.AddCommand(userListCmd)
	usersCmd.AddCommand(userPasswordCmd)
	usersCmd.AddCommand(userPromoteCmd)
	usersCmd.AddCommand(userDemoteCmd)
	userCreateCmd.Flags().StringVar(&newUserPassword, "password", "",
		"Password for the new user (generated and printed when omitted)")
	userPasswordCmd.Flags().StringVar(&newUserPassword, "password", "",
		"New password (generated and printed when omitted)")

	// --- Permission Commands ---
	rootCmd.AddCommand(permissionsCmd)
	permissionsCmd.AddCommand(grantExperimentCmd)
	permissionsCmd.AddCommand(revokeExperimentCmd)
	permissionsCmd.AddCommand(grantModelCmd)
	permissionsCmd.AddCommand(revokeModelCmd)
	grantExperimentCmd.Flags().StringVar(&permissionLevel, "level", "READ",
		"Permission level: READ, EDIT, or MANAGE")
	grantModelCmd.Flags().StringVar(&permissionLevel, "level", "READ",
		"Permission level: READ, EDIT, or MANAGE")
}
