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
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/deploy"
	"github.com/AleutianAI/mlopsctl/cmd/mlopsctl/internal/readiness"
	"github.com/spf13/cobra"
)

func runStart(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()

	orchestrator, err := newOrchestrator(logger)
	if err != nil {
		log.Fatalf("Failed to initialize the stack: %v", err)
	}

	result, err := orchestrator.Deploy(context.Background(), deploy.DeployOptions{
		Build:        forceBuild,
		Pull:         !skipPull,
		ForceSecrets: forceSecrets,
		Timeout:      readinessTimeout(cmd.Flags().Changed("timeout"), deployTimeout),
	})
	if err != nil {
		log.Fatalf("Deployment failed: %v", err)
	}

	if !result.Success {
		fmt.Println("\nSome services did not become healthy. " +
			"Run 'mlopsctl stack validate' after investigating, or check container logs.")
		os.Exit(1)
	}

	fmt.Println("\nMLOps stack started.")
	fmt.Println("   MLflow:   http://localhost:5000")
	fmt.Println("   Langfuse: http://localhost:3000")
}

func runStop(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()

	orchestrator, err := newOrchestrator(logger)
	if err != nil {
		log.Fatalf("Failed to initialize the stack: %v", err)
	}

	if stopVolumes {
		if err := orchestrator.Destroy(context.Background()); err != nil {
			log.Fatalf("Failed to stop services and remove volumes: %v", err)
		}
		fmt.Println("\nMLOps stack stopped and data volumes removed.")
		return
	}

	if err := orchestrator.Stop(context.Background()); err != nil {
		log.Fatalf("Failed to stop services: %v", err)
	}
	fmt.Println("\nMLOps stack stopped. Data volumes are preserved.")
}

func runDestroy(cmd *cobra.Command, args []string) {
	if !destroyForce {
		fmt.Println("WARNING: You are about to permanently delete all stack containers" +
			" AND their data volumes: every MLflow experiment, run, model, user account," +
			" and Langfuse trace. If you need this data, cancel and back it up first.")
		fmt.Print("Are you sure you want to continue? (yes/no): ")
		reader := bufio.NewReader(os.Stdin)
		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(strings.ToLower(input))

		if input != "yes" && input != "y" {
			fmt.Println("Aborted. No changes were made")
			return
		}
	}

	logger := buildLogger()
	defer logger.Close()

	orchestrator, err := newOrchestrator(logger)
	if err != nil {
		log.Fatalf("Failed to initialize the stack: %v", err)
	}

	if err := orchestrator.Destroy(context.Background()); err != nil {
		log.Fatalf("Failed to destroy services and volumes: %v", err)
	}
	fmt.Println("\nMLOps stack and all data destroyed.")
}

func runStatus(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()

	orchestrator, err := newOrchestrator(logger)
	if err != nil {
		log.Fatalf("Failed to initialize the stack: %v", err)
	}

	status, err := orchestrator.Status(context.Background())
	if err != nil {
		log.Fatalf("Failed to query stack status: %v", err)
	}

	if len(status.Services) == 0 {
		fmt.Println("No stack services are running.")
	} else {
		fmt.Printf("%-25s %s\n", "SERVICE", "STATE")
		for _, svc := range status.Services {
			fmt.Printf("%-25s %s\n", svc.Name, svc.State)
		}
	}

	// Cross-check the compose file against the running set. The compose
	// file is absent before the first start; skip the check then.
	missing, err := orchestrator.MissingServices(context.Background())
	if err != nil {
		return
	}
	if len(missing) > 0 {
		fmt.Printf("\nDeclared but not running: %s\n", strings.Join(missing, ", "))
	}
}

func runValidate(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer logger.Close()

	orchestrator, err := newOrchestrator(logger)
	if err != nil {
		log.Fatalf("Failed to initialize the stack: %v", err)
	}

	result, err := orchestrator.Validate(context.Background(),
		time.Duration(validateWait)*time.Second)
	if err != nil {
		log.Fatalf("Validation failed to run: %v", err)
	}

	printValidationReport(result)
	if !result.Success {
		os.Exit(1)
	}
}

// printValidationReport writes the per-service readiness table.
func printValidationReport(result *readiness.DeploymentResult) {
	fmt.Printf("Deployment check %s\n", result.DeploymentID)
	fmt.Printf("%-25s %-10s %-9s %s\n", "SERVICE", "STATE", "ATTEMPTS", "DETAIL")
	for _, svc := range result.Services {
		detail := svc.Message
		if svc.State == readiness.StateHealthy {
			detail = ""
		}
		fmt.Printf("%-25s %-10s %-9d %s\n", svc.Name, svc.State, svc.Attempts, detail)
	}

	healthy := result.Healthy()
	if result.Success {
		fmt.Printf("\nAll %d services healthy.\n", len(result.Services))
	} else {
		fmt.Printf("\n%d/%d services healthy.\n", healthy, len(result.Services))
	}
}
