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
Package process provides an abstraction for external process execution.

All exec.Command calls in the stack management code go through the Manager
interface so unit tests can substitute MockManager and verify invocations
without running real processes.

	pm := process.NewDefaultManager()
	stdout, stderr, exit, err := pm.RunInDir(ctx, "", nil, "docker", "info")
	if err != nil {
	    return fmt.Errorf("docker daemon not reachable: %w (%s)", err, stderr)
	}

For testing, use MockManager:

	mock := &process.MockManager{
	    RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	        return "mock output", "", 0, nil
	    },
	}

# Thread Safety

Manager implementations are safe for concurrent use.
*/
package process
