// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command triage analyzes failing test records. All behavior lives in
// cmd/triage; this is the module-root entry point.
package main

import (
	"os"

	"github.com/AleutianAI/AleutianTriage/cmd/triage"
)

func main() {
	if err := triage.Execute(); err != nil {
		os.Exit(1)
	}
}
