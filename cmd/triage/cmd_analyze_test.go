// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package triage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTriage/pkg/logging"
)

func resetAnalyzeFlags(t *testing.T) {
	t.Helper()
	analyzeFailureID = ""
	analyzeError = ""
	analyzeStackTrace = ""
	analyzeLogContext = ""
	analyzeTestName = ""
	analyzeInput = ""
	t.Cleanup(func() {
		analyzeFailureID = ""
		analyzeError = ""
		analyzeInput = ""
	})
}

func TestLoadFailure_FromFlags(t *testing.T) {
	resetAnalyzeFlags(t)
	analyzeError = "connection refused during setup"
	analyzeTestName = "TestPoolStartup"

	failure, err := loadFailure()
	require.NoError(t, err)

	assert.Equal(t, "connection refused during setup", failure.ErrorMessage)
	assert.Equal(t, "TestPoolStartup", failure.TestName)
	assert.NotEmpty(t, failure.ID, "missing id should be generated")
}

func TestLoadFailure_KeepsExplicitID(t *testing.T) {
	resetAnalyzeFlags(t)
	analyzeError = "boom"
	analyzeFailureID = "build-99"

	failure, err := loadFailure()
	require.NoError(t, err)
	assert.Equal(t, "build-99", failure.ID)
}

func TestLoadFailure_FromInputFile(t *testing.T) {
	resetAnalyzeFlags(t)
	path := filepath.Join(t.TempDir(), "failure.json")
	record := `{"failure_id":"build-7","error_message":"AssertionError: 401","test_name":"TestAuth"}`
	require.NoError(t, os.WriteFile(path, []byte(record), 0o644))
	analyzeInput = path

	failure, err := loadFailure()
	require.NoError(t, err)

	assert.Equal(t, "build-7", failure.ID)
	assert.Equal(t, "AssertionError: 401", failure.ErrorMessage)
	assert.Equal(t, "TestAuth", failure.TestName)
}

func TestLoadFailure_RequiresErrorMessage(t *testing.T) {
	resetAnalyzeFlags(t)
	_, err := loadFailure()
	assert.Error(t, err)
}

func TestLoadFailure_RejectsBadJSON(t *testing.T) {
	resetAnalyzeFlags(t)
	path := filepath.Join(t.TempDir(), "failure.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	analyzeInput = path

	_, err := loadFailure()
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logging.LevelDebug, parseLevel("debug"))
	assert.Equal(t, logging.LevelWarn, parseLevel("warn"))
	assert.Equal(t, logging.LevelError, parseLevel("error"))
	assert.Equal(t, logging.LevelInfo, parseLevel("info"))
	assert.Equal(t, logging.LevelInfo, parseLevel(""))
}
