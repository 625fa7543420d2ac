package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// TestEnvironment represents a test environment with a scratch directory
// for snapshots and config files.
type TestEnvironment struct {
	t       *testing.T
	ctx     context.Context
	cancel  context.CancelFunc
	tempDir string
	cleanup []func()
}

// NewTestEnvironment creates a new test environment. Cleanup is registered
// with t.
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	tempDir, err := os.MkdirTemp("", "strata-test-*")
	require.NoError(t, err)

	env := &TestEnvironment{
		t:       t,
		ctx:     ctx,
		cancel:  cancel,
		tempDir: tempDir,
	}

	// Add cleanup for temp directory
	env.AddCleanup(func() {
		os.RemoveAll(tempDir)
	})
	t.Cleanup(env.Cleanup)

	return env
}

// Context returns the test context
func (e *TestEnvironment) Context() context.Context {
	return e.ctx
}

// TempDir returns the temporary directory
func (e *TestEnvironment) TempDir() string {
	return e.tempDir
}

// Path returns name joined onto the temporary directory.
func (e *TestEnvironment) Path(name string) string {
	return filepath.Join(e.tempDir, name)
}

// WriteFile creates a file in the temporary directory and returns its path.
func (e *TestEnvironment) WriteFile(name string, content []byte) string {
	e.t.Helper()
	p := e.Path(name)
	require.NoError(e.t, os.WriteFile(p, content, 0o644))
	return p
}

// AddCleanup adds a cleanup function to be called during teardown
func (e *TestEnvironment) AddCleanup(fn func()) {
	e.cleanup = append(e.cleanup, fn)
}

// Cleanup runs all cleanup functions
func (e *TestEnvironment) Cleanup() {
	e.cancel()

	// Run cleanup in reverse order
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
	e.cleanup = nil
}
