// File: cmd/approval-probe/main_test.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

// captureExit replaces osExit and returns a pointer to the last recorded code.
func captureExit(t *testing.T) *int {
	t.Helper()
	code := -1
	osExit = func(c int) { code = c }
	t.Cleanup(resetMocks)
	return &code
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 0, exitCode(context.Canceled))
	assert.Equal(t, 0, exitCode(fmt.Errorf("run aborted: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 1, exitCode(context.DeadlineExceeded))
}

func TestHandlePanic(t *testing.T) {
	t.Run("WritesPanicLog", func(t *testing.T) {
		code := captureExit(t)
		var written string
		osWriteFile = func(name string, data []byte, perm os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = string(data)
			return nil
		}

		func() {
			defer handlePanic()
			panic("driver exploded")
		}()

		assert.Equal(t, 2, *code)
		assert.True(t, strings.HasPrefix(written, "panic: driver exploded"))
		assert.Contains(t, written, "goroutine")
	})

	t.Run("LogWriteFails", func(t *testing.T) {
		code := captureExit(t)
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }

		func() {
			defer handlePanic()
			panic("driver exploded")
		}()

		assert.Equal(t, 2, *code)
	})

	t.Run("NoPanic", func(t *testing.T) {
		code := captureExit(t)
		func() {
			defer handlePanic()
		}()
		assert.Equal(t, -1, *code)
	})
}

func TestMainUsesExecuteResult(t *testing.T) {
	code := captureExit(t)
	original := execute
	t.Cleanup(func() { execute = original })

	execute = func(ctx context.Context) error {
		require.NotNil(t, ctx)
		return errors.New("run aborted")
	}
	main()
	assert.Equal(t, 1, *code)

	execute = func(ctx context.Context) error { return nil }
	main()
	assert.Equal(t, 0, *code)
}
