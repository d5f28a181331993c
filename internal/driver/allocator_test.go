// File: internal/driver/allocator_test.go
package driver

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/approval-probe/internal/config"
)

func stubLookPath(t *testing.T, found map[string]string) {
	t.Helper()
	original := lookPath
	lookPath = func(name string) (string, error) {
		if path, ok := found[name]; ok {
			return path, nil
		}
		return "", exec.ErrNotFound
	}
	t.Cleanup(func() { lookPath = original })
}

func TestFindBrowser(t *testing.T) {
	t.Run("prefers the configured executable", func(t *testing.T) {
		stubLookPath(t, map[string]string{"/opt/chrome": "/opt/chrome", "chromium": "/usr/bin/chromium"})
		path, err := FindBrowser(config.BrowserConfig{ExecPath: "/opt/chrome"})
		require.NoError(t, err)
		assert.Equal(t, "/opt/chrome", path)
	})

	t.Run("falls back to known binaries", func(t *testing.T) {
		stubLookPath(t, map[string]string{"google-chrome": "/usr/bin/google-chrome"})
		path, err := FindBrowser(config.BrowserConfig{})
		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/google-chrome", path)
	})

	t.Run("reports an unavailable driver", func(t *testing.T) {
		stubLookPath(t, nil)
		_, err := FindBrowser(config.BrowserConfig{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDriverUnavailable))

		_, err = FindBrowser(config.BrowserConfig{ExecPath: "/missing/chrome"})
		assert.True(t, errors.Is(err, ErrDriverUnavailable))
		assert.True(t, errors.Is(err, exec.ErrNotFound))
	})
}

func TestAcquireWithoutBrowser(t *testing.T) {
	stubLookPath(t, nil)
	cfg := config.NewDefaultConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Acquire(ctx, cfg.Browser, cfg.Target, cfg.Waits, zaptest.NewLogger(t))
	assert.Nil(t, s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDriverUnavailable))
}

func TestBuildAllocatorOptions(t *testing.T) {
	base := config.NewDefaultConfig().Browser
	withArgs := base
	withArgs.Args = []string{"--lang=ja", "--mute-audio", "--"}
	withArgs.UserAgent = "probe/1.0"

	// Each custom argument and the user agent contributes one option; the malformed "--" is dropped.
	assert.Len(t, buildAllocatorOptions(withArgs, "/usr/bin/chromium"), len(buildAllocatorOptions(base, "/usr/bin/chromium"))+3)
}

func TestAllocatorFlags(t *testing.T) {
	t.Run("headless follows configuration", func(t *testing.T) {
		for _, headless := range []bool{true, false} {
			cfg := config.NewDefaultConfig().Browser
			cfg.Headless = headless
			flags := allocatorFlags(cfg)
			assert.Equal(t, headless, flags["headless"])
			assert.Equal(t, headless, flags["disable-gpu"])
			assert.Equal(t, false, flags["enable-automation"])
		}
	})

	t.Run("custom arguments override derived flags", func(t *testing.T) {
		cfg := config.NewDefaultConfig().Browser
		cfg.WindowWidth, cfg.WindowHeight = 1280, 800
		cfg.UserAgent = "probe/1.0"
		cfg.Args = []string{"--lang=ja", "mute-audio", "--window-size=800,600", "--"}

		flags := allocatorFlags(cfg)
		assert.Equal(t, "ja", flags["lang"])
		assert.Equal(t, true, flags["mute-audio"])
		assert.Equal(t, "800,600", flags["window-size"])
		assert.Equal(t, "probe/1.0", flags["user-agent"])
		assert.NotContains(t, flags, "")
	})

	t.Run("sandbox is only disabled on request", func(t *testing.T) {
		cfg := config.NewDefaultConfig().Browser
		cfg.NoSandbox = false
		assert.NotContains(t, allocatorFlags(cfg), "no-sandbox")

		cfg.NoSandbox = true
		flags := allocatorFlags(cfg)
		assert.Equal(t, true, flags["no-sandbox"])
		assert.Equal(t, true, flags["disable-setuid-sandbox"])
	})
}

func TestEmulationTasks(t *testing.T) {
	logger := zaptest.NewLogger(t)
	base := config.NewDefaultConfig().Browser
	assert.Empty(t, emulationTasks(base, logger))

	tests := []struct {
		name  string
		tweak func(*config.BrowserConfig)
		want  int
	}{
		{"UserAgent", func(c *config.BrowserConfig) { c.UserAgent = "probe/1.0" }, 1},
		{"Timezone", func(c *config.BrowserConfig) { c.Timezone = "Asia/Tokyo" }, 1},
		{"Locale", func(c *config.BrowserConfig) { c.Locale = "ja-JP" }, 1},
		{"AcceptLanguage", func(c *config.BrowserConfig) { c.AcceptLanguage = "ja,en;q=0.8" }, 2},
		{"Everything", func(c *config.BrowserConfig) {
			c.UserAgent, c.Timezone, c.Locale, c.AcceptLanguage = "probe/1.0", "Asia/Tokyo", "ja-JP", "ja"
		}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.tweak(&cfg)
			assert.Len(t, emulationTasks(cfg, logger), tt.want)
		})
	}

	t.Run("network is enabled before extra headers", func(t *testing.T) {
		cfg := base
		cfg.AcceptLanguage = "ja"
		tasks := emulationTasks(cfg, logger)
		require.Len(t, tasks, 2)
		assert.IsType(t, &network.EnableParams{}, tasks[0])
		assert.IsType(t, &network.SetExtraHTTPHeadersParams{}, tasks[1])
	})
}

func TestCombineContext(t *testing.T) {
	t.Run("secondary cancellation ends the combined context", func(t *testing.T) {
		secondary, cancelSecondary := context.WithCancel(context.Background())
		ctx, cancel := combineContext(context.Background(), secondary)
		defer cancel()

		cancelSecondary()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context was not canceled")
		}
	})

	t.Run("secondary deadline is inherited", func(t *testing.T) {
		secondary, cancelSecondary := context.WithTimeout(context.Background(), time.Minute)
		defer cancelSecondary()
		ctx, cancel := combineContext(context.Background(), secondary)
		defer cancel()

		want, _ := secondary.Deadline()
		got, ok := ctx.Deadline()
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("values come from the primary", func(t *testing.T) {
		type key struct{}
		primary := context.WithValue(context.Background(), key{}, "cdp")
		ctx, cancel := combineContext(primary, context.Background())
		defer cancel()
		assert.Equal(t, "cdp", ctx.Value(key{}))
	})
}
