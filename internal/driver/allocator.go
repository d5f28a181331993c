// File: internal/driver/allocator.go
package driver

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/approval-probe/internal/config"
)

// browserCandidates are probed on PATH when no executable is configured.
var browserCandidates = []string{
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"chrome",
}

// lookPath is swapped out in tests.
var lookPath = exec.LookPath

// FindBrowser returns the configured executable, or the first known Chromium
// binary found on PATH.
func FindBrowser(cfg config.BrowserConfig) (string, error) {
	if cfg.ExecPath != "" {
		path, err := lookPath(cfg.ExecPath)
		if err != nil {
			return "", newError(ErrDriverUnavailable, "find browser", err)
		}
		return path, nil
	}
	for _, name := range browserCandidates {
		if path, err := lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", newError(ErrDriverUnavailable, "find browser",
		fmt.Errorf("none of %s found on PATH", strings.Join(browserCandidates, ", ")))
}

// allocatorFlags collects the command line flags derived from the browser
// configuration. They are applied after chromedp's defaults, so a flag set here
// replaces the default of the same name; a false boolean drops the flag.
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":               cfg.Headless,
		"enable-automation":      false,
		"disable-gpu":            cfg.Headless,
		"disable-blink-features": "AutomationControlled",
		"disable-extensions":     true,
		"window-size":            fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight),
	}
	if cfg.UserAgent != "" {
		flags["user-agent"] = cfg.UserAgent
	}
	if cfg.NoSandbox {
		flags["no-sandbox"] = true
		flags["disable-setuid-sandbox"] = true
	}
	if cfg.DisableDevShm || runtime.GOOS == "linux" && cfg.NoSandbox {
		flags["disable-dev-shm-usage"] = true
	}

	// Custom arguments from the configuration file, e.g. "--lang=ja".
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(arg, "=")
		key = strings.TrimPrefix(key, "--")
		if key == "" {
			continue
		}
		if found {
			flags[key] = value
		} else {
			flags[key] = true
		}
	}
	return flags
}

// buildAllocatorOptions turns the browser configuration into exec allocator options.
func buildAllocatorOptions(cfg config.BrowserConfig, execPath string) []chromedp.ExecAllocatorOption {
	flags := allocatorFlags(cfg)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.ExecPath(execPath))
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}
	return opts
}

// launch starts an isolated browser process and confirms it can load about:blank
// within the launch timeout. The process outlives ctx; it ends when the
// returned page is closed.
func launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*cdpPage, error) {
	execPath, err := FindBrowser(cfg)
	if err != nil {
		return nil, err
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), buildAllocatorOptions(cfg, execPath)...)

	ctxOpts := []chromedp.ContextOption{chromedp.WithErrorf(logger.Sugar().Debugf)}
	if cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(logger.Sugar().Debugf))
	}
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, ctxOpts...)

	page := &cdpPage{tabCtx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}

	timeout := cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// The first Run on the tab context starts the browser, so it must not be
	// given a derived context or the process would die with it.
	started := make(chan error, 1)
	tasks := append(chromedp.Tasks{chromedp.Navigate("about:blank")}, emulationTasks(cfg, logger)...)
	go func() {
		started <- chromedp.Run(tabCtx, tasks)
	}()

	reaped := false
	select {
	case err = <-started:
		reaped = true
	case <-timer.C:
		err = fmt.Errorf("browser did not respond within %s", timeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		cancelTab()
		cancelAlloc()
		if !reaped {
			// chromedp.Run returns once the tab context is gone.
			<-started
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(ErrDriverUnavailable, "launch browser", err)
	}

	logger.Debug("Browser launched and responsive.", zap.String("exec_path", execPath))
	return page, nil
}
