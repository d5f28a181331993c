// File: internal/driver/emulation.go
package driver

import (
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/approval-probe/internal/config"
)

// emulationTasks makes a fresh tab present the configured user agent, locale,
// timezone and language preferences. Unset values leave the browser defaults.
func emulationTasks(cfg config.BrowserConfig, logger *zap.Logger) chromedp.Tasks {
	var tasks chromedp.Tasks
	if cfg.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(cfg.UserAgent)
		if cfg.AcceptLanguage != "" {
			ua = ua.WithAcceptLanguage(cfg.AcceptLanguage)
		}
		tasks = append(tasks, ua)
	}
	if cfg.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(cfg.Timezone))
	}
	if cfg.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(cfg.Locale))
	}
	if cfg.AcceptLanguage != "" {
		// Extra headers only apply once the network domain is enabled.
		tasks = append(tasks,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": cfg.AcceptLanguage}))
	}

	if len(tasks) > 0 {
		logger.Debug("Applying tab emulation.",
			zap.String("locale", cfg.Locale),
			zap.String("timezone", cfg.Timezone),
			zap.String("accept_language", cfg.AcceptLanguage))
	}
	return tasks
}
