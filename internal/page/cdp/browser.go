// Package cdp implements page.Page on top of a Chrome DevTools Protocol
// session driven by chromedp.
package cdp

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/config"
)

const launchCheckTimeout = 30 * time.Second

// Browser owns a Chrome process.
type Browser struct {
	logger          *zap.Logger
	cfg             config.BrowserConfig
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
}

// Launch starts Chrome and verifies that it responds.
func Launch(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Browser, error) {
	b := &Browser{logger: logger.Named("cdp"), cfg: cfg}

	b.allocatorCtx, b.allocatorCancel = chromedp.NewExecAllocator(context.Background(), b.allocatorOptions()...)

	testCtx, cancelTest := context.WithTimeout(b.allocatorCtx, launchCheckTimeout)
	defer cancelTest()
	testCtx, cancelTab := chromedp.NewContext(testCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTest)
	defer stop()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		b.allocatorCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}
	b.logger.Info("Browser launched", zap.Bool("headless", cfg.Headless))
	return b, nil
}

// allocatorOptions assembles the Chrome flags. The automation flag and the
// navigator.webdriver feature are turned off; some booking widgets refuse to
// render for automated sessions.
func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", b.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("lang", "cs-CZ"),
	)
	if w, h := b.cfg.Viewport["width"], b.cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}

	for _, arg := range b.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// NewPage opens a tab.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.allocatorCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return &Page{logger: b.logger, ctx: tabCtx, cancel: cancel, current: "about:blank"}, nil
}

// Close terminates the browser process.
func (b *Browser) Close() {
	b.allocatorCancel()
	b.logger.Debug("Browser closed")
}
