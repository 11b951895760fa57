// Package pw implements page.Page on top of Playwright.
package pw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/config"
)

const playwrightInstallTimeout = 5 * time.Minute

// Browser owns the Playwright driver and one Chromium instance.
type Browser struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	pw      *playwright.Playwright
	browser playwright.Browser

	mu    sync.Mutex
	pages []*Page
}

// Launch installs Chromium when needed, starts the driver and launches the
// browser.
func Launch(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Browser, error) {
	b := &Browser{logger: logger.Named("playwright"), cfg: cfg}
	b.logger.Info("Initializing Playwright and launching browser")

	if err := b.ensureInstallation(ctx); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	browser, err := pw.Chromium.Launch(b.launchOptions())
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser instance: %w", err)
	}
	b.pw, b.browser = pw, browser
	b.logger.Info("Browser launched", zap.String("browser_version", browser.Version()))
	return b, nil
}

func (b *Browser) ensureInstallation(ctx context.Context) error {
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			errCh <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func (b *Browser) launchOptions() playwright.BrowserTypeLaunchOptions {
	args := []string{
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-blink-features=AutomationControlled",
		"--lang=cs-CZ",
	}
	return playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(b.cfg.Headless),
		Args:     append(args, b.cfg.Args...),
		Timeout:  playwright.Float(60000),
	}
}

func (b *Browser) contextOptions() playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(b.cfg.IgnoreTLSErrors),
		Locale:            playwright.String("cs-CZ"),
	}
	if w, h := b.cfg.Viewport["width"], b.cfg.Viewport["height"]; w > 0 && h > 0 {
		opts.Viewport = &playwright.Size{Width: w, Height: h}
	}
	if b.cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(b.cfg.UserAgent)
	}
	return opts
}

// NewPage opens a tab in a fresh browser context.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bctx, err := b.browser.NewContext(b.contextOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	pg, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	p := &Page{logger: b.logger, bctx: bctx, page: pg}
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

// Close closes every page, the browser and the driver.
func (b *Browser) Close() error {
	b.mu.Lock()
	pages := b.pages
	b.pages = nil
	b.mu.Unlock()
	for _, p := range pages {
		p.Close()
	}

	var shutdownErr error
	if err := b.browser.Close(); err != nil {
		b.logger.Error("Failed to close browser instance", zap.Error(err))
		shutdownErr = fmt.Errorf("failed to close browser: %w", err)
	}
	if err := b.pw.Stop(); err != nil {
		b.logger.Error("Failed to stop Playwright driver", zap.Error(err))
		if shutdownErr == nil {
			shutdownErr = fmt.Errorf("failed to stop playwright driver: %w", err)
		}
	}
	return shutdownErr
}
