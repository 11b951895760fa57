package pw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/page"
	"github.com/xkilldash9x/tablebook/internal/page/pagejs"
)

// defaultTimeout bounds calls whose ctx has no deadline.
const defaultTimeout = 30 * time.Second

// Page is a Playwright page. Playwright calls are not context-aware; the
// ctx deadline is passed down as the call timeout.
type Page struct {
	logger *zap.Logger
	bctx   playwright.BrowserContext
	page   playwright.Page
}

var _ page.Page = (*Page)(nil)

// Close closes the page and its browser context.
func (p *Page) Close() {
	if err := p.bctx.Close(); err != nil {
		p.logger.Debug("Failed to close browser context", zap.Error(err))
	}
}

// timeout converts the remaining ctx budget to Playwright milliseconds.
func timeout(ctx context.Context) *float64 {
	d := defaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
		if d < time.Millisecond {
			d = time.Millisecond
		}
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func mapErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	if strings.Contains(err.Error(), "detached") {
		return page.ErrDetached
	}
	return err
}

func (p *Page) eval(ctx context.Context, script string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := p.page.Evaluate(script)
	if err != nil {
		return mapErr(ctx, err)
	}
	if out == nil {
		return nil
	}
	return pagejs.Decode(v, out)
}

func (p *Page) URL() string { return p.page.URL() }

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating", zap.String("url", url))
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   timeout(ctx),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, mapErr(ctx, err))
	}
	return nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []page.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     playwright.String(c.Path),
			Secure:   playwright.Bool(c.Secure),
			HttpOnly: playwright.Bool(c.HTTPOnly),
		}
		if c.Domain != "" {
			oc.Domain = playwright.String(c.Domain)
		}
		if c.Path == "" {
			oc.Path = playwright.String("/")
		}
		if c.SameSite != "" {
			ss := playwright.SameSiteAttribute(c.SameSite)
			oc.SameSite = &ss
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		out = append(out, oc)
	}
	if err := p.bctx.AddCookies(out); err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

func (p *Page) Find(ctx context.Context, xpath string) ([]page.Element, error) {
	return p.find(ctx, xpath, "")
}

func (p *Page) find(ctx context.Context, xpath, ref string) ([]page.Element, error) {
	var infos []pagejs.NodeInfo
	if err := p.eval(ctx, pagejs.Find(xpath, ref), &infos); err != nil {
		return nil, fmt.Errorf("xpath %q: %w", xpath, err)
	}
	out := make([]page.Element, len(infos))
	for i, info := range infos {
		out[i] = &Element{p: p, info: info}
	}
	return out, nil
}

func (p *Page) TypeText(ctx context.Context, text string, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.page.Keyboard().Type(text, playwright.KeyboardTypeOptions{
		Delay: playwright.Float(float64(delay.Milliseconds())),
	})
	return mapErr(ctx, err)
}

// PressKeys passes the chord through; Playwright understands "Control+A".
func (p *Page) PressKeys(ctx context.Context, chord string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(ctx, p.page.Keyboard().Press(chord))
}

func (p *Page) Evaluate(ctx context.Context, script string) error {
	return p.eval(ctx, script, nil)
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	buf, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Timeout:  timeout(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", mapErr(ctx, err))
	}
	return buf, nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (p *Page) BodyText(ctx context.Context) (string, error) {
	var text string
	if err := p.eval(ctx, pagejs.BodyText, &text); err != nil {
		return "", err
	}
	return text, nil
}

func (p *Page) WaitStable(ctx context.Context, quiet time.Duration) error {
	err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: timeout(ctx),
	})
	if err != nil {
		return mapErr(ctx, err)
	}
	if quiet <= 0 {
		return nil
	}
	return p.eval(ctx, pagejs.Quiet(quiet.Milliseconds()), nil)
}
