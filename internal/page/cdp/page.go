package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/page"
	"github.com/xkilldash9x/tablebook/internal/page/pagejs"
)

// Page is a Chrome tab.
type Page struct {
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	current string
}

var _ page.Page = (*Page)(nil)

// Close closes the tab.
func (p *Page) Close() { p.cancel() }

// run executes actions on the tab, bounded by the caller's ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := page.CombineContext(p.ctx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Page) eval(ctx context.Context, script string, res any) error {
	err := p.run(ctx, chromedp.Evaluate(script, res))
	var exc *runtime.ExceptionDetails
	if errors.As(err, &exc) && strings.Contains(exc.Error(), "detached") {
		return page.ErrDetached
	}
	return err
}

func (p *Page) URL() string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err == nil && loc != "" {
		p.mu.Lock()
		p.current = loc
		p.mu.Unlock()
		return loc
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating", zap.String("url", url))
	if err := p.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	p.URL()
	return nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []page.Cookie) error {
	actions := make([]chromedp.Action, 0, len(cookies))
	for _, c := range cookies {
		params := network.SetCookie(c.Name, c.Value).
			WithDomain(c.Domain).
			WithPath(c.Path).
			WithSecure(c.Secure).
			WithHTTPOnly(c.HTTPOnly)
		if c.SameSite != "" {
			params = params.WithSameSite(network.CookieSameSite(c.SameSite))
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			params = params.WithExpires(&exp)
		}
		actions = append(actions, params)
	}
	if err := p.run(ctx, actions...); err != nil {
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
	for _, r := range text {
		if err := p.run(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return fmt.Errorf("failed to type: %w", err)
		}
		if err := page.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

var namedKeys = map[string]string{
	"enter":     kb.Enter,
	"tab":       kb.Tab,
	"escape":    kb.Escape,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"arrowdown": kb.ArrowDown,
	"arrowup":   kb.ArrowUp,
}

// PressKeys sends a chord like "Control+A" or "Enter".
func (p *Page) PressKeys(ctx context.Context, chord string) error {
	key, mods, err := parseChord(chord)
	if err != nil {
		return err
	}
	return p.run(ctx, chromedp.KeyEvent(key, chromedp.KeyModifiers(mods...)))
}

func parseChord(chord string) (string, []input.Modifier, error) {
	parts := strings.Split(chord, "+")
	var mods []input.Modifier
	for _, m := range parts[:len(parts)-1] {
		switch strings.ToLower(strings.TrimSpace(m)) {
		case "control", "ctrl":
			mods = append(mods, input.ModifierCtrl)
		case "shift":
			mods = append(mods, input.ModifierShift)
		case "alt":
			mods = append(mods, input.ModifierAlt)
		case "meta", "command":
			mods = append(mods, input.ModifierMeta)
		default:
			return "", nil, fmt.Errorf("unknown modifier %q in %q", m, chord)
		}
	}
	key := strings.TrimSpace(parts[len(parts)-1])
	if key == "" {
		return "", nil, fmt.Errorf("key chord %q names no key", chord)
	}
	if named, ok := namedKeys[strings.ToLower(key)]; ok {
		key = named
	} else if len(mods) > 0 {
		key = strings.ToLower(key)
	}
	return key, mods, nil
}

func (p *Page) Evaluate(ctx context.Context, script string) error {
	return p.run(ctx, chromedp.Evaluate(script, nil))
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return buf, nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
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
	if quiet <= 0 {
		return p.run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
	}
	var ok bool
	return p.run(ctx, chromedp.Evaluate(pagejs.Quiet(quiet.Milliseconds()), &ok,
		func(ep *runtime.EvaluateParams) *runtime.EvaluateParams { return ep.WithAwaitPromise(true) }))
}
