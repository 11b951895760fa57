// Package memdom is a pure-Go page backend: documents are fetched over HTTP,
// parsed with golang.org/x/net/html and queried with htmlquery. It has no
// script engine, so dynamic widgets are simulated with click handlers that
// mutate the document. It backs offline replay of captured markup and the
// end-to-end tests of the form engine.
package memdom

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/tablebook/internal/page"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// ClickHandler runs when an element matched by its registered XPath is
// clicked. Handlers are called without any lock held and typically use
// Page.Mutate to change the document.
type ClickHandler func(ctx context.Context, p *Page, target *html.Node) error

type clickHook struct {
	xpath   string
	handler ClickHandler
}

// Page implements page.Page on an in-memory DOM.
type Page struct {
	logger    *zap.Logger
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter

	mu         sync.RWMutex
	currentURL *url.URL
	doc        *html.Node
	focused    *html.Node
	selectAll  bool
	hooks      []clickHook
}

var _ page.Page = (*Page)(nil)

// Option configures a Page.
type Option func(*Page)

// WithHTTPClient replaces the HTTP client. Its redirect policy is overridden
// because redirects are followed manually.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Page) { p.client = c }
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(p *Page) { p.userAgent = ua }
}

// WithRateLimit caps outgoing requests at rps per second with the given
// burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Page) { p.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New creates an empty page with its own cookie jar.
func New(logger *zap.Logger, opts ...Option) (*Page, error) {
	p := &Page{
		logger:    logger.Named("memdom"),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 30 * time.Second}
	}
	if p.client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		p.client.Jar = jar
	}
	p.client.Transport = newDecompressingTransport(p.client.Transport)
	p.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return p, nil
}

// LoadHTML replaces the current document with markup, as if it had been
// served from rawURL.
func (p *Page) LoadHTML(rawURL, markup string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid document URL '%s': %w", rawURL, err)
	}
	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("failed to parse markup: %w", err)
	}
	p.updateState(u, doc)
	return nil
}

// OnClick registers a handler for clicks on elements matching xpath.
func (p *Page) OnClick(xpath string, h ClickHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, clickHook{xpath: xpath, handler: h})
}

// Mutate runs fn with exclusive access to the document.
func (p *Page) Mutate(fn func(doc *html.Node) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return fmt.Errorf("no document loaded")
	}
	return fn(p.doc)
}

// FocusNode moves keyboard focus to n, as a script handling a click would.
// It must not be called from inside Mutate.
func (p *Page) FocusNode(n *html.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.focused = n
	p.selectAll = false
}

// -- Navigation --

func (p *Page) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.currentURL != nil {
		return p.currentURL.String()
	}
	return ""
}

// Navigate loads targetURL, following redirects, and replaces the document.
func (p *Page) Navigate(ctx context.Context, targetURL string) error {
	resolvedURL, err := p.resolveURL(targetURL)
	if err != nil {
		return fmt.Errorf("failed to resolve URL '%s': %w", targetURL, err)
	}

	p.logger.Debug("Navigating", zap.String("url", resolvedURL.String()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolvedURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request for '%s': %w", resolvedURL.String(), err)
	}
	p.prepareRequestHeaders(req)
	return p.executeRequest(ctx, req)
}

func (p *Page) executeRequest(ctx context.Context, req *http.Request) error {
	const maxRedirects = 10
	currentReq := req

	for i := 0; i < maxRedirects; i++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("request throttled: %w", err)
			}
		}
		resp, err := p.client.Do(currentReq)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			nextReq, err := p.handleRedirect(ctx, resp, currentReq)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("failed to handle redirect: %w", err)
			}
			currentReq = nextReq
			continue
		}

		return p.processResponse(resp)
	}

	return fmt.Errorf("maximum number of redirects (%d) exceeded", maxRedirects)
}

func (p *Page) handleRedirect(ctx context.Context, resp *http.Response, originalReq *http.Request) (*http.Request, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("redirect response missing Location header")
	}
	nextURL, err := originalReq.URL.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redirect Location '%s': %w", location, err)
	}

	method := originalReq.Method
	var body io.ReadCloser
	switch resp.StatusCode {
	case http.StatusSeeOther, http.StatusFound, http.StatusMovedPermanently:
		if method != http.MethodHead {
			method = http.MethodGet
		}
	default:
		if originalReq.GetBody != nil {
			if body, err = originalReq.GetBody(); err != nil {
				return nil, fmt.Errorf("failed to get body for redirect reuse: %w", err)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, nextURL.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", originalReq.Header.Get("Content-Type"))
	}
	p.prepareRequestHeaders(req)
	req.Header.Set("Referer", originalReq.URL.String())
	return req, nil
}

func (p *Page) processResponse(resp *http.Response) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		p.logger.Warn("Request resulted in error status code", zap.Int("status", resp.StatusCode), zap.String("url", resp.Request.URL.String()))
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		p.logger.Debug("Response is not HTML, skipping DOM parsing.", zap.String("content_type", contentType))
		p.updateState(resp.Request.URL, nil)
		return nil
	}

	doc, err := htmlquery.Parse(resp.Body)
	if err != nil {
		p.updateState(resp.Request.URL, nil)
		return fmt.Errorf("failed to parse HTML response from '%s': %w", resp.Request.URL.String(), err)
	}
	p.updateState(resp.Request.URL, doc)
	return nil
}

func (p *Page) updateState(newURL *url.URL, doc *html.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentURL = newURL
	p.doc = doc
	p.focused = nil
	p.selectAll = false
}

func (p *Page) resolveURL(targetURL string) (*url.URL, error) {
	p.mu.RLock()
	currentURL := p.currentURL
	p.mu.RUnlock()

	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}
	if parsedURL.IsAbs() {
		return parsedURL, nil
	}
	if currentURL == nil {
		return nil, fmt.Errorf("initial navigation target must be an absolute URL: '%s'", targetURL)
	}
	return currentURL.ResolveReference(parsedURL), nil
}

func (p *Page) prepareRequestHeaders(req *http.Request) {
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "cs-CZ,cs;q=0.9,en;q=0.8")
	if cur := p.URL(); cur != "" && req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", cur)
	}
}

// SetCookies stores cookies in the jar under the URL implied by their domain
// and path.
func (p *Page) SetCookies(_ context.Context, cookies []page.Cookie) error {
	for _, c := range cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			return fmt.Errorf("cookie '%s' has no domain", c.Name)
		}
		scheme := "http"
		if c.Secure {
			scheme = "https"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		p.client.Jar.SetCookies(&url.URL{Scheme: scheme, Host: host, Path: path}, []*http.Cookie{hc})
	}
	return nil
}

// -- Queries --

func (p *Page) Find(_ context.Context, xpath string) ([]page.Element, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.doc == nil {
		return nil, nil
	}
	nodes, err := htmlquery.QueryAll(p.doc, xpath)
	if err != nil {
		return nil, fmt.Errorf("invalid XPath selector '%s': %w", xpath, err)
	}
	return p.wrap(nodes), nil
}

func (p *Page) wrap(nodes []*html.Node) []page.Element {
	out := make([]page.Element, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		out = append(out, &Element{p: p, n: n})
	}
	return out
}

func (p *Page) Content(_ context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.doc == nil {
		return "<html><head></head><body></body></html>", nil
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, p.doc); err != nil {
		return "", fmt.Errorf("failed to render DOM snapshot: %w", err)
	}
	return buf.String(), nil
}

func (p *Page) BodyText(_ context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.doc == nil {
		return "", nil
	}
	body := htmlquery.FindOne(p.doc, "//body")
	if body == nil {
		body = p.doc
	}
	return textOf(body), nil
}

// -- Keyboard --

// TypeText appends text to the focused control, or replaces its value when
// a select-all chord was pressed just before.
func (p *Page) TypeText(ctx context.Context, text string, delay time.Duration) error {
	for range text {
		if err := page.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.focused
	if n == nil || !attached(p.doc, n) {
		return fmt.Errorf("no focused element to type into")
	}
	if !isTextEntry(n) {
		return fmt.Errorf("focused element <%s> does not accept text", n.Data)
	}
	current := ""
	if !p.selectAll {
		current = valueOf(n)
	}
	p.selectAll = false
	return assignValue(n, current+text)
}

// PressKeys understands select-all, Backspace and Enter. Other chords are
// accepted and ignored.
func (p *Page) PressKeys(ctx context.Context, chord string) error {
	switch strings.ToLower(chord) {
	case "control+a", "meta+a":
		p.mu.Lock()
		p.selectAll = true
		p.mu.Unlock()
	case "backspace", "delete":
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.focused != nil && p.selectAll && isTextEntry(p.focused) {
			p.selectAll = false
			return assignValue(p.focused, "")
		}
	case "enter":
		p.mu.RLock()
		n := p.focused
		var form *html.Node
		if n != nil && strings.EqualFold(n.Data, "input") {
			form = findParentForm(n)
		}
		p.mu.RUnlock()
		if form != nil {
			return p.submitForm(ctx, form, nil)
		}
	}
	return nil
}

// -- Unsupported / placeholder capabilities --

// Evaluate is not available without a script engine.
func (p *Page) Evaluate(context.Context, string) error {
	return page.ErrUnsupported
}

// Screenshot returns a blank placeholder image; there is no renderer.
func (p *Page) Screenshot(context.Context) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode placeholder screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

// WaitStable returns immediately: documents are fully loaded when Navigate
// returns.
func (p *Page) WaitStable(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
