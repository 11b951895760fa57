package memdom

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/tablebook/internal/page"
)

// Element is a handle to a node of a Page's current document.
type Element struct {
	p *Page
	n *html.Node
}

var _ page.Element = (*Element)(nil)

// Node exposes the underlying node, for click handlers and tests.
func (e *Element) Node() *html.Node { return e.n }

func (e *Element) Tag() string { return strings.ToLower(e.n.Data) }

func (e *Element) Attr(name string) (string, bool) {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *Element) Text() string {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	return textOf(e.n)
}

func (e *Element) Visible(context.Context) (bool, error) {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	if !attached(e.p.doc, e.n) {
		return false, page.ErrDetached
	}
	return isVisible(e.n), nil
}

func (e *Element) Find(_ context.Context, xpath string) ([]page.Element, error) {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	nodes, err := htmlquery.QueryAll(e.n, xpath)
	if err != nil {
		return nil, fmt.Errorf("invalid XPath selector '%s': %w", xpath, err)
	}
	return e.p.wrap(nodes), nil
}

func (e *Element) Contains(_ context.Context, other page.Element) (bool, error) {
	o, ok := other.(*Element)
	if !ok {
		return false, nil
	}
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	for n := o.n; n != nil; n = n.Parent {
		if n == e.n {
			return true, nil
		}
	}
	return false, nil
}

// ScrollIntoView only checks that the element is still attached.
func (e *Element) ScrollIntoView(context.Context) error {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	if !attached(e.p.doc, e.n) {
		return page.ErrDetached
	}
	return nil
}

func (e *Element) Focus(context.Context) error {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if !attached(e.p.doc, e.n) {
		return page.ErrDetached
	}
	e.p.focused = e.n
	e.p.selectAll = false
	return nil
}

// Click focuses the element, runs matching click handlers and then applies
// the native consequence (link navigation, form submission, checkbox and
// radio toggling, label activation).
func (e *Element) Click(ctx context.Context) error {
	e.p.mu.Lock()
	if !attached(e.p.doc, e.n) {
		e.p.mu.Unlock()
		return page.ErrDetached
	}
	if !isVisible(e.n) {
		e.p.mu.Unlock()
		return fmt.Errorf("element <%s> is not visible", e.n.Data)
	}
	e.p.focused = e.n
	e.p.selectAll = false
	handlers := e.p.matchingHooks(e.n)
	e.p.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, e.p, e.n); err != nil {
			return fmt.Errorf("click handler failed: %w", err)
		}
	}
	return e.p.handleClickConsequence(ctx, e.n)
}

func (e *Element) SetValue(_ context.Context, value string) error {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if !attached(e.p.doc, e.n) {
		return page.ErrDetached
	}
	if strings.EqualFold(e.n.Data, "select") {
		return selectByValue(e.n, value)
	}
	if !isTextEntry(e.n) {
		return fmt.Errorf("element <%s> has no assignable value: %w", e.n.Data, page.ErrUnsupported)
	}
	return assignValue(e.n, value)
}

func (e *Element) Value(context.Context) (string, error) {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	if !attached(e.p.doc, e.n) {
		return "", page.ErrDetached
	}
	if strings.EqualFold(e.n.Data, "select") {
		for _, o := range selectOptions(e.n) {
			if o.Selected {
				return o.Value, nil
			}
		}
		return "", nil
	}
	return valueOf(e.n), nil
}

func (e *Element) Options(context.Context) ([]page.Option, error) {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	if !strings.EqualFold(e.n.Data, "select") {
		return nil, fmt.Errorf("element <%s> is not a select element", e.n.Data)
	}
	return selectOptions(e.n), nil
}

func (e *Element) SelectOption(_ context.Context, value string) error {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if !strings.EqualFold(e.n.Data, "select") {
		return fmt.Errorf("element <%s> is not a select element", e.n.Data)
	}
	return selectByValue(e.n, value)
}

// matchingHooks must be called with p.mu held.
func (p *Page) matchingHooks(n *html.Node) []ClickHandler {
	var out []ClickHandler
	for _, hook := range p.hooks {
		nodes, err := htmlquery.QueryAll(p.doc, hook.xpath)
		if err != nil {
			p.logger.Warn("Invalid click handler selector", zap.String("xpath", hook.xpath), zap.Error(err))
			continue
		}
		for _, m := range nodes {
			if m == n {
				out = append(out, hook.handler)
				break
			}
		}
	}
	return out
}

func (p *Page) handleClickConsequence(ctx context.Context, n *html.Node) error {
	tagName := strings.ToLower(n.Data)

	if tagName == "a" {
		href := htmlquery.SelectAttr(n, "href")
		if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return p.Navigate(ctx, href)
		}
		return nil
	}

	inputType := strings.ToLower(htmlquery.SelectAttr(n, "type"))
	isSubmit := (tagName == "button" && (inputType == "submit" || inputType == "")) ||
		(tagName == "input" && inputType == "submit")
	if isSubmit {
		p.mu.RLock()
		form := findParentForm(n)
		p.mu.RUnlock()
		if form != nil {
			return p.submitForm(ctx, form, n)
		}
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case tagName == "input" && inputType == "checkbox":
		if htmlquery.ExistsAttr(n, "checked") {
			RemoveAttr(n, "checked")
		} else {
			SetAttr(n, "checked", "checked")
		}
	case tagName == "input" && inputType == "radio":
		checkRadio(n)
	case tagName == "label":
		if id := htmlquery.SelectAttr(n, "for"); id != "" {
			if target := htmlquery.FindOne(p.doc, fmt.Sprintf("//*[@id=%s]", page.XPathLiteral(id))); target != nil {
				p.focused = target
			}
		}
	}
	return nil
}

// submitForm serializes the form's successful controls and sends them.
func (p *Page) submitForm(ctx context.Context, form, submitter *html.Node) error {
	p.mu.RLock()
	action := htmlquery.SelectAttr(form, "action")
	method := strings.ToUpper(htmlquery.SelectAttr(form, "method"))
	formData := serializeForm(form, submitter)
	p.mu.RUnlock()

	if method != "POST" {
		method = "GET"
	}
	targetURL, err := p.resolveURL(action)
	if err != nil {
		return fmt.Errorf("failed to determine form submission URL: %w", err)
	}

	p.logger.Debug("Submitting form", zap.String("method", method), zap.String("url", targetURL.String()))

	var req *http.Request
	if method == "POST" {
		req, err = http.NewRequestWithContext(ctx, method, targetURL.String(), strings.NewReader(formData.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		u := *targetURL
		u.RawQuery = formData.Encode()
		if req, err = http.NewRequestWithContext(ctx, method, u.String(), nil); err != nil {
			return err
		}
	}
	p.prepareRequestHeaders(req)
	return p.executeRequest(ctx, req)
}
