package pw

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/tablebook/internal/page"
	"github.com/xkilldash9x/tablebook/internal/page/pagejs"
)

// Element addresses a node by the reference stamped on it by Find.
type Element struct {
	p    *Page
	info pagejs.NodeInfo
}

var _ page.Element = (*Element)(nil)

func (e *Element) locator() playwright.Locator {
	return e.p.page.Locator(pagejs.Selector(e.info.Ref))
}

func (e *Element) on(ctx context.Context, body string, out any) error {
	return e.p.eval(ctx, pagejs.OnElement(e.info.Ref, body), out)
}

func (e *Element) Tag() string { return strings.ToLower(e.info.Tag) }

func (e *Element) Attr(name string) (string, bool) {
	v, ok := e.info.Attrs[strings.ToLower(name)]
	return v, ok
}

func (e *Element) Text() string { return e.info.Text }

func (e *Element) Visible(ctx context.Context) (bool, error) {
	var ok bool
	err := e.on(ctx, pagejs.Visible, &ok)
	return ok, err
}

func (e *Element) Find(ctx context.Context, xpath string) ([]page.Element, error) {
	return e.p.find(ctx, xpath, e.info.Ref)
}

func (e *Element) Contains(ctx context.Context, other page.Element) (bool, error) {
	o, ok := other.(*Element)
	if !ok {
		return false, nil
	}
	if o.info.Ref == e.info.Ref {
		return true, nil
	}
	var inside bool
	err := e.on(ctx, pagejs.Contains(o.info.Ref), &inside)
	return inside, err
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	var ok bool
	return e.on(ctx, pagejs.Scroll, &ok)
}

func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	visible, err := e.Visible(ctx)
	if err != nil {
		return err
	}
	return mapErr(ctx, e.locator().Click(clickOptions(ctx, visible)))
}

// clickOptions skips the actionability wait for elements that are hidden
// or covered; Playwright would otherwise retry until the timeout.
func clickOptions(ctx context.Context, visible bool) playwright.LocatorClickOptions {
	opts := playwright.LocatorClickOptions{Timeout: timeout(ctx)}
	if !visible {
		opts.Force = playwright.Bool(true)
	}
	return opts
}

func (e *Element) Focus(ctx context.Context) error {
	var ok bool
	if err := e.on(ctx, pagejs.Focus, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element <%s> did not take focus", e.info.Tag)
	}
	return nil
}

func (e *Element) SetValue(ctx context.Context, value string) error {
	var ok bool
	return e.on(ctx, pagejs.SetValue(value), &ok)
}

func (e *Element) Value(ctx context.Context) (string, error) {
	var v string
	err := e.on(ctx, pagejs.Value, &v)
	return v, err
}

func (e *Element) Options(ctx context.Context) ([]page.Option, error) {
	var infos []pagejs.OptionInfo
	if err := e.on(ctx, pagejs.Options, &infos); err != nil {
		return nil, err
	}
	opts := make([]page.Option, len(infos))
	for i, o := range infos {
		opts[i] = page.Option{Value: o.Value, Text: o.Text, Selected: o.Selected}
	}
	return opts, nil
}

func (e *Element) SelectOption(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := e.locator().SelectOption(playwright.SelectOptionValues{Values: &[]string{value}},
		playwright.LocatorSelectOptionOptions{Timeout: timeout(ctx)})
	return mapErr(ctx, err)
}
