package cdp

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/page"
	"github.com/xkilldash9x/tablebook/internal/page/pagejs"
)

// Element addresses a node by the reference stamped on it by Find. Tag,
// attributes and text are a snapshot taken at Find time.
type Element struct {
	p    *Page
	info pagejs.NodeInfo
}

var _ page.Element = (*Element)(nil)

func (e *Element) Tag() string { return strings.ToLower(e.info.Tag) }

func (e *Element) Attr(name string) (string, bool) {
	v, ok := e.info.Attrs[strings.ToLower(name)]
	return v, ok
}

func (e *Element) Text() string { return e.info.Text }

func (e *Element) Visible(ctx context.Context) (bool, error) {
	var ok bool
	err := e.p.eval(ctx, pagejs.OnElement(e.info.Ref, pagejs.Visible), &ok)
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
	err := e.p.eval(ctx, pagejs.OnElement(e.info.Ref, pagejs.Contains(o.info.Ref)), &inside)
	return inside, err
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	var ok bool
	return e.p.eval(ctx, pagejs.OnElement(e.info.Ref, pagejs.Scroll), &ok)
}

// Click dispatches real mouse events at the element's center. Elements
// that are hidden or covered get a DOM click instead, since a pointer
// click would wait for visibility until the deadline.
func (e *Element) Click(ctx context.Context) error {
	if err := e.ScrollIntoView(ctx); err != nil {
		return err
	}
	visible, err := e.Visible(ctx)
	if err != nil {
		return err
	}
	if !visible {
		e.p.logger.Debug("Forcing click on element that is not visible", zap.String("tag", e.info.Tag))
	}
	return e.p.run(ctx, e.clickAction(visible))
}

func (e *Element) clickAction(visible bool) chromedp.Action {
	if visible {
		return chromedp.Click(pagejs.Selector(e.info.Ref), chromedp.ByQuery, chromedp.NodeVisible)
	}
	var ok bool
	return chromedp.Evaluate(pagejs.OnElement(e.info.Ref, pagejs.ForceClick), &ok)
}

func (e *Element) Focus(ctx context.Context) error {
	var ok bool
	if err := e.p.eval(ctx, pagejs.OnElement(e.info.Ref, pagejs.Focus), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element <%s> did not take focus", e.info.Tag)
	}
	return nil
}

func (e *Element) SetValue(ctx context.Context, value string) error {
	var ok bool
	return e.p.eval(ctx, pagejs.OnElement(e.info.Ref, pagejs.SetValue(value)), &ok)
}

func (e *Element) Value(ctx context.Context) (string, error) {
	var v string
	err := e.p.eval(ctx, pagejs.OnElement(e.info.Ref, pagejs.Value), &v)
	return v, err
}

func (e *Element) Options(ctx context.Context) ([]page.Option, error) {
	var infos []pagejs.OptionInfo
	if err := e.p.eval(ctx, pagejs.OnElement(e.info.Ref, pagejs.Options), &infos); err != nil {
		return nil, err
	}
	opts := make([]page.Option, len(infos))
	for i, o := range infos {
		opts[i] = page.Option{Value: o.Value, Text: o.Text, Selected: o.Selected}
	}
	return opts, nil
}

func (e *Element) SelectOption(ctx context.Context, value string) error {
	var ok bool
	return e.p.eval(ctx, pagejs.OnElement(e.info.Ref, pagejs.SelectOption(value)), &ok)
}
