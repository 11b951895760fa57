package formfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/page"
)

// optionCandidates are the elements that may carry an option's text: ARIA
// option-like roles, and leaf or clickable elements anywhere in the
// document. Option lists are often rendered at the document root.
const optionCandidates = "//*[@role='option' or @role='gridcell' or @role='menuitem' or @role='treeitem']" +
	" | //*[not(self::script or self::style or self::option or self::html or self::body or self::head or self::title)]" +
	"[not(*) or self::button or self::li or self::a or self::td]"

// Picker drives custom dropdowns: it opens the field and clicks the option
// whose visible text equals the requested one.
type Picker struct {
	logger   *zap.Logger
	resolver *Resolver
	setter   *Setter
	poll     time.Duration
}

// NewPicker creates a Picker that resolves fields with r and falls back to
// s for native controls.
func NewPicker(logger *zap.Logger, r *Resolver, s *Setter) *Picker {
	return &Picker{logger: logger.Named("picker"), resolver: r, setter: s, poll: r.opts.PollInterval}
}

// Select resolves the field labelled pat, opens it and clicks optionText.
func (pk *Picker) Select(ctx context.Context, p page.Page, pat Pattern, optionText string, timeout time.Duration) error {
	c, err := pk.resolver.Resolve(ctx, p, pat, timeout)
	if err != nil {
		return err
	}
	return pk.SelectOn(ctx, p, c, optionText, timeout)
}

// SelectOn opens an already resolved control and clicks optionText. Native
// controls are handed to the Setter instead.
func (pk *Picker) SelectOn(ctx context.Context, p page.Page, c *Control, optionText string, timeout time.Duration) error {
	if c.Kind == KindNativeSelect || c.Kind == KindNativeText {
		return pk.setter.Set(ctx, p, c, optionText, timeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.Element.ScrollIntoView(ctx); err != nil && !errors.Is(err, page.ErrUnsupported) {
		return &InteractionError{Label: c.Label, Op: "open", Err: err}
	}
	if err := c.Element.Click(ctx); err != nil {
		return &InteractionError{Label: c.Label, Op: "open", Err: err}
	}
	if err := pk.setter.settle(ctx); err != nil {
		return &InteractionError{Label: c.Label, Op: "open", Err: err}
	}

	want := Normalize(optionText)
	var lastErr error
	for {
		opt, err := pk.findOption(ctx, p, c, want)
		switch {
		case err != nil:
			lastErr = err
			pk.logger.Debug("Option search failed", zap.String("label", c.Label), zap.Error(err))
		case opt != nil:
			if err := opt.Click(ctx); err != nil {
				return &InteractionError{Label: c.Label, Op: "pick option of", Err: err}
			}
			pk.logger.Debug("Picked option", zap.String("label", c.Label), zap.String("option", optionText))
			return pk.setter.settle(ctx)
		}
		if page.Sleep(ctx, pk.poll) != nil {
			break
		}
	}

	err := fmt.Errorf("%w: %q", ErrOptionNotFound, optionText)
	if lastErr != nil && !errors.Is(lastErr, context.DeadlineExceeded) {
		err = fmt.Errorf("%w (last error: %v)", err, lastErr)
	}
	return &InteractionError{Label: c.Label, Op: "pick option of", Err: err}
}

// findOption returns the first visible element outside the activated
// control whose text equals want. Elements with an option-like role rank
// first.
func (pk *Picker) findOption(ctx context.Context, p page.Page, c *Control, want string) (page.Element, error) {
	els, err := p.Find(ctx, optionCandidates)
	if err != nil {
		return nil, err
	}
	type candidate struct {
		el   page.Element
		role bool
	}
	var matches []candidate
	for _, el := range els {
		if Normalize(el.Text()) != want {
			continue
		}
		role, _ := el.Attr("role")
		switch strings.ToLower(role) {
		case "option", "gridcell", "menuitem", "treeitem":
			matches = append(matches, candidate{el: el, role: true})
		default:
			matches = append(matches, candidate{el: el})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].role && !matches[j].role })

	for _, m := range matches {
		inside, err := c.Element.Contains(ctx, m.el)
		if err != nil {
			return nil, err
		}
		if inside {
			continue
		}
		visible, err := m.el.Visible(ctx)
		if err != nil {
			if errors.Is(err, page.ErrDetached) {
				continue
			}
			return nil, err
		}
		if visible {
			return m.el, nil
		}
	}
	return nil, nil
}
