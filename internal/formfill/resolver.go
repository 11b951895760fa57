// Package formfill locates form controls by their human-readable labels and
// writes values into them. It drives a page.Page and is unaware of which
// site or backend it is talking to.
package formfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/page"
)

// maxLabelLength bounds the text of elements considered label-like. Longer
// text is prose, not a field label.
const maxLabelLength = 80

// ResolverOptions tunes the resolution chain.
type ResolverOptions struct {
	// PollInterval is the pause between resolution attempts.
	PollInterval time.Duration
	// MaxAncestorDepth limits how far structural proximity climbs from a label.
	MaxAncestorDepth int
	// StrictVisibility disables the best-effort return of an invisible
	// candidate when no visible one exists.
	StrictVisibility bool
	// FallbackAfter is how long an invisible candidate must remain the only
	// one before it is returned.
	FallbackAfter time.Duration
}

// DefaultResolverOptions returns the options used when none are given.
func DefaultResolverOptions() ResolverOptions {
	return ResolverOptions{
		PollInterval:     250 * time.Millisecond,
		MaxAncestorDepth: 4,
		FallbackAfter:    time.Second,
	}
}

// Resolver finds the control belonging to a label using an ordered chain of
// strategies: accessible name, label association, structural proximity.
type Resolver struct {
	logger *zap.Logger
	opts   ResolverOptions
}

// NewResolver creates a Resolver. Zero option fields take their defaults.
func NewResolver(logger *zap.Logger, opts ResolverOptions) *Resolver {
	def := DefaultResolverOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxAncestorDepth <= 0 {
		opts.MaxAncestorDepth = def.MaxAncestorDepth
	}
	if opts.FallbackAfter <= 0 {
		opts.FallbackAfter = def.FallbackAfter
	}
	return &Resolver{logger: logger.Named("resolver"), opts: opts}
}

// attemptResult is the outcome of one pass over the strategy chain.
type attemptResult struct {
	control *Control
	// fallback is an invisible candidate kept for best-effort return.
	fallback *Control
	// invisibleNamed is set when strategy 1 matched only invisible controls.
	invisibleNamed bool
}

// Resolve polls the page until a control for pat is found or timeout
// elapses.
func (r *Resolver) Resolve(ctx context.Context, p page.Page, pat Pattern, timeout time.Duration) (*Control, error) {
	return r.poll(ctx, pat.String(), timeout, func(ctx context.Context) (attemptResult, error) {
		return r.attempt(ctx, p, pat)
	})
}

// ResolveButton finds a button whose accessible name matches one of pats.
// Patterns are tried in order; exact names win over partial ones.
func (r *Resolver) ResolveButton(ctx context.Context, p page.Page, pats []Pattern, timeout time.Duration) (*Control, error) {
	names := make([]string, len(pats))
	for i, pat := range pats {
		names[i] = pat.String()
	}
	label := strings.Join(names, "|")

	return r.poll(ctx, label, timeout, func(ctx context.Context) (attemptResult, error) {
		els, err := p.Find(ctx, "//button | //*[@role='button'] | //input[@type='submit' or @type='button'] | //a[@role='button']")
		if err != nil {
			return attemptResult{}, err
		}
		var res attemptResult
		for _, pat := range pats {
			m, err := r.matchNamed(ctx, p, els, pat, true)
			if err != nil {
				return attemptResult{}, err
			}
			if m.control != nil {
				m.control.Label = label
				return m, nil
			}
			res.invisibleNamed = res.invisibleNamed || m.invisibleNamed
		}
		return res, nil
	})
}

func (r *Resolver) poll(ctx context.Context, label string, timeout time.Duration, attempt func(context.Context) (attemptResult, error)) (*Control, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		last          attemptResult
		lastErr       error
		completed     int
		fallbackSince time.Time
	)
	for n := 1; ; n++ {
		res, err := attempt(ctx)
		if err != nil {
			lastErr = err
			r.logger.Debug("Resolution attempt failed", zap.String("label", label), zap.Int("attempt", n), zap.Error(err))
		} else {
			if res.control != nil {
				res.control.Label = label
				r.logger.Debug("Resolved control",
					zap.String("label", label),
					zap.Stringer("strategy", res.control.Strategy),
					zap.Stringer("kind", res.control.Kind),
					zap.Int("attempt", n))
				return res.control, nil
			}
			last, lastErr = res, nil
			completed++

			if res.fallback == nil || r.opts.StrictVisibility {
				fallbackSince = time.Time{}
			} else if fallbackSince.IsZero() {
				fallbackSince = time.Now()
			} else if time.Since(fallbackSince) >= r.opts.FallbackAfter {
				r.logger.Warn("No visible control found; using first candidate",
					zap.String("label", label), zap.Stringer("strategy", res.fallback.Strategy))
				res.fallback.Label = label
				return res.fallback, nil
			}
		}

		if page.Sleep(ctx, r.opts.PollInterval) != nil {
			break
		}
	}

	if last.fallback != nil && !r.opts.StrictVisibility && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		last.fallback.Label = label
		return last.fallback, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return nil, &ResolutionError{Kind: Timeout, Label: label, Err: ctx.Err()}
	case lastErr != nil && (completed == 0 || !errors.Is(lastErr, context.DeadlineExceeded)):
		return nil, &ResolutionError{Kind: Timeout, Label: label, Err: lastErr}
	case last.invisibleNamed:
		return nil, &ResolutionError{Kind: AmbiguousNoVisibleMatch, Label: label}
	default:
		return nil, &ResolutionError{Kind: NotFound, Label: label, Err: fmt.Errorf("no control within %s", timeout)}
	}
}

func (r *Resolver) attempt(ctx context.Context, p page.Page, pat Pattern) (attemptResult, error) {
	// 1. Accessible name.
	named, err := p.Find(ctx, accessibleNamedControls)
	if err != nil {
		return attemptResult{}, err
	}
	res, err := r.matchNamed(ctx, p, named, pat, false)
	if err != nil || res.control != nil {
		return res, err
	}

	labels, err := r.rankedLabels(ctx, p, pat)
	if err != nil {
		return attemptResult{}, err
	}

	// 2. Label association.
	for _, label := range labels {
		c, fb, err := r.associated(ctx, p, label)
		if err != nil {
			return attemptResult{}, err
		}
		if c != nil {
			res.control = c
			return res, nil
		}
		if res.fallback == nil {
			res.fallback = fb
		}
	}

	// 3. Structural proximity.
	for _, label := range labels {
		c, fb, err := r.nearby(ctx, label)
		if err != nil {
			return attemptResult{}, err
		}
		if c != nil {
			res.control = c
			return res, nil
		}
		if res.fallback == nil {
			res.fallback = fb
		}
	}
	return res, nil
}

// matchNamed picks the first visible element of els whose accessible name
// matches pat, preferring exact names. withContent also names buttons by
// their text and value; a picker button shows its selected option there,
// so field resolution leaves it off.
func (r *Resolver) matchNamed(ctx context.Context, p page.Page, els []page.Element, pat Pattern, withContent bool) (attemptResult, error) {
	var exact, partial []page.Element
	for _, el := range els {
		names, err := accessibleNames(ctx, p, el, withContent)
		if err != nil {
			return attemptResult{}, err
		}
		matched, isExact := false, false
		for _, name := range names {
			if pat.Match(name) {
				matched = true
				isExact = isExact || pat.Exact(name)
			}
		}
		switch {
		case isExact:
			exact = append(exact, el)
		case matched:
			partial = append(partial, el)
		}
	}

	var res attemptResult
	for _, el := range append(exact, partial...) {
		visible, err := el.Visible(ctx)
		if err != nil {
			if errors.Is(err, page.ErrDetached) {
				continue
			}
			return attemptResult{}, err
		}
		if visible {
			res.control = &Control{Element: el, Kind: Classify(el), Strategy: StrategyAccessibleName}
			return res, nil
		}
		res.invisibleNamed = true
	}
	return res, nil
}

// accessibleNames lists the names el exposes: aria-label, the text of its
// aria-labelledby references, placeholder and title, plus button text or
// value when withContent is set.
func accessibleNames(ctx context.Context, p page.Page, el page.Element, withContent bool) ([]string, error) {
	var names []string
	if v, ok := el.Attr("aria-label"); ok && strings.TrimSpace(v) != "" {
		names = append(names, v)
	}
	if ids, ok := el.Attr("aria-labelledby"); ok {
		var parts []string
		for _, id := range strings.Fields(ids) {
			refs, err := p.Find(ctx, "//*[@id="+page.XPathLiteral(id)+"]")
			if err != nil {
				return nil, err
			}
			for _, ref := range refs {
				parts = append(parts, ref.Text())
			}
		}
		if len(parts) > 0 {
			names = append(names, strings.Join(parts, " "))
		}
	}
	if withContent && isButtonLike(el) {
		if t := el.Text(); t != "" {
			names = append(names, t)
		}
		if v, ok := el.Attr("value"); ok && v != "" {
			names = append(names, v)
		}
	}
	for _, a := range []string{"placeholder", "title"} {
		if v, ok := el.Attr(a); ok && strings.TrimSpace(v) != "" {
			names = append(names, v)
		}
	}
	return names, nil
}

type rankedLabel struct {
	el      page.Element
	visible bool
	isLabel bool
	exact   bool
}

// rankedLabels returns the label-like elements matching pat: visible before
// hidden, label and legend before generic text, exact before partial, then
// document order.
func (r *Resolver) rankedLabels(ctx context.Context, p page.Page, pat Pattern) ([]page.Element, error) {
	els, err := p.Find(ctx, labelLikeElements)
	if err != nil {
		return nil, err
	}
	var ranked []rankedLabel
	for _, el := range els {
		text := el.Text()
		if utf8.RuneCountInString(text) > maxLabelLength || !pat.Match(text) {
			continue
		}
		visible, err := el.Visible(ctx)
		if err != nil {
			if errors.Is(err, page.ErrDetached) {
				continue
			}
			return nil, err
		}
		tag := el.Tag()
		ranked = append(ranked, rankedLabel{
			el:      el,
			visible: visible,
			isLabel: tag == "label" || tag == "legend",
			exact:   pat.Exact(text),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.visible != b.visible {
			return a.visible
		}
		if a.isLabel != b.isLabel {
			return a.isLabel
		}
		return a.exact && !b.exact
	})
	out := make([]page.Element, len(ranked))
	for i, rl := range ranked {
		out[i] = rl.el
	}
	return out, nil
}

// associated follows a label's for= reference, or looks inside a label that
// wraps its control.
func (r *Resolver) associated(ctx context.Context, p page.Page, label page.Element) (visible, fallback *Control, err error) {
	var candidates []page.Element
	if id, ok := label.Attr("for"); ok && id != "" {
		targets, err := p.Find(ctx, "//*[@id="+page.XPathLiteral(id)+"]")
		if err != nil {
			return nil, nil, err
		}
		for _, t := range targets {
			if matchesControl(t) {
				candidates = append(candidates, t)
				continue
			}
			inner, err := t.Find(ctx, descendantControls)
			if err != nil {
				return nil, nil, err
			}
			candidates = append(candidates, inner...)
		}
	} else if label.Tag() == "label" {
		if candidates, err = label.Find(ctx, descendantControls); err != nil {
			return nil, nil, err
		}
	}
	return pickVisible(ctx, candidates, StrategyLabelAssociation)
}

// inlineTags are wrappers that never form a row of their own; they do not
// count towards MaxAncestorDepth.
var inlineTags = map[string]bool{
	"a": true, "abbr": true, "b": true, "em": true, "font": true, "i": true,
	"label": true, "small": true, "span": true, "strong": true, "sup": true, "u": true,
}

// nearby climbs from the label through its enclosing containers and returns
// a candidate from the smallest one that holds any.
func (r *Resolver) nearby(ctx context.Context, label page.Element) (visible, fallback *Control, err error) {
	cur := label
	for depth := 0; depth < r.opts.MaxAncestorDepth; {
		parents, err := cur.Find(ctx, "parent::*")
		if err != nil {
			return nil, nil, err
		}
		if len(parents) == 0 {
			return nil, nil, nil
		}
		cur = parents[0]
		tag := cur.Tag()
		if tag == "body" || tag == "html" {
			return nil, nil, nil
		}
		if !inlineTags[tag] {
			depth++
		}
		candidates, err := cur.Find(ctx, descendantControls)
		if err != nil {
			return nil, nil, err
		}
		if len(candidates) > 0 {
			return pickVisible(ctx, candidates, StrategyProximity)
		}
	}
	return nil, nil, nil
}

// pickVisible returns the first visible candidate, and otherwise the first
// candidate as fallback.
func pickVisible(ctx context.Context, candidates []page.Element, s Strategy) (visible, fallback *Control, err error) {
	for _, c := range candidates {
		ok, err := c.Visible(ctx)
		if err != nil {
			if errors.Is(err, page.ErrDetached) {
				continue
			}
			return nil, nil, err
		}
		if ok {
			return &Control{Element: c, Kind: Classify(c), Strategy: s}, nil, nil
		}
		if fallback == nil {
			fallback = &Control{Element: c, Kind: Classify(c), Strategy: s}
		}
	}
	return nil, fallback, nil
}

func matchesControl(el page.Element) bool {
	switch el.Tag() {
	case "input":
		t, _ := el.Attr("type")
		return !strings.EqualFold(t, "hidden")
	case "textarea", "select", "button":
		return true
	}
	if role, ok := el.Attr("role"); ok {
		switch strings.ToLower(role) {
		case "combobox", "spinbutton", "textbox", "listbox", "button":
			return true
		}
	}
	ce, ok := el.Attr("contenteditable")
	return ok && (ce == "" || strings.EqualFold(ce, "true"))
}
