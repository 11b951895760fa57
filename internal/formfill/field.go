package formfill

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/page"
)

// Hint tells the Filler how a field is expected to be rendered. The
// detected ControlKind still decides the final interaction.
type Hint int

const (
	HintNativeText Hint = iota
	HintNativeSelect
	HintCustomPicker
)

func (h Hint) String() string {
	switch h {
	case HintNativeText:
		return "native-text"
	case HintNativeSelect:
		return "native-select"
	case HintCustomPicker:
		return "custom-picker"
	}
	return fmt.Sprintf("Hint(%d)", int(h))
}

// FieldSpec describes one form field to populate.
type FieldSpec struct {
	// Name identifies the field in logs and errors.
	Name  string
	Label Pattern
	// Value is written into text-like controls.
	Value string
	// Option is the text a picker clicks. Empty means Value.
	Option   string
	Hint     Hint
	Optional bool
}

func (f FieldSpec) option() string {
	if f.Option != "" {
		return f.Option
	}
	return f.Value
}

// Filler resolves a FieldSpec and writes its value with the matching
// interaction.
type Filler struct {
	logger   *zap.Logger
	resolver *Resolver
	setter   *Setter
	picker   *Picker
}

// NewFiller wires a Filler from its parts.
func NewFiller(logger *zap.Logger, r *Resolver, s *Setter) *Filler {
	return &Filler{
		logger:   logger.Named("filler"),
		resolver: r,
		setter:   s,
		picker:   NewPicker(logger, r, s),
	}
}

// Resolver exposes the underlying resolver for callers that only need to
// locate controls (submit buttons, login fields).
func (f *Filler) Resolver() *Resolver { return f.resolver }

// Setter exposes the underlying setter.
func (f *Filler) Setter() *Setter { return f.setter }

// Fill resolves spec's control and writes its value. Resolution and
// interaction share the timeout budget.
func (f *Filler) Fill(ctx context.Context, p page.Page, spec FieldSpec, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	c, err := f.resolver.Resolve(ctx, p, spec.Label, timeout)
	if err != nil {
		return err
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}

	f.logger.Debug("Filling field",
		zap.String("field", spec.Name),
		zap.Stringer("hint", spec.Hint),
		zap.Stringer("kind", c.Kind),
		zap.Stringer("strategy", c.Strategy))

	switch {
	case c.Kind == KindNativeText:
		// A native input behind a picker hint (e.g. <input type=date>) takes
		// the raw value, not the display text.
		return f.setter.Set(ctx, p, c, spec.Value, remaining)
	case c.Kind == KindNativeSelect:
		return f.setter.Set(ctx, p, c, spec.option(), remaining)
	case spec.Hint == HintCustomPicker || c.Kind == KindCustomWidget || c.Kind == KindButton:
		return f.picker.SelectOn(ctx, p, c, spec.option(), remaining)
	default:
		return f.setter.Set(ctx, p, c, spec.Value, remaining)
	}
}
