package formfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/page"
)

const selectAllChord = "Control+A"

// SetterOptions holds the timing of value entry.
type SetterOptions struct {
	// DirectTimeout bounds the direct value-assignment branch.
	DirectTimeout time.Duration
	// KeyDelay is the pause between simulated keystrokes.
	KeyDelay time.Duration
	// SettleDelay is the pause after every interaction.
	SettleDelay time.Duration
}

// DefaultSetterOptions returns the options used when none are given.
func DefaultSetterOptions() SetterOptions {
	return SetterOptions{
		DirectTimeout: 2 * time.Second,
		KeyDelay:      35 * time.Millisecond,
		SettleDelay:   200 * time.Millisecond,
	}
}

// Setter writes values into resolved controls.
type Setter struct {
	logger *zap.Logger
	opts   SetterOptions
}

// NewSetter creates a Setter. A zero DirectTimeout takes its default; zero
// delays are honored.
func NewSetter(logger *zap.Logger, opts SetterOptions) *Setter {
	if opts.DirectTimeout <= 0 {
		opts.DirectTimeout = DefaultSetterOptions().DirectTimeout
	}
	return &Setter{logger: logger.Named("setter"), opts: opts}
}

// Set writes value into c, bounded by timeout. Native inputs are assigned
// directly and verified; if that does not stick the value is typed key by
// key instead.
func (s *Setter) Set(ctx context.Context, p page.Page, c *Control, value string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	switch c.Kind {
	case KindNativeText:
		err = s.fillNative(ctx, p, c, value)
	case KindNativeSelect:
		err = s.selectNative(ctx, c, value)
	case KindEditable:
		err = s.typeInto(ctx, p, c, value, true)
	default:
		err = s.typeInto(ctx, p, c, value, false)
	}
	if err != nil {
		return &InteractionError{Label: c.Label, Op: "set value of", Err: err}
	}
	return s.settle(ctx)
}

func (s *Setter) fillNative(ctx context.Context, p page.Page, c *Control, value string) error {
	if err := c.Element.ScrollIntoView(ctx); err != nil {
		return fmt.Errorf("scroll into view: %w", err)
	}

	err := s.assignDirect(ctx, c.Element, value)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Debug("Direct assignment did not stick; typing instead",
		zap.String("label", c.Label), zap.Error(err))
	return s.typeInto(ctx, p, c, value, true)
}

// assignDirect is the first branch for native inputs. Its failure selects
// the keystroke branch and is not an error of the overall operation.
func (s *Setter) assignDirect(ctx context.Context, el page.Element, value string) error {
	dctx, cancel := context.WithTimeout(ctx, s.opts.DirectTimeout)
	defer cancel()

	if err := el.SetValue(dctx, value); err != nil {
		return err
	}
	got, err := el.Value(dctx)
	if err != nil {
		return err
	}
	if got != value {
		return fmt.Errorf("value read back as %q", got)
	}
	return nil
}

func (s *Setter) typeInto(ctx context.Context, p page.Page, c *Control, value string, replace bool) error {
	if err := c.Element.ScrollIntoView(ctx); err != nil && !errors.Is(err, page.ErrUnsupported) {
		return fmt.Errorf("scroll into view: %w", err)
	}
	if err := c.Element.Click(ctx); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	if err := page.Sleep(ctx, s.opts.SettleDelay); err != nil {
		return err
	}
	if replace {
		if err := p.PressKeys(ctx, selectAllChord); err != nil {
			return fmt.Errorf("select all: %w", err)
		}
	}
	if err := p.TypeText(ctx, value, s.opts.KeyDelay); err != nil {
		return fmt.Errorf("type: %w", err)
	}
	return nil
}

// selectNative picks the option whose value or visible text equals value.
// The control is left untouched when no option matches.
func (s *Setter) selectNative(ctx context.Context, c *Control, value string) error {
	opts, err := c.Element.Options(ctx)
	if err != nil {
		return fmt.Errorf("list options: %w", err)
	}
	want := Normalize(value)
	for _, o := range opts {
		if o.Value == value || Normalize(o.Text) == want {
			if err := c.Element.SelectOption(ctx, o.Value); err != nil {
				return fmt.Errorf("select option %q: %w", o.Value, err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrOptionNotFound, value)
}

func (s *Setter) settle(ctx context.Context) error {
	return page.Sleep(ctx, s.opts.SettleDelay)
}
