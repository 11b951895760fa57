package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tablebook/internal/booking"
	"github.com/xkilldash9x/tablebook/internal/failure"
	"github.com/xkilldash9x/tablebook/internal/formfill"
	"github.com/xkilldash9x/tablebook/internal/observability"
	"github.com/xkilldash9x/tablebook/internal/page/memdom"
)

// newResolveCmd replays a captured markup snapshot, typically an
// error-<id>.html artifact, through the field resolver.
func newResolveCmd() *cobra.Command {
	var (
		htmlPath string
		labels   []string
		button   bool
		timeout  time.Duration
	)

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show which control a label resolves to in a saved page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if len(labels) == 0 {
				return failure.Newf(failure.KindConfiguration, "at least one --label is required")
			}
			markup, err := os.ReadFile(htmlPath)
			if err != nil {
				return failure.Newf(failure.KindConfiguration, "failed to read snapshot: %w", err)
			}
			settings, err := booking.NewSettings(cfg)
			if err != nil {
				return failure.New(failure.KindConfiguration, "", err)
			}

			logger := observability.GetLogger().Named("resolve")
			p, err := memdom.New(logger)
			if err != nil {
				return err
			}
			if err := p.LoadHTML(settings.BaseURL+settings.ReservationPath, string(markup)); err != nil {
				return failure.New(failure.KindConfiguration, "", err)
			}

			resolver := formfill.NewResolver(logger, settings.Resolver)
			var ctrl *formfill.Control
			if button {
				pats := make([]formfill.Pattern, len(labels))
				for i, l := range labels {
					pats[i] = formfill.Text(l)
				}
				ctrl, err = resolver.ResolveButton(cmd.Context(), p, pats, timeout)
			} else {
				ctrl, err = resolver.Resolve(cmd.Context(), p, formfill.Text(labels...), timeout)
			}
			if err != nil {
				return failure.ForField(failure.KindFieldResolution, strings.Join(labels, "|"), "", err)
			}
			return printControl(cmd.OutOrStdout(), ctrl)
		},
	}

	resolveCmd.Flags().StringVar(&htmlPath, "html", "", "saved page markup to resolve against")
	resolveCmd.Flags().StringArrayVarP(&labels, "label", "l", nil, "label text to resolve (repeatable, alternatives)")
	resolveCmd.Flags().BoolVar(&button, "button", false, "resolve a button by its caption instead of a field")
	resolveCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "resolution timeout")
	_ = resolveCmd.MarkFlagRequired("html")
	return resolveCmd
}

func printControl(out io.Writer, ctrl *formfill.Control) error {
	el := ctrl.Element
	var attrs []string
	for _, name := range []string{"id", "name", "type", "role", "aria-label", "placeholder"} {
		if v, ok := el.Attr(name); ok {
			attrs = append(attrs, fmt.Sprintf("%s=%q", name, v))
		}
	}
	_, err := fmt.Fprintf(out, "label=%q strategy=%s kind=%s element=<%s %s>\n",
		ctrl.Label, ctrl.Strategy, ctrl.Kind, el.Tag(), strings.Join(attrs, " "))
	return err
}
