// Package artifacts captures diagnostics from a page after a failed run and
// hands them to one or more sinks.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/tablebook/internal/page"
)

// Artifact is one captured file.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// Sink persists artifacts and returns where each one ended up.
type Sink interface {
	Store(ctx context.Context, runID string, a Artifact) (string, error)
}

// Collector captures a screenshot and the markup of a page.
type Collector struct {
	logger *zap.Logger
	sinks  []Sink
}

// NewCollector creates a Collector writing to sinks.
func NewCollector(logger *zap.Logger, sinks ...Sink) *Collector {
	return &Collector{logger: logger.Named("artifacts"), sinks: sinks}
}

// ScreenshotName and MarkupName are the file names of a run's artifacts.
func ScreenshotName(runID string) string { return fmt.Sprintf("error-%s.png", runID) }
func MarkupName(runID string) string     { return fmt.Sprintf("error-%s.html", runID) }

// Capture grabs what it can from p and stores it in every sink. Partial
// results are returned together with the errors that prevented the rest.
func (c *Collector) Capture(ctx context.Context, p page.Page, runID string) ([]string, error) {
	var (
		items []Artifact
		errs  []error
	)
	if shot, err := p.Screenshot(ctx); err != nil {
		errs = append(errs, fmt.Errorf("screenshot: %w", err))
	} else {
		items = append(items, Artifact{Name: ScreenshotName(runID), ContentType: "image/png", Data: shot})
	}
	if markup, err := p.Content(ctx); err != nil {
		errs = append(errs, fmt.Errorf("page content: %w", err))
	} else {
		items = append(items, Artifact{Name: MarkupName(runID), ContentType: "text/html; charset=utf-8", Data: []byte(markup)})
	}

	// Sinks are independent: one failing sink must not cancel the others.
	var (
		mu        sync.Mutex
		locations []string
		g         errgroup.Group
	)
	for _, sink := range c.sinks {
		for _, item := range items {
			g.Go(func() error {
				loc, err := sink.Store(ctx, runID, item)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, fmt.Errorf("store %s: %w", item.Name, err))
					return nil
				}
				locations = append(locations, loc)
				return nil
			})
		}
	}
	_ = g.Wait()
	sort.Strings(locations)

	for _, loc := range locations {
		c.logger.Info("Wrote diagnostic artifact", zap.String("location", loc))
	}
	return locations, errors.Join(errs...)
}
