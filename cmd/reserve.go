package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/artifacts"
	"github.com/xkilldash9x/tablebook/internal/booking"
	"github.com/xkilldash9x/tablebook/internal/config"
	"github.com/xkilldash9x/tablebook/internal/failure"
	"github.com/xkilldash9x/tablebook/internal/observability"
	"github.com/xkilldash9x/tablebook/internal/page"
	"github.com/xkilldash9x/tablebook/internal/page/cdp"
	"github.com/xkilldash9x/tablebook/internal/page/memdom"
	"github.com/xkilldash9x/tablebook/internal/page/pw"
	"github.com/xkilldash9x/tablebook/internal/reservation"
	"github.com/xkilldash9x/tablebook/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// memdomRequestsPerSecond keeps the browserless backend from hammering the
// site when a form posts back repeatedly.
const memdomRequestsPerSecond = 5

// pageOpener opens the page a run drives. The returned function releases
// it and everything launched for it.
type pageOpener func(ctx context.Context, logger *zap.Logger, cfg *config.Config) (page.Page, func(), error)

// journalOpener connects the run journal.
type journalOpener func(ctx context.Context, databaseURL string, logger *zap.Logger) (booking.Journal, func(), error)

// Replaced in tests.
var (
	openPage    pageOpener    = openBrowserPage
	openJournal journalOpener = openStoreJournal
	newS3Client               = artifacts.NewS3Client
)

func newReserveCmd() *cobra.Command {
	var payloadPath string

	reserveCmd := &cobra.Command{
		Use:   "reserve",
		Short: "Create one reservation from JSON reservation data",
		Long: `Create one reservation. The reservation data is read from --payload or the
RESERVATION_DATA environment variable. The run result is printed to stdout as
JSON; the command exits non-zero unless the reservation was confirmed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if err := applyReserveFlags(cmd, cfg); err != nil {
				return err
			}
			return runReserve(cmd.Context(), cmd.OutOrStdout(), cfg, payloadPath)
		},
	}

	reserveCmd.Flags().StringVarP(&payloadPath, "payload", "p", "", "path to a JSON file with the reservation data")
	reserveCmd.Flags().String("driver", "", "page backend: cdp, playwright or memdom (overrides config)")
	reserveCmd.Flags().Bool("headless", true, "run the browser without a window (overrides config)")
	reserveCmd.Flags().Duration("timeout", 0, "per-field resolution timeout (overrides config)")
	return reserveCmd
}

// applyReserveFlags copies explicitly set flags over the loaded config.
func applyReserveFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Browser.Driver, _ = flags.GetString("driver")
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless, _ = flags.GetBool("headless")
	}
	if flags.Changed("timeout") {
		cfg.Form.Timeout, _ = flags.GetDuration("timeout")
		if cfg.Form.OptionalTimeout > cfg.Form.Timeout {
			cfg.Form.OptionalTimeout = cfg.Form.Timeout
		}
	}
	if err := cfg.Validate(); err != nil {
		return failure.New(failure.KindConfiguration, "", err)
	}
	return nil
}

// runReserve validates every input before any page is opened, so a bad
// request never touches the browser.
func runReserve(ctx context.Context, out io.Writer, cfg *config.Config, payloadPath string) error {
	logger := observability.GetLogger().Named("reserve")

	req, err := loadRequest(cfg, payloadPath)
	if err != nil {
		return err
	}

	settings, err := booking.NewSettings(cfg)
	if err != nil {
		return failure.New(failure.KindConfiguration, "", err)
	}

	cookies, err := reservation.DecodeCookies(cfg.Credentials.Cookies)
	if err != nil {
		return err
	}

	collector, err := newCollector(logger, cfg.Artifacts)
	if err != nil {
		return failure.New(failure.KindConfiguration, "", err)
	}

	opts := []booking.Option{
		booking.WithCredentials(reservation.Credentials{
			Username: cfg.Credentials.Username,
			Password: cfg.Credentials.Password,
		}),
		booking.WithCookies(cookies),
		booking.WithCapturer(collector),
	}

	if cfg.Store.PostgresURL != "" {
		journal, closeJournal, err := openJournal(ctx, cfg.Store.PostgresURL, logger)
		if err != nil {
			logger.Warn("Run journal unavailable, continuing without it", zap.Error(err))
		} else {
			defer closeJournal()
			opts = append(opts, booking.WithJournal(journal))
		}
	}

	driver, err := booking.NewDriver(logger, settings, opts...)
	if err != nil {
		return err
	}

	logger.Info("Starting reservation",
		zap.String("date", req.Date()),
		zap.String("time", req.Time()),
		zap.Int("guests", req.Guests()),
		zap.String("driver", cfg.Browser.Driver),
		zap.String("username", observability.Redact(cfg.Credentials.Username)),
	)

	p, release, err := openPage(ctx, logger, cfg)
	if err != nil {
		return failure.New(failure.KindNavigation, "", fmt.Errorf("failed to open browser page: %w", err))
	}
	defer release()

	result, runErr := driver.Run(ctx, p, req)
	if result != nil {
		if err := writeResult(out, result); err != nil {
			logger.Warn("Failed to write run result", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("Reservation confirmed", zap.String("run_id", result.RunID))
	return nil
}

func loadRequest(cfg *config.Config, payloadPath string) (*reservation.Request, error) {
	if payloadPath != "" {
		return reservation.Load(payloadPath)
	}
	if strings.TrimSpace(cfg.Reservation.Data) == "" {
		return nil, failure.Newf(failure.KindConfiguration, "no reservation data: set RESERVATION_DATA or pass --payload")
	}
	return reservation.Parse([]byte(cfg.Reservation.Data))
}

func newCollector(logger *zap.Logger, cfg config.ArtifactsConfig) (*artifacts.Collector, error) {
	local, err := artifacts.NewLocalSink(cfg.Dir)
	if err != nil {
		return nil, err
	}
	sinks := []artifacts.Sink{local}
	if cfg.S3.Enabled {
		client, err := newS3Client(cfg.S3.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		sinks = append(sinks, artifacts.NewS3Sink(client, cfg.S3.Bucket, cfg.S3.Prefix))
	}
	return artifacts.NewCollector(logger, sinks...), nil
}

func writeResult(out io.Writer, result *booking.Result) error {
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func openStoreJournal(ctx context.Context, databaseURL string, logger *zap.Logger) (booking.Journal, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s, closeFn, err := store.Open(connectCtx, databaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return s, closeFn, nil
}

func openBrowserPage(ctx context.Context, logger *zap.Logger, cfg *config.Config) (page.Page, func(), error) {
	switch strings.ToLower(cfg.Browser.Driver) {
	case "memdom":
		opts := []memdom.Option{memdom.WithRateLimit(memdomRequestsPerSecond, 2)}
		if cfg.Browser.UserAgent != "" {
			opts = append(opts, memdom.WithUserAgent(cfg.Browser.UserAgent))
		}
		p, err := memdom.New(logger, opts...)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil

	case "playwright":
		b, err := pw.Launch(ctx, logger, cfg.Browser)
		if err != nil {
			return nil, nil, err
		}
		p, err := b.NewPage(ctx)
		if err != nil {
			_ = b.Close()
			return nil, nil, err
		}
		return p, func() {
			if err := b.Close(); err != nil {
				logger.Warn("Browser shutdown failed", zap.Error(err))
			}
		}, nil

	default:
		b, err := cdp.Launch(ctx, logger, cfg.Browser)
		if err != nil {
			return nil, nil, err
		}
		p, err := b.NewPage(ctx)
		if err != nil {
			b.Close()
			return nil, nil, err
		}
		return p, func() {
			p.Close()
			b.Close()
		}, nil
	}
}
