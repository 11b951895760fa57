package booking

import (
	"fmt"
	"regexp"
	"time"

	"github.com/xkilldash9x/tablebook/internal/config"
	"github.com/xkilldash9x/tablebook/internal/formfill"
)

// Settings is the part of the configuration a Driver needs.
type Settings struct {
	BaseURL          string
	ReservationPath  string
	AuthMarkers      []string
	SubmitLabels     []string
	Confirmation     []*regexp.Regexp
	OverlaySelectors []string

	UsernameLabels []string
	PasswordLabels []string
	LoginLabels    []string

	// Option defaults used when the request does not override them.
	Duration string
	Source   string
	Occasion string
	// Labels overrides the label texts of individual plan fields.
	Labels map[string][]string

	Timeout             time.Duration
	OptionalTimeout     time.Duration
	ConfirmationTimeout time.Duration
	CaptureTimeout      time.Duration
	NavigationTimeout   time.Duration
	PostLoadWait        time.Duration

	Resolver formfill.ResolverOptions
	Setter   formfill.SetterOptions
}

// NewSettings derives driver settings from cfg.
func NewSettings(cfg *config.Config) (Settings, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.Site.ConfirmationPatterns))
	for _, expr := range cfg.Site.ConfirmationPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid confirmation pattern %q: %w", expr, err)
		}
		patterns = append(patterns, re)
	}

	return Settings{
		BaseURL:             cfg.Site.BaseURL,
		ReservationPath:     cfg.Site.ReservationPath,
		AuthMarkers:         cfg.Site.AuthMarkers,
		SubmitLabels:        cfg.Site.SubmitLabels,
		Confirmation:        patterns,
		OverlaySelectors:    cfg.Site.OverlaySelectors,
		UsernameLabels:      cfg.Site.UsernameLabels,
		PasswordLabels:      cfg.Site.PasswordLabels,
		LoginLabels:         cfg.Site.LoginLabels,
		Duration:            cfg.Form.Duration,
		Source:              cfg.Form.Source,
		Occasion:            cfg.Form.Occasion,
		Labels:              cfg.Form.Labels,
		Timeout:             cfg.Form.Timeout,
		OptionalTimeout:     cfg.Form.OptionalTimeout,
		ConfirmationTimeout: cfg.Form.ConfirmationTimeout,
		CaptureTimeout:      cfg.Artifacts.CaptureTimeout,
		NavigationTimeout:   cfg.Browser.NavigationTimeout,
		PostLoadWait:        cfg.Browser.PostLoadWait,
		Resolver: formfill.ResolverOptions{
			PollInterval:     cfg.Form.PollInterval,
			StrictVisibility: cfg.Form.StrictVisibility,
		},
		Setter: formfill.SetterOptions{
			KeyDelay:    cfg.Form.KeyDelay,
			SettleDelay: cfg.Form.SettleDelay,
		},
	}, nil
}

// DefaultSettings returns the settings of the default configuration.
func DefaultSettings() Settings {
	s, err := NewSettings(config.NewDefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("default settings are invalid: %v", err))
	}
	return s
}
