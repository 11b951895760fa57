package booking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/formfill"
	"github.com/xkilldash9x/tablebook/internal/page"
	"github.com/xkilldash9x/tablebook/internal/reservation"
)

// Authenticator logs the page into the reservation system.
type Authenticator interface {
	Login(ctx context.Context, p page.Page, creds reservation.Credentials) error
}

// Structural fallbacks used when no login field carries a known label.
const (
	usernameFallback = "//input[@type='email' or @name='username' or @name='email' or @autocomplete='username']"
	passwordFallback = "//input[@type='password']"
	submitFallback   = "//form[.//input[@type='password']]//*[self::button[not(@type) or @type='submit'] or self::input[@type='submit']]"
)

// FormLogin fills and submits a username/password login form.
type FormLogin struct {
	logger         *zap.Logger
	filler         *formfill.Filler
	usernameLabels []string
	passwordLabels []string
	submitLabels   []string
	timeout        time.Duration
	settle         time.Duration
}

// NewFormLogin creates a FormLogin using the labels from s.
func NewFormLogin(logger *zap.Logger, filler *formfill.Filler, s Settings) *FormLogin {
	return &FormLogin{
		logger:         logger.Named("login"),
		filler:         filler,
		usernameLabels: s.UsernameLabels,
		passwordLabels: s.PasswordLabels,
		submitLabels:   s.LoginLabels,
		timeout:        s.OptionalTimeout,
		settle:         s.PostLoadWait,
	}
}

// Login fills the credentials and submits the form.
func (l *FormLogin) Login(ctx context.Context, p page.Page, creds reservation.Credentials) error {
	if creds.Empty() {
		return errors.New("no credentials available")
	}

	user, err := l.locate(ctx, p, formfill.Text(l.usernameLabels...), usernameFallback)
	if err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	pass, err := l.locate(ctx, p, formfill.Text(l.passwordLabels...), passwordFallback)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}

	l.logger.Debug("Filling login form", zap.String("username", creds.Username))
	if err := l.filler.Setter().Set(ctx, p, user, creds.Username, l.timeout); err != nil {
		return err
	}
	if err := l.filler.Setter().Set(ctx, p, pass, creds.Password, l.timeout); err != nil {
		return err
	}

	submit, err := l.submitButton(ctx, p)
	if err != nil {
		l.logger.Debug("No login button found, pressing Enter", zap.Error(err))
		if err := pass.Element.Focus(ctx); err != nil {
			return fmt.Errorf("focus password field: %w", err)
		}
		if err := p.PressKeys(ctx, "Enter"); err != nil {
			return fmt.Errorf("submit login form: %w", err)
		}
	} else if err := submit.Element.Click(ctx); err != nil {
		return fmt.Errorf("click login button: %w", err)
	}

	if err := p.WaitStable(ctx, l.settle); err != nil && !errors.Is(err, page.ErrUnsupported) {
		return fmt.Errorf("wait after login: %w", err)
	}
	return nil
}

// locate resolves a login control by label, then by its structural
// attributes.
func (l *FormLogin) locate(ctx context.Context, p page.Page, pat formfill.Pattern, fallback string) (*formfill.Control, error) {
	c, err := l.filler.Resolver().Resolve(ctx, p, pat, l.timeout)
	if err == nil && c.Kind == formfill.KindNativeText {
		return c, nil
	}
	if c2 := firstVisible(ctx, p, fallback); c2 != nil {
		return c2, nil
	}
	if err == nil {
		err = fmt.Errorf("control labelled %s is not a text input", pat)
	}
	return nil, err
}

func (l *FormLogin) submitButton(ctx context.Context, p page.Page) (*formfill.Control, error) {
	pats := make([]formfill.Pattern, 0, len(l.submitLabels))
	for _, s := range l.submitLabels {
		pats = append(pats, formfill.Text(s))
	}
	if len(pats) > 0 {
		if c, err := l.filler.Resolver().ResolveButton(ctx, p, pats, l.timeout); err == nil {
			return c, nil
		}
	}
	if c := firstVisible(ctx, p, submitFallback); c != nil {
		return c, nil
	}
	return nil, errors.New("no login button")
}

func firstVisible(ctx context.Context, p page.Page, xpath string) *formfill.Control {
	els, err := p.Find(ctx, xpath)
	if err != nil {
		return nil
	}
	for _, el := range els {
		if ok, err := el.Visible(ctx); err == nil && ok {
			return &formfill.Control{Element: el, Kind: formfill.Classify(el), Label: xpath}
		}
	}
	return nil
}

// onAuthPage reports whether rawURL looks like a login page.
func onAuthPage(rawURL string, markers []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	// Host labels are split on dots and hyphens so "sso-auth" matches
	// while "author" does not.
	hostWords := strings.FieldsFunc(strings.ToLower(u.Hostname()), func(r rune) bool { return r == '.' || r == '-' })
	for _, m := range markers {
		m = strings.ToLower(m)
		if m == "" {
			continue
		}
		if strings.Contains(path, m) || slices.Contains(hostWords, m) {
			return true
		}
	}
	return false
}
