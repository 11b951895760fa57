// Package booking drives a reservation through the DISH "add reservation"
// form as an explicit state machine:
//
//	Idle -> Navigating -> (LoggingIn) -> FormReady -> Filling(i)... -> Submitting -> Confirmed
//
// Any state may move to Failed. The page is owned by the caller.
package booking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablebook/internal/failure"
	"github.com/xkilldash9x/tablebook/internal/formfill"
	"github.com/xkilldash9x/tablebook/internal/page"
	"github.com/xkilldash9x/tablebook/internal/reservation"
)

// Capturer writes diagnostic artifacts for a failed run and returns their
// locations.
type Capturer interface {
	Capture(ctx context.Context, p page.Page, runID string) ([]string, error)
}

// Journal records the outcome of every run.
type Journal interface {
	Record(ctx context.Context, res *Result) error
}

// Result describes a finished run.
type Result struct {
	RunID      string       `json:"run_id"`
	State      State        `json:"state"`
	Trace      []Transition `json:"trace"`
	URL        string       `json:"url,omitempty"`
	Filled     []string     `json:"filled,omitempty"`
	Skipped    []string     `json:"skipped,omitempty"`
	Artifacts  []string     `json:"artifacts,omitempty"`
	ErrorKind  string       `json:"error_kind,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Option configures a Driver.
type Option func(*Driver)

// WithCredentials sets the account used when the session is not logged in.
func WithCredentials(c reservation.Credentials) Option {
	return func(d *Driver) { d.creds = c }
}

// WithCookies injects session cookies before the first navigation.
func WithCookies(c []page.Cookie) Option {
	return func(d *Driver) { d.cookies = c }
}

// WithCapturer sets where failure artifacts go.
func WithCapturer(c Capturer) Option {
	return func(d *Driver) { d.capturer = c }
}

// WithJournal records every run outcome.
func WithJournal(j Journal) Option {
	return func(d *Driver) { d.journal = j }
}

// WithAuthenticator replaces the default form login.
func WithAuthenticator(a Authenticator) Option {
	return func(d *Driver) { d.auth = a }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// Driver runs reservation requests against a page.
type Driver struct {
	logger   *zap.Logger
	settings Settings
	filler   *formfill.Filler
	auth     Authenticator
	capturer Capturer
	journal  Journal
	creds    reservation.Credentials
	cookies  []page.Cookie
	now      func() time.Time
}

// NewDriver creates a Driver. Credentials are required unless session
// cookies are supplied.
func NewDriver(logger *zap.Logger, s Settings, opts ...Option) (*Driver, error) {
	logger = logger.Named("booking")
	d := &Driver{
		logger:   logger,
		settings: s,
		now:      time.Now,
	}
	d.filler = formfill.NewFiller(logger, formfill.NewResolver(logger, s.Resolver), formfill.NewSetter(logger, s.Setter))
	for _, opt := range opts {
		opt(d)
	}
	if err := d.creds.Validate(); err != nil {
		return nil, err
	}
	if d.creds.Empty() && len(d.cookies) == 0 {
		return nil, failure.Newf(failure.KindConfiguration, "credentials are required when no session cookies are supplied")
	}
	if d.auth == nil {
		d.auth = NewFormLogin(logger, d.filler, s)
	}
	return d, nil
}

// run is the mutable state of one Run call.
type run struct {
	d      *Driver
	logger *zap.Logger
	res    *Result
	state  State
}

func (r *run) transition(to State, field string) {
	if !canTransition(r.state, to) {
		// A programming error; recorded so the trace shows it.
		r.logger.Error("Illegal state transition", zap.String("from", string(r.state)), zap.String("to", string(to)))
	}
	r.res.Trace = append(r.res.Trace, Transition{From: r.state, To: to, Field: field, At: r.d.now()})
	r.logger.Debug("State transition", zap.String("from", string(r.state)), zap.String("to", string(to)), zap.String("field", field))
	r.state = to
	r.res.State = to
}

// Run fills and submits the reservation form for req. The returned Result
// is always non-nil; the error is a *failure.Error when the run failed.
func (d *Driver) Run(ctx context.Context, p page.Page, req *reservation.Request) (*Result, error) {
	runID := uuid.NewString()
	r := &run{
		d:      d,
		logger: d.logger.With(zap.String("run_id", runID)),
		res:    &Result{RunID: runID, State: StateIdle, StartedAt: d.now()},
		state:  StateIdle,
	}

	err := r.execute(ctx, p, req)
	if err != nil {
		r.fail(ctx, p, err)
	} else {
		r.logger.Info("Reservation confirmed", zap.String("url", p.URL()))
	}
	r.res.URL = p.URL()
	r.res.FinishedAt = d.now()

	if d.journal != nil {
		jctx, cancel := context.WithTimeout(page.Detach(ctx), 10*time.Second)
		if jerr := d.journal.Record(jctx, r.res); jerr != nil {
			r.logger.Warn("Failed to record run outcome", zap.Error(jerr))
		}
		cancel()
	}
	return r.res, err
}

func (r *run) execute(ctx context.Context, p page.Page, req *reservation.Request) error {
	if req == nil {
		return failure.Newf(failure.KindConfiguration, "no reservation request")
	}
	s := r.d.settings

	r.transition(StateNavigating, "")
	target, err := r.targetURL(req)
	if err != nil {
		return err
	}
	if len(r.d.cookies) > 0 {
		if err := p.SetCookies(ctx, r.d.cookies); err != nil {
			return failure.New(failure.KindNavigation, "", fmt.Errorf("inject session cookies: %w", err))
		}
	}
	if err := r.navigate(ctx, p, target); err != nil {
		return err
	}

	if onAuthPage(p.URL(), s.AuthMarkers) {
		if err := r.login(ctx, p, target); err != nil {
			return err
		}
	}

	r.transition(StateFormReady, "")
	r.removeOverlays(ctx, p)

	for _, spec := range BuildPlan(req, s) {
		r.transition(StateFilling, spec.Name)
		if err := r.fill(ctx, p, spec); err != nil {
			return err
		}
	}

	r.transition(StateSubmitting, "")
	if err := r.submit(ctx, p); err != nil {
		return err
	}
	if err := r.awaitConfirmation(ctx, p); err != nil {
		return err
	}
	r.transition(StateConfirmed, "")
	return nil
}

func (r *run) targetURL(req *reservation.Request) (string, error) {
	s := r.d.settings
	base, err := url.Parse(strings.TrimRight(s.BaseURL, "/") + s.ReservationPath)
	if err != nil {
		return "", failure.New(failure.KindConfiguration, "", fmt.Errorf("invalid reservation URL: %w", err))
	}
	q := base.Query()
	q.Set("date", req.Date())
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (r *run) navigate(ctx context.Context, p page.Page, target string) error {
	s := r.d.settings
	navCtx := ctx
	if s.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, s.NavigationTimeout)
		defer cancel()
	}
	r.logger.Info("Navigating to reservation form", zap.String("url", target))
	if err := p.Navigate(navCtx, target); err != nil {
		return failure.New(failure.KindNavigation, "", fmt.Errorf("navigate to %s: %w", target, err))
	}
	if err := p.WaitStable(navCtx, s.PostLoadWait); err != nil && !errors.Is(err, page.ErrUnsupported) {
		return failure.New(failure.KindNavigation, "", fmt.Errorf("wait for %s to settle: %w", target, err))
	}
	return nil
}

func (r *run) login(ctx context.Context, p page.Page, target string) error {
	r.transition(StateLoggingIn, "")
	r.logger.Info("Session is not authenticated, logging in", zap.String("url", p.URL()))

	if r.d.creds.Empty() {
		return failure.Newf(failure.KindAuthentication, "session cookies were rejected and no credentials are configured")
	}
	if err := r.d.auth.Login(ctx, p, r.d.creds); err != nil {
		return failure.New(failure.KindAuthentication, "", err)
	}
	if err := r.navigate(ctx, p, target); err != nil {
		return err
	}
	if onAuthPage(p.URL(), r.d.settings.AuthMarkers) {
		return failure.Newf(failure.KindAuthentication, "still on a login page after signing in (%s)", p.URL())
	}
	return nil
}

// overlayScript removes consent banners and similar overlays, including
// ones rendered into shadow roots.
const overlayScript = `(() => {
  const sels = %s;
  const roots = [document];
  document.querySelectorAll('*').forEach(el => { if (el.shadowRoot) roots.push(el.shadowRoot); });
  for (const root of roots) for (const s of sels) root.querySelectorAll(s).forEach(el => el.remove());
  document.body && (document.body.style.overflow = 'auto');
})()`

func (r *run) removeOverlays(ctx context.Context, p page.Page) {
	sels := r.d.settings.OverlaySelectors
	if len(sels) == 0 {
		return
	}
	quoted := make([]string, len(sels))
	for i, s := range sels {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	script := fmt.Sprintf(overlayScript, "["+strings.Join(quoted, ",")+"]")
	if err := p.Evaluate(ctx, script); err != nil && !errors.Is(err, page.ErrUnsupported) {
		r.logger.Debug("Overlay removal failed", zap.Error(err))
	}
}

func (r *run) fill(ctx context.Context, p page.Page, spec formfill.FieldSpec) error {
	timeout := r.d.settings.Timeout
	if spec.Optional && r.d.settings.OptionalTimeout > 0 {
		timeout = r.d.settings.OptionalTimeout
	}

	err := r.d.filler.Fill(ctx, p, spec, timeout)
	switch {
	case err == nil:
		r.res.Filled = append(r.res.Filled, spec.Name)
		return nil
	case spec.Optional && formfill.IsNotFound(err):
		r.logger.Info("Optional field not present, skipping", zap.String("field", spec.Name))
		r.res.Skipped = append(r.res.Skipped, spec.Name)
		return nil
	}
	return classify(spec.Name, err)
}

// classify maps engine errors onto the run's failure taxonomy.
func classify(field string, err error) error {
	var re *formfill.ResolutionError
	if errors.As(err, &re) {
		return failure.ForField(failure.KindFieldResolution, field, failure.ReasonMissingField, err)
	}
	reason := ""
	if errors.Is(err, formfill.ErrOptionNotFound) {
		reason = failure.ReasonOptionNotFound
	}
	return failure.ForField(failure.KindInteraction, field, reason, err)
}

func (r *run) submit(ctx context.Context, p page.Page) error {
	labels := r.d.settings.SubmitLabels
	pats := make([]formfill.Pattern, 0, len(labels))
	for _, l := range labels {
		pats = append(pats, formfill.Text(l))
	}
	btn, err := r.d.filler.Resolver().ResolveButton(ctx, p, pats, r.d.settings.Timeout)
	if err != nil {
		return failure.New(failure.KindSubmission, failure.ReasonNotFound, err)
	}
	r.logger.Info("Submitting reservation", zap.String("button", btn.Label))
	if err := btn.Element.Click(ctx); err != nil {
		return failure.New(failure.KindSubmission, "", fmt.Errorf("click %s: %w", btn.Label, err))
	}
	return nil
}

func (r *run) awaitConfirmation(ctx context.Context, p page.Page) error {
	s := r.d.settings
	ctx, cancel := context.WithTimeout(ctx, s.ConfirmationTimeout)
	defer cancel()

	interval := s.Resolver.PollInterval
	if interval <= 0 {
		interval = formfill.DefaultResolverOptions().PollInterval
	}
	for {
		text, err := p.BodyText(ctx)
		if err == nil {
			for _, re := range s.Confirmation {
				if re.MatchString(text) {
					return nil
				}
			}
		} else {
			r.logger.Debug("Reading page text failed", zap.Error(err))
		}
		if page.Sleep(ctx, interval) != nil {
			return failure.Newf(failure.KindConfirmationTimeout, "no confirmation within %s", s.ConfirmationTimeout)
		}
	}
}

// fail moves the run to Failed and captures artifacts on a context that
// survives the cancellation of ctx.
func (r *run) fail(ctx context.Context, p page.Page, err error) {
	if !r.state.Terminal() {
		r.transition(StateFailed, "")
	}
	r.res.ErrorKind = string(failure.KindOf(err))
	r.res.Error = err.Error()
	r.logger.Error("Reservation failed", zap.String("kind", r.res.ErrorKind), zap.Error(err))

	if r.d.capturer == nil {
		return
	}
	budget := r.d.settings.CaptureTimeout
	if budget <= 0 {
		budget = 20 * time.Second
	}
	cctx, cancel := context.WithTimeout(page.Detach(ctx), budget)
	defer cancel()
	paths, cerr := r.d.capturer.Capture(cctx, p, r.res.RunID)
	r.res.Artifacts = paths
	if cerr != nil {
		r.logger.Warn("Failed to capture diagnostics", zap.Error(cerr))
	}
}
