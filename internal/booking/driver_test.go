package booking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/tablebook/internal/artifacts"
	"github.com/xkilldash9x/tablebook/internal/failure"
	"github.com/xkilldash9x/tablebook/internal/formfill"
	"github.com/xkilldash9x/tablebook/internal/page"
	"github.com/xkilldash9x/tablebook/internal/page/memdom"
	"github.com/xkilldash9x/tablebook/internal/reservation"
)

const reservationForm = `<html><body>
<h1>Nová rezervace</h1>
<form method="post" action="/reservation/save">
	<label for="guests">Počet hostů</label><input id="guests" name="guests" type="number">
	<label for="date">Datum</label><input id="date" name="date" type="date">
	<label for="time">Čas</label><input id="time" name="time" type="time">
	<label for="last">Příjmení</label><input id="last" name="last_name">
	<label for="first">Jméno</label><input id="first" name="first_name">
	%s
	<button type="submit">Uložit</button>
</form>
</body></html>`

const phoneField = `<label for="phone">Telefon</label><input id="phone" name="phone">`

const loginForm = `<html><body>
<form method="post" action="/login">
	<label for="u">E-mail</label><input id="u" name="email" type="email">
	<label for="pw">Heslo</label><input id="pw" name="password" type="password">
	<button type="submit">Přihlásit</button>
</form>
</body></html>`

// pickerRow renders a form row the way the reservation application does: a
// label column and a widget column whose button shows the current choice.
func pickerRow(label, field, placeholder string) string {
	return fmt.Sprintf(`<div class="form-group row">
		<div class="col-sm-4"><label class="col-form-label">%s</label></div>
		<div class="col-sm-8">
			<div class="form-control" role="button" tabindex="0" data-picker="%s">%s</div>
			<input type="hidden" name="%s">
		</div>
	</div>`, label, field, placeholder, field)
}

func inputRow(label, name string) string {
	return fmt.Sprintf(`<div class="form-group row">
		<div class="col-sm-4"><label class="col-form-label">%s</label></div>
		<div class="col-sm-8"><input class="form-control" name="%s"></div>
	</div>`, label, name)
}

var widgetForm = `<html><body>
<h1>Nová rezervace</h1>
<form method="post" action="/reservation/save">` +
	inputRow("Počet hostů", "guests") +
	pickerRow("Datum", "date", "Vyberte datum") +
	pickerRow("Čas", "time", "Vyberte čas") +
	pickerRow("Doba trvání", "duration", "2:30") +
	pickerRow("Zdroj", "source", "Vyberte") +
	pickerRow("Příležitost", "occasion", "Vyberte") +
	inputRow("Příjmení", "last_name") +
	inputRow("Jméno", "first_name") +
	inputRow("Telefon", "phone") + `
	<button type="submit">Uložit</button>
</form>
</body></html>`

// pickerChoices are the options each picker renders when opened, as
// text/value pairs.
var pickerChoices = map[string][][2]string{
	"time":     {{"18:00", "18:00"}, {"18:30", "18:30"}, {"19:00", "19:00"}},
	"duration": {{"1:30", "90"}, {"2:00", "120"}, {"2:30", "150"}},
	"source":   {{"Osobně", "walkin"}, {"Telefon", "phone"}, {"Web", "web"}},
	"occasion": {{"Normální návštěva", "normal"}, {"Narozeniny", "birthday"}},
}

// installPickers makes the widgets of widgetForm interactive: clicking a
// picker renders its option list at the end of the body, and clicking an
// option stores its value, shows its text on the picker and closes the list.
func installPickers(p *memdom.Page) {
	p.OnClick("//*[@data-picker]", func(_ context.Context, p *memdom.Page, target *html.Node) error {
		return p.Mutate(func(doc *html.Node) error {
			field := htmlquery.SelectAttr(target, "data-picker")
			if old := htmlquery.FindOne(doc, "//*[@id='picker-portal']"); old != nil {
				old.Parent.RemoveChild(old)
			}
			var b strings.Builder
			if field == "date" {
				b.WriteString(`<div id="picker-portal" class="calendar"><table><tr>`)
				for day := 1; day <= 31; day++ {
					fmt.Fprintf(&b, `<td role="gridcell" data-option-for="date" data-value="2024-05-%02d">%d</td>`, day, day)
				}
				b.WriteString(`</tr></table></div>`)
			} else {
				b.WriteString(`<div id="picker-portal"><ul role="listbox">`)
				for _, c := range pickerChoices[field] {
					fmt.Fprintf(&b, `<li role="option" data-option-for="%s" data-value="%s">%s</li>`, field, c[1], c[0])
				}
				b.WriteString(`</ul></div>`)
			}
			return memdom.AppendHTML(htmlquery.FindOne(doc, "//body"), b.String())
		})
	})
	p.OnClick("//*[@data-option-for]", func(_ context.Context, p *memdom.Page, target *html.Node) error {
		return p.Mutate(func(doc *html.Node) error {
			field := htmlquery.SelectAttr(target, "data-option-for")
			memdom.SetAttr(htmlquery.FindOne(doc, "//input[@name='"+field+"']"), "value", htmlquery.SelectAttr(target, "data-value"))
			button := htmlquery.FindOne(doc, "//*[@data-picker='"+field+"']")
			for c := button.FirstChild; c != nil; c = button.FirstChild {
				button.RemoveChild(c)
			}
			button.AppendChild(&html.Node{Type: html.TextNode, Data: htmlquery.InnerText(target)})
			portal := htmlquery.FindOne(doc, "//*[@id='picker-portal']")
			portal.Parent.RemoveChild(portal)
			return nil
		})
	})
}

// dishServer imitates the reservation application.
type dishServer struct {
	*httptest.Server
	requireLogin bool
	confirm      bool
	withPhone    bool
	widgets      bool

	mu        sync.Mutex
	submitted url.Values
	logins    int
}

func newDishServer(t *testing.T) *dishServer {
	s := &dishServer{confirm: true, withPhone: true}
	mux := http.NewServeMux()
	mux.HandleFunc("/reservation/add", func(w http.ResponseWriter, r *http.Request) {
		if s.requireLogin {
			if c, err := r.Cookie("session"); err != nil || c.Value != "ok" {
				http.Redirect(w, r, "/login?next=/reservation/add", http.StatusFound)
				return
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if s.widgets {
			_, _ = w.Write([]byte(widgetForm))
			return
		}
		extra := ""
		if s.withPhone {
			extra = phoneField
		}
		_, _ = w.Write([]byte(fmt.Sprintf(reservationForm, extra)))
	})
	mux.HandleFunc("/reservation/save", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		s.mu.Lock()
		s.submitted = r.PostForm
		s.mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if s.confirm {
			_, _ = w.Write([]byte(`<html><body><div class="alert">Rezervace byla uložena.</div></body></html>`))
			return
		}
		_, _ = w.Write([]byte(`<html><body><div class="spinner">Ukládám…</div></body></html>`))
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = r.ParseForm()
			s.mu.Lock()
			s.logins++
			s.mu.Unlock()
			if r.PostForm.Get("email") == "host@example.com" && r.PostForm.Get("password") == "s3cret" {
				http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
				http.Redirect(w, r, "/", http.StatusFound)
				return
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(loginForm))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>Přehled</body></html>`))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *dishServer) form() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

func testSettings(baseURL string) Settings {
	s := DefaultSettings()
	s.BaseURL = baseURL
	s.Timeout = time.Second
	s.OptionalTimeout = 80 * time.Millisecond
	s.ConfirmationTimeout = 300 * time.Millisecond
	s.NavigationTimeout = 5 * time.Second
	s.PostLoadWait = 0
	s.Resolver = formfill.ResolverOptions{PollInterval: 20 * time.Millisecond}
	s.Setter = formfill.SetterOptions{}
	return s
}

var validCreds = reservation.Credentials{Username: "host@example.com", Password: "s3cret"}

func scenarioRequest(t *testing.T) *reservation.Request {
	t.Helper()
	req, err := reservation.Parse([]byte(`{"date":"2024-05-01","time":"18:30","guests":2,"name":"Jan Novák","phone":"123456789"}`))
	require.NoError(t, err)
	return req
}

func newPage(t *testing.T) *memdom.Page {
	p, err := memdom.New(zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func states(res *Result) []State {
	var out []State
	for _, tr := range res.Trace {
		if len(out) == 0 || out[len(out)-1] != tr.To {
			out = append(out, tr.To)
		}
	}
	return out
}

func TestRunNativeForm(t *testing.T) {
	srv := newDishServer(t)
	d, err := NewDriver(zaptest.NewLogger(t), testSettings(srv.URL), WithCredentials(validCreds))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), newPage(t), scenarioRequest(t))
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, res.State)
	assert.Equal(t, []State{StateNavigating, StateFormReady, StateFilling, StateSubmitting, StateConfirmed}, states(res))
	assert.Equal(t, []string{FieldGuests, FieldDate, FieldTime, FieldLastName, FieldFirstName, FieldPhone}, res.Filled)
	assert.Equal(t, []string{FieldDuration, FieldSource, FieldOccasion}, res.Skipped)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.Error)

	form := srv.form()
	assert.Equal(t, "2", form.Get("guests"))
	assert.Equal(t, "2024-05-01", form.Get("date"))
	assert.Equal(t, "18:30", form.Get("time"))
	assert.Equal(t, "Novák", form.Get("last_name"))
	assert.Equal(t, "Jan", form.Get("first_name"))
	assert.Equal(t, "123456789", form.Get("phone"))
}

func TestRunWidgetForm(t *testing.T) {
	srv := newDishServer(t)
	srv.widgets = true
	s := testSettings(srv.URL)
	s.OptionalTimeout = 500 * time.Millisecond
	d, err := NewDriver(zaptest.NewLogger(t), s, WithCredentials(validCreds))
	require.NoError(t, err)
	p := newPage(t)
	installPickers(p)

	res, err := d.Run(context.Background(), p, scenarioRequest(t))
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, res.State)
	assert.Equal(t, []string{
		FieldGuests, FieldDate, FieldTime, FieldDuration, FieldSource, FieldOccasion,
		FieldLastName, FieldFirstName, FieldPhone,
	}, res.Filled)
	assert.Empty(t, res.Skipped)

	form := srv.form()
	assert.Equal(t, "2", form.Get("guests"))
	assert.Equal(t, "2024-05-01", form.Get("date"), "the calendar is fed the day of month")
	assert.Equal(t, "18:30", form.Get("time"))
	assert.Equal(t, "120", form.Get("duration"))
	assert.Equal(t, "phone", form.Get("source"))
	assert.Equal(t, "normal", form.Get("occasion"))
	assert.Equal(t, "Novák", form.Get("last_name"))
	assert.Equal(t, "Jan", form.Get("first_name"))
	assert.Equal(t, "123456789", form.Get("phone"), "the source picker showing Telefon must not capture the phone field")
}

func TestRunLogsInOnRedirect(t *testing.T) {
	srv := newDishServer(t)
	srv.requireLogin = true
	d, err := NewDriver(zaptest.NewLogger(t), testSettings(srv.URL), WithCredentials(validCreds))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), newPage(t), scenarioRequest(t))
	require.NoError(t, err)

	assert.Equal(t, []State{StateNavigating, StateLoggingIn, StateFormReady, StateFilling, StateSubmitting, StateConfirmed}, states(res))
	assert.Equal(t, 1, srv.logins)
	assert.Equal(t, "Jan", srv.form().Get("first_name"))
}

func TestRunRejectedLogin(t *testing.T) {
	srv := newDishServer(t)
	srv.requireLogin = true
	d, err := NewDriver(zaptest.NewLogger(t), testSettings(srv.URL),
		WithCredentials(reservation.Credentials{Username: "host@example.com", Password: "wrong"}))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), newPage(t), scenarioRequest(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrAuthentication)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, string(failure.KindAuthentication), res.ErrorKind)
}

func TestRunStaleCookiesWithoutCredentials(t *testing.T) {
	srv := newDishServer(t)
	srv.requireLogin = true
	cookies := []page.Cookie{{Name: "session", Value: "expired", Domain: "127.0.0.1", Path: "/"}}
	d, err := NewDriver(zaptest.NewLogger(t), testSettings(srv.URL), WithCookies(cookies))
	require.NoError(t, err)

	_, err = d.Run(context.Background(), newPage(t), scenarioRequest(t))
	assert.ErrorIs(t, err, failure.ErrAuthentication)
	assert.Zero(t, srv.logins)
}

func TestRunWithValidCookiesSkipsLogin(t *testing.T) {
	srv := newDishServer(t)
	srv.requireLogin = true
	cookies := []page.Cookie{{Name: "session", Value: "ok", Domain: "127.0.0.1", Path: "/"}}
	d, err := NewDriver(zaptest.NewLogger(t), testSettings(srv.URL), WithCookies(cookies))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), newPage(t), scenarioRequest(t))
	require.NoError(t, err)
	assert.NotContains(t, states(res), StateLoggingIn)
}

func TestRunConfirmationTimeoutWritesArtifacts(t *testing.T) {
	srv := newDishServer(t)
	srv.confirm = false
	dir := t.TempDir()
	sink, err := artifacts.NewLocalSink(dir)
	require.NoError(t, err)

	d, err := NewDriver(zaptest.NewLogger(t), testSettings(srv.URL),
		WithCredentials(validCreds),
		WithCapturer(artifacts.NewCollector(zaptest.NewLogger(t), sink)))
	require.NoError(t, err)

	start := time.Now()
	res, err := d.Run(context.Background(), newPage(t), scenarioRequest(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrConfirmationTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, StateSubmitting, res.Trace[len(res.Trace)-1].From)
	_, statErr := os.Stat(filepath.Join(dir, artifacts.ScreenshotName(res.RunID)))
	assert.NoError(t, statErr, "screenshot artifact must be written")
	assert.Contains(t, res.Artifacts, filepath.Join(dir, artifacts.MarkupName(res.RunID)))
}

func TestRunMissingRequiredField(t *testing.T) {
	srv := newDishServer(t)
	srv.withPhone = false
	s := testSettings(srv.URL)
	s.Timeout = 150 * time.Millisecond
	d, err := NewDriver(zaptest.NewLogger(t), s, WithCredentials(validCreds))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), newPage(t), scenarioRequest(t))
	require.Error(t, err)

	var fe *failure.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, failure.KindFieldResolution, fe.Kind)
	assert.Equal(t, FieldPhone, fe.Field)
	assert.Equal(t, failure.ReasonMissingField, fe.Reason)
	assert.True(t, formfill.IsNotFound(err))
	assert.Nil(t, srv.form(), "the form must not be submitted")
	assert.Equal(t, StateFilling, res.Trace[len(res.Trace)-1].From)
}

func TestRunSurvivesFailingCapturer(t *testing.T) {
	srv := newDishServer(t)
	srv.withPhone = false
	s := testSettings(srv.URL)
	s.Timeout = 100 * time.Millisecond
	d, err := NewDriver(zaptest.NewLogger(t), s, WithCredentials(validCreds), WithCapturer(failingCapturer{}))
	require.NoError(t, err)

	_, err = d.Run(context.Background(), newPage(t), scenarioRequest(t))
	assert.ErrorIs(t, err, failure.ErrFieldResolution, "a capture failure must not replace the original error")
}

type failingCapturer struct{}

func (failingCapturer) Capture(context.Context, page.Page, string) ([]string, error) {
	return nil, errors.New("disk full")
}

type memJournal struct {
	results []*Result
}

func (j *memJournal) Record(_ context.Context, res *Result) error {
	j.results = append(j.results, res)
	return nil
}

func TestRunRecordsJournal(t *testing.T) {
	srv := newDishServer(t)
	j := &memJournal{}
	d, err := NewDriver(zaptest.NewLogger(t), testSettings(srv.URL), WithCredentials(validCreds), WithJournal(j))
	require.NoError(t, err)

	res, err := d.Run(context.Background(), newPage(t), scenarioRequest(t))
	require.NoError(t, err)
	require.Len(t, j.results, 1)
	assert.Same(t, res, j.results[0])
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestNewDriverRequiresSessionMaterial(t *testing.T) {
	_, err := NewDriver(zaptest.NewLogger(t), DefaultSettings())
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	_, err = NewDriver(zaptest.NewLogger(t), DefaultSettings(), WithCredentials(reservation.Credentials{Username: "x"}))
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestOnAuthPage(t *testing.T) {
	markers := []string{"login", "signin", "auth"}
	assert.True(t, onAuthPage("https://reservation.dish.co/login?next=/", markers))
	assert.True(t, onAuthPage("https://auth.dish.co/realms/x", markers))
	assert.True(t, onAuthPage("https://reservation.dish.co/users/SignIn", markers))
	assert.False(t, onAuthPage("https://reservation.dish.co/reservation/add?date=2024-05-01", markers))
	assert.False(t, onAuthPage("https://author.example.com/", markers))
	assert.True(t, onAuthPage("https://sso-auth.example/", markers))
	assert.True(t, onAuthPage("https://login-dish.co/", markers))
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, canTransition(StateIdle, StateNavigating))
	assert.True(t, canTransition(StateFilling, StateFilling))
	assert.True(t, canTransition(StateNavigating, StateFailed))
	assert.False(t, canTransition(StateIdle, StateSubmitting))
	assert.False(t, canTransition(StateConfirmed, StateFailed))
	assert.False(t, canTransition(StateFailed, StateNavigating))
}
