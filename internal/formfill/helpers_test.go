package formfill

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/tablebook/internal/page"
	"github.com/xkilldash9x/tablebook/internal/page/memdom"
)

// loadPage returns an in-memory page holding body.
func loadPage(t *testing.T, body string) *memdom.Page {
	t.Helper()
	p, err := memdom.New(zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, p.LoadHTML("https://reservation.example.test/reservation/add", "<html><body>"+body+"</body></html>"))
	return p
}

func fastResolver(t *testing.T) *Resolver {
	return NewResolver(zaptest.NewLogger(t), ResolverOptions{PollInterval: 20 * time.Millisecond, FallbackAfter: time.Nanosecond})
}

func fastSetter(t *testing.T) *Setter {
	return NewSetter(zaptest.NewLogger(t), SetterOptions{DirectTimeout: 500 * time.Millisecond})
}

func byID(t *testing.T, p page.Page, id string) page.Element {
	t.Helper()
	els, err := p.Find(context.Background(), "//*[@id='"+id+"']")
	require.NoError(t, err)
	require.Len(t, els, 1)
	return els[0]
}

func nodeByID(doc *html.Node, id string) *html.Node {
	return htmlquery.FindOne(doc, "//*[@id='"+id+"']")
}

// recordingPage wraps a page and records every document-level query.
type recordingPage struct {
	page.Page
	mu      sync.Mutex
	queries []string
}

func (r *recordingPage) Find(ctx context.Context, xpath string) ([]page.Element, error) {
	r.mu.Lock()
	r.queries = append(r.queries, xpath)
	r.mu.Unlock()
	return r.Page.Find(ctx, xpath)
}

func (r *recordingPage) queried(xpath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.queries {
		if q == xpath {
			return true
		}
	}
	return false
}

// stubbornInput models a framework-controlled input that reports success
// for direct assignment but keeps its own state, so only keystrokes stick.
type stubbornInput struct {
	page.Element
	value   string
	clicked int
}

func (s *stubbornInput) Tag() string                       { return "input" }
func (s *stubbornInput) Attr(string) (string, bool)          { return "", false }
func (s *stubbornInput) ScrollIntoView(context.Context) error { return nil }
func (s *stubbornInput) SetValue(context.Context, string) error {
	return nil
}
func (s *stubbornInput) Value(context.Context) (string, error) { return s.value, nil }
func (s *stubbornInput) Click(context.Context) error {
	s.clicked++
	return nil
}

// keyboardPage records keyboard input and forwards typed text to target.
type keyboardPage struct {
	page.Page
	target *stubbornInput
	chords []string
	typed  []string
	delay  time.Duration
}

func (k *keyboardPage) PressKeys(_ context.Context, chord string) error {
	k.chords = append(k.chords, chord)
	if chord == selectAllChord {
		k.target.value = ""
	}
	return nil
}

func (k *keyboardPage) TypeText(_ context.Context, text string, delay time.Duration) error {
	k.typed = append(k.typed, text)
	k.delay = delay
	k.target.value += text
	return nil
}

func zapNop() *zap.Logger { return zap.NewNop() }
