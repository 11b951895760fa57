package formfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/tablebook/internal/page"
	"github.com/xkilldash9x/tablebook/internal/page/memdom"
)

func TestResolveAccessibleName(t *testing.T) {
	p := &recordingPage{Page: loadPage(t, `
		<label>Telefon</label><div><input id="other"></div>
		<input id="phone" aria-label="Telefon">`)}

	c, err := fastResolver(t).Resolve(context.Background(), p, Text("Telefon"), time.Second)
	require.NoError(t, err)

	assert.Equal(t, StrategyAccessibleName, c.Strategy)
	assert.Equal(t, KindNativeText, c.Kind)
	id, _ := c.Element.Attr("id")
	assert.Equal(t, "phone", id)
	assert.False(t, p.queried(labelLikeElements), "later strategies must not run")
}

func TestResolveAccessibleNameSources(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"aria-labelledby", `<span id="lbl">Jméno</span><input id="target" aria-labelledby="lbl">`},
		{"placeholder", `<input id="target" placeholder="Jméno">`},
		{"title", `<textarea id="target" title="Jméno"></textarea>`},
		{"labelled widget", `<div id="target" role="button" aria-label="Jméno">Petr</div>`},
		{"skips invisible match", `<input aria-label="Jméno" hidden><input id="target" aria-label="Jméno">`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := loadPage(t, tt.body)
			c, err := fastResolver(t).Resolve(context.Background(), p, Text("Jméno"), time.Second)
			require.NoError(t, err)
			id, _ := c.Element.Attr("id")
			assert.Equal(t, "target", id)
			assert.Equal(t, StrategyAccessibleName, c.Strategy)
		})
	}
}

func TestResolveIgnoresWidgetValues(t *testing.T) {
	// The source picker shows its selected option, which reads like the
	// phone field's label.
	p := loadPage(t, `
		<form>
			<div class="form-group row">
				<div class="col-sm-4"><label>Zdroj</label></div>
				<div class="col-sm-8"><div class="form-control" role="button" id="source">Telefon</div></div>
			</div>
			<div class="form-group row">
				<div class="col-sm-4"><label>Telefon</label></div>
				<div class="col-sm-8"><input id="phone"></div>
			</div>
		</form>`)

	c, err := fastResolver(t).Resolve(context.Background(), p, Text("Telefon"), time.Second)
	require.NoError(t, err)
	id, _ := c.Element.Attr("id")
	assert.Equal(t, "phone", id)
	assert.Equal(t, StrategyProximity, c.Strategy)
	assert.Equal(t, KindNativeText, c.Kind)

	f := NewFiller(zaptest.NewLogger(t), fastResolver(t), fastSetter(t))
	require.NoError(t, f.Fill(context.Background(), p, FieldSpec{Name: "phone", Label: Text("Telefon"), Value: "123456789"}, time.Second))
	v, err := byID(t, p, "phone").Value(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123456789", v)
	assert.Equal(t, "Telefon", byID(t, p, "source").Text())
}

func TestResolveButtonUsesText(t *testing.T) {
	p := loadPage(t, `<div role="button" id="go">Vytvořit</div>`)
	c, err := fastResolver(t).ResolveButton(context.Background(), p, []Pattern{Text("Vytvořit")}, time.Second)
	require.NoError(t, err)
	id, _ := c.Element.Attr("id")
	assert.Equal(t, "go", id)
}

func TestResolveLabelAssociation(t *testing.T) {
	t.Run("explicit for reference", func(t *testing.T) {
		p := loadPage(t, `<label for="d">Datum</label><p>filler</p><input id="d" type="date">`)
		c, err := fastResolver(t).Resolve(context.Background(), p, Text("Datum"), time.Second)
		require.NoError(t, err)
		assert.Equal(t, StrategyLabelAssociation, c.Strategy)
		assert.Equal(t, "input", c.Element.Tag())
	})

	t.Run("for reference to a wrapper", func(t *testing.T) {
		p := loadPage(t, `<label for="w">Zdroj</label><div id="w"><select id="src"><option>Telefon</option></select></div>`)
		c, err := fastResolver(t).Resolve(context.Background(), p, Text("Zdroj"), time.Second)
		require.NoError(t, err)
		assert.Equal(t, StrategyLabelAssociation, c.Strategy)
		assert.Equal(t, KindNativeSelect, c.Kind)
	})

	t.Run("label wrapping its control", func(t *testing.T) {
		p := loadPage(t, `<label>Poznámky <textarea id="n"></textarea></label>`)
		c, err := fastResolver(t).Resolve(context.Background(), p, Text("Poznámky"), time.Second)
		require.NoError(t, err)
		assert.Equal(t, StrategyLabelAssociation, c.Strategy)
		assert.Equal(t, "textarea", c.Element.Tag())
	})

	t.Run("exact label outranks a longer one", func(t *testing.T) {
		p := loadPage(t, `
			<label for="a">Poznámky interní</label><input id="a">
			<label for="b">Poznámky</label><input id="b">`)
		c, err := fastResolver(t).Resolve(context.Background(), p, Text("Poznámky"), time.Second)
		require.NoError(t, err)
		id, _ := c.Element.Attr("id")
		assert.Equal(t, "b", id)
	})
}

func TestResolveStructuralProximity(t *testing.T) {
	p := loadPage(t, `
		<form>
			<div class="form-group row">
				<div class="col-sm-4"><label class="col-form-label">Příjmení *</label></div>
				<div class="col-sm-8"><div class="form-control" role="button" id="surname"></div></div>
			</div>
			<div class="form-group row">
				<div class="col-sm-4"><label>Jméno</label></div>
				<div class="col-sm-8"><div class="form-control" role="button" id="first"></div></div>
			</div>
		</form>`)
	r := fastResolver(t)

	c, err := r.Resolve(context.Background(), p, Text("Příjmení"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, StrategyProximity, c.Strategy)
	assert.Equal(t, KindCustomWidget, c.Kind)
	id, _ := c.Element.Attr("id")
	assert.Equal(t, "surname", id)

	c, err = r.Resolve(context.Background(), p, Text("Jméno"), time.Second)
	require.NoError(t, err)
	id, _ = c.Element.Attr("id")
	assert.Equal(t, "first", id)
}

func TestResolveProximitySkipsInlineWrappers(t *testing.T) {
	p := loadPage(t, `
		<div class="form-group row">
			<div class="col-sm-4"><span class="required"><span><b>Poznámky</b></span></span></div>
			<div class="col-sm-8"><textarea id="notes"></textarea></div>
		</div>`)
	r := NewResolver(zaptest.NewLogger(t), ResolverOptions{PollInterval: 20 * time.Millisecond, MaxAncestorDepth: 2})

	c, err := r.Resolve(context.Background(), p, Text("Poznámky"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, StrategyProximity, c.Strategy)
	id, _ := c.Element.Attr("id")
	assert.Equal(t, "notes", id)
}

func TestResolveVisibilityFallback(t *testing.T) {
	body := `<div class="row"><span>Zdroj</span><div style="display:none"><input id="src"></div></div>`

	t.Run("best effort returns the invisible candidate", func(t *testing.T) {
		c, err := fastResolver(t).Resolve(context.Background(), loadPage(t, body), Text("Zdroj"), time.Second)
		require.NoError(t, err)
		assert.Equal(t, StrategyProximity, c.Strategy)
		id, _ := c.Element.Attr("id")
		assert.Equal(t, "src", id)
	})

	t.Run("strict visibility refuses it", func(t *testing.T) {
		r := NewResolver(zaptest.NewLogger(t), ResolverOptions{PollInterval: 20 * time.Millisecond, StrictVisibility: true})
		_, err := r.Resolve(context.Background(), loadPage(t, body), Text("Zdroj"), 150*time.Millisecond)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, NotFound, re.Kind)
	})
}

func TestResolveFailures(t *testing.T) {
	t.Run("not found after the timeout", func(t *testing.T) {
		start := time.Now()
		_, err := fastResolver(t).Resolve(context.Background(), loadPage(t, `<p>nothing here</p>`), Text("Telefon"), 150*time.Millisecond)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, NotFound, re.Kind)
		assert.True(t, IsNotFound(err))
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("only invisible accessible matches", func(t *testing.T) {
		_, err := fastResolver(t).Resolve(context.Background(), loadPage(t, `<input aria-label="Telefon" style="display: none">`), Text("Telefon"), 150*time.Millisecond)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, AmbiguousNoVisibleMatch, re.Kind)
	})

	t.Run("page errors become a timeout", func(t *testing.T) {
		_, err := fastResolver(t).Resolve(context.Background(), &failingPage{Page: loadPage(t, "")}, Text("Telefon"), 100*time.Millisecond)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, Timeout, re.Kind)
		assert.ErrorIs(t, err, errPageGone)
	})
}

func TestResolveWaitsForLabel(t *testing.T) {
	p := loadPage(t, `<div id="root"></div>`)
	timer := time.AfterFunc(200*time.Millisecond, func() {
		_ = p.Mutate(func(doc *html.Node) error {
			return memdom.AppendHTML(nodeByID(doc, "root"), `<div><label>Telefon</label><input id="tel"></div>`)
		})
	})
	defer timer.Stop()

	c, err := fastResolver(t).Resolve(context.Background(), p, Text("Telefon"), 2*time.Second)
	require.NoError(t, err)
	id, _ := c.Element.Attr("id")
	assert.Equal(t, "tel", id)
}

func TestResolveButton(t *testing.T) {
	p := loadPage(t, `
		<button id="sms">Uložit a poslat SMS</button>
		<button id="cancel">Zrušit</button>
		<button id="save" type="submit">Uložit</button>`)

	c, err := fastResolver(t).ResolveButton(context.Background(), p, []Pattern{Text("Uložit"), Text("Save")}, time.Second)
	require.NoError(t, err)
	id, _ := c.Element.Attr("id")
	assert.Equal(t, "save", id, "exact names win over partial ones")
	assert.Equal(t, KindButton, c.Kind)

	_, err = fastResolver(t).ResolveButton(context.Background(), p, []Pattern{Text("Create")}, 100*time.Millisecond)
	assert.True(t, IsNotFound(err))
}

var errPageGone = errors.New("target closed")

type failingPage struct {
	*memdom.Page
}

func (f *failingPage) Find(context.Context, string) ([]page.Element, error) {
	return nil, errPageGone
}
