package formfill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/tablebook/internal/page/memdom"
)

func TestSetNativeText(t *testing.T) {
	p := loadPage(t, `<input id="tel" value="000">`)
	el := byID(t, p, "tel")
	c := &Control{Element: el, Kind: Classify(el), Label: "Telefon"}

	require.NoError(t, fastSetter(t).Set(context.Background(), p, c, "+420 777 123 456", time.Second))

	v, err := el.Value(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "+420 777 123 456", v)
}

func TestSetNativeTextFallsBackToTyping(t *testing.T) {
	input := &stubbornInput{value: "1"}
	kb := &keyboardPage{target: input}
	s := NewSetter(zapNop(), SetterOptions{DirectTimeout: time.Second, KeyDelay: 35 * time.Millisecond})
	c := &Control{Element: input, Kind: KindNativeText, Label: "Počet hostů"}

	require.NoError(t, s.Set(context.Background(), kb, c, "4", time.Second))

	assert.Equal(t, "4", input.value)
	assert.Equal(t, 1, input.clicked)
	assert.Equal(t, []string{selectAllChord}, kb.chords)
	assert.Equal(t, []string{"4"}, kb.typed)
	assert.Equal(t, 35*time.Millisecond, kb.delay)
}

func TestSetNativeSelect(t *testing.T) {
	body := `<select id="src">
		<option value="phone" selected>Telefon</option>
		<option value="web">Web</option>
		<option value="walkin">Osobně</option>
	</select>`

	t.Run("by visible text", func(t *testing.T) {
		p := loadPage(t, body)
		el := byID(t, p, "src")
		require.NoError(t, fastSetter(t).Set(context.Background(), p, &Control{Element: el, Kind: KindNativeSelect}, "osobně", time.Second))
		v, _ := el.Value(context.Background())
		assert.Equal(t, "walkin", v)
	})

	t.Run("by value", func(t *testing.T) {
		p := loadPage(t, body)
		el := byID(t, p, "src")
		require.NoError(t, fastSetter(t).Set(context.Background(), p, &Control{Element: el, Kind: KindNativeSelect}, "web", time.Second))
		v, _ := el.Value(context.Background())
		assert.Equal(t, "web", v)
	})

	t.Run("missing option leaves the value unchanged", func(t *testing.T) {
		p := loadPage(t, body)
		el := byID(t, p, "src")
		err := fastSetter(t).Set(context.Background(), p, &Control{Element: el, Kind: KindNativeSelect, Label: "Zdroj"}, "Fax", time.Second)

		var ie *InteractionError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "Zdroj", ie.Label)
		assert.ErrorIs(t, err, ErrOptionNotFound)

		v, _ := el.Value(context.Background())
		assert.Equal(t, "phone", v)
	})
}

func TestSetCustomWidget(t *testing.T) {
	p := loadPage(t, `<div class="row"><div role="button" id="w">Příjmení</div><input id="inline" style="display:none"></div>`)
	p.OnClick("//*[@id='w']", func(_ context.Context, p *memdom.Page, _ *html.Node) error {
		var input *html.Node
		err := p.Mutate(func(doc *html.Node) error {
			input = nodeByID(doc, "inline")
			memdom.RemoveAttr(input, "style")
			return nil
		})
		p.FocusNode(input)
		return err
	})
	el := byID(t, p, "w")

	require.NoError(t, fastSetter(t).Set(context.Background(), p, &Control{Element: el, Kind: Classify(el)}, "Novák", time.Second))

	v, _ := byID(t, p, "inline").Value(context.Background())
	assert.Equal(t, "Novák", v)
}

func TestSetEditable(t *testing.T) {
	p := loadPage(t, `<div id="notes" contenteditable="true">stará poznámka</div>`)
	el := byID(t, p, "notes")
	c := &Control{Element: el, Kind: Classify(el)}
	require.Equal(t, KindEditable, c.Kind)

	require.NoError(t, fastSetter(t).Set(context.Background(), p, c, "stůl u okna", time.Second))
	assert.Equal(t, "stůl u okna", byID(t, p, "notes").Text())
}

func TestSetInteractionFailure(t *testing.T) {
	p := loadPage(t, `<div role="button" id="w" hidden>x</div>`)
	el := byID(t, p, "w")
	err := fastSetter(t).Set(context.Background(), p, &Control{Element: el, Kind: KindCustomWidget, Label: "Jméno"}, "Jan", time.Second)

	var ie *InteractionError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, err.Error(), "click")
}

func TestClassify(t *testing.T) {
	p := loadPage(t, `
		<input id="a"><input id="b" type="number"><input id="c" type="submit">
		<textarea id="d"></textarea><select id="e"></select>
		<button id="f">Uložit</button><button id="g" type="button">Počet hostů</button>
		<div id="h" role="combobox"></div><div id="i" contenteditable></div>`)

	want := map[string]ControlKind{
		"a": KindNativeText, "b": KindNativeText, "c": KindButton,
		"d": KindNativeText, "e": KindNativeSelect,
		"f": KindButton, "g": KindCustomWidget,
		"h": KindCustomWidget, "i": KindEditable,
	}
	for id, kind := range want {
		assert.Equal(t, kind, Classify(byID(t, p, id)), "kind of #%s", id)
	}
}
