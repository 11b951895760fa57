package pagejs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind(t *testing.T) {
	doc := Find(`//label[contains(., "Datum")]`, "")
	assert.Contains(t, doc, `document.evaluate("//label[contains(., \"Datum\")]", document,`)

	scoped := Find(".//input", "7")
	assert.Contains(t, scoped, `__tbByRef("7")`)
	assert.Contains(t, scoped, RefAttr)
}

func TestOnElementEscapesValues(t *testing.T) {
	script := OnElement("3", SetValue(`O'Brien "Jr"`))
	assert.Contains(t, script, `const v = "O'Brien \"Jr\"";`)
	assert.Contains(t, script, `const el = __tbByRef("3");`)

	assert.Contains(t, Contains("12"), `__tbByRef("12")`)
	assert.Contains(t, Quiet(250), "const quiet = 250;")
}

func TestSelector(t *testing.T) {
	assert.Equal(t, `[data-tb-ref="4"]`, Selector("4"))
}

func TestDecode(t *testing.T) {
	raw := []any{
		map[string]any{"ref": "1", "tag": "input", "attrs": map[string]any{"type": "text"}, "text": ""},
		map[string]any{"ref": "2", "tag": "button", "attrs": map[string]any{}, "text": "Uložit"},
	}
	var infos []NodeInfo
	require.NoError(t, Decode(raw, &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "text", infos[0].Attrs["type"])
	assert.Equal(t, "Uložit", infos[1].Text)

	var opts []OptionInfo
	require.NoError(t, Decode([]any{map[string]any{"value": "120", "text": "2:00", "selected": true}}, &opts))
	assert.Equal(t, []OptionInfo{{Value: "120", Text: "2:00", Selected: true}}, opts)
}

func TestFindStampsReferences(t *testing.T) {
	script := Find("//x", "")
	assert.Contains(t, script, "data-tb-ref")
	assert.Contains(t, script, `el.setAttribute('data-tb-ref', ref)`)
	assert.Contains(t, script, `document.querySelector('[data-tb-ref="' + ref + '"]')`)
}

func TestVisibleChecksOcclusion(t *testing.T) {
	script := OnElement("5", Visible)
	assert.Contains(t, script, "document.elementFromPoint(x, y)")
	assert.Contains(t, script, "el.contains(hit) || hit.contains(el)")
	assert.Contains(t, script, "lbl.control === el")
}
