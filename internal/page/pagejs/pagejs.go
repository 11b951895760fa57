// Package pagejs holds the in-page scripts shared by the browser backends.
// Elements handed out by Find are stamped with a reference attribute so
// that later calls can address them again with a CSS selector.
package pagejs

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RefAttr is the attribute carrying element references.
const RefAttr = "data-tb-ref"

// Selector returns the CSS selector of the element with ref.
func Selector(ref string) string {
	return fmt.Sprintf(`[%s="%s"]`, RefAttr, ref)
}

// String renders s as a JavaScript string literal.
func String(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// Decode converts a value already decoded by a driver (maps, slices,
// float64s) into out.
func Decode(v, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// NodeInfo is the snapshot of an element returned by the find script.
type NodeInfo struct {
	Ref   string            `json:"ref"`
	Tag   string            `json:"tag"`
	Attrs map[string]string `json:"attrs"`
	Text  string            `json:"text"`
}

// OptionInfo is one option of a native select.
type OptionInfo struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
}

const jsPrelude = `
const __tbByRef = (ref) => {
  const el = document.querySelector('[` + RefAttr + `="' + ref + '"]');
  if (!el) throw new Error('detached');
  return el;
};
const __tbRef = (el) => {
  let ref = el.getAttribute('` + RefAttr + `');
  if (!ref) {
    window.__tbSeq = (window.__tbSeq || 0) + 1;
    ref = String(window.__tbSeq);
    el.setAttribute('` + RefAttr + `', ref);
  }
  return ref;
};
const __tbText = (el) => (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim();
`

// Find evaluates xpath relative to the element with ref, or to the
// document when ref is empty.
func Find(xpath, ref string) string {
	ctxNode := "document"
	if ref != "" {
		ctxNode = fmt.Sprintf("__tbByRef(%s)", String(ref))
	}
	return fmt.Sprintf(`(() => {%s
  const snap = document.evaluate(%s, %s, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
  const out = [];
  for (let i = 0; i < snap.snapshotLength; i++) {
    const el = snap.snapshotItem(i);
    if (el.nodeType !== 1) continue;
    const attrs = {};
    for (const a of el.attributes) if (a.name !== '`+RefAttr+`') attrs[a.name] = a.value;
    out.push({ref: __tbRef(el), tag: el.localName, attrs, text: __tbText(el)});
  }
  return out;
})()`, jsPrelude, String(xpath), ctxNode)
}

// OnElement runs body with el bound to the element with ref.
func OnElement(ref, body string) string {
	return fmt.Sprintf(`(() => {%s
  const el = __tbByRef(%s);
  %s
})()`, jsPrelude, String(ref), body)
}

// Bodies for OnElement. Each returns a JSON-serializable value.

// Visible reports whether el is rendered and, when its centre is inside the
// viewport, not covered by another element such as a consent overlay.
const Visible = `
  if (el.closest('[hidden]')) return false;
  const style = getComputedStyle(el);
  if (style.display === 'none' || style.visibility === 'hidden' || style.visibility === 'collapse') return false;
  if (el.localName === 'input' && (el.type || '').toLowerCase() === 'hidden') return false;
  if (typeof el.checkVisibility === 'function' && !el.checkVisibility({opacityProperty: false})) return false;
  if (el.getClientRects().length === 0) return false;
  const r = el.getBoundingClientRect();
  const x = r.left + r.width / 2, y = r.top + r.height / 2;
  if (x < 0 || y < 0 || x >= window.innerWidth || y >= window.innerHeight) return true;
  const hit = document.elementFromPoint(x, y);
  if (!hit || el.contains(hit) || hit.contains(el)) return true;
  const lbl = hit.closest('label');
  return !!lbl && lbl.control === el;`

const setValueBody = `
  const v = %s;
  if (el.isContentEditable) { el.textContent = v; el.dispatchEvent(new Event('input', {bubbles: true})); return true; }
  let proto = HTMLInputElement.prototype;
  if (el instanceof HTMLTextAreaElement) proto = HTMLTextAreaElement.prototype;
  else if (el instanceof HTMLSelectElement) proto = HTMLSelectElement.prototype;
  else if (!(el instanceof HTMLInputElement)) throw new Error('element has no assignable value');
  if (el.readOnly) throw new Error('input is read-only');
  Object.getOwnPropertyDescriptor(proto, 'value').set.call(el, v);
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;`

const Value = `return ('value' in el && el.localName !== 'li' && el.localName !== 'button') ? String(el.value) : (el.textContent || '');`

const Options = `
  if (!(el instanceof HTMLSelectElement)) throw new Error('element is not a select element');
  return Array.from(el.options).map(o => ({value: o.value, text: o.text.replace(/\s+/g, ' ').trim(), selected: o.selected}));`

const selectOptionBody = `
  if (!(el instanceof HTMLSelectElement)) throw new Error('element is not a select element');
  const v = %s;
  if (!Array.from(el.options).some(o => o.value === v)) throw new Error('no option with value ' + v);
  Object.getOwnPropertyDescriptor(HTMLSelectElement.prototype, 'value').set.call(el, v);
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;`

const containsBody = `return el.contains(__tbByRef(%s));`

const Scroll = `el.scrollIntoView({block: 'center', inline: 'center'}); return true;`

// ForceClick dispatches a click without the pointer checks a real click
// performs, for controls that never report themselves visible.
const ForceClick = `el.click(); return true;`

const Focus = `el.focus(); return document.activeElement === el;`

const BodyText = `document.body ? document.body.innerText : ''`

// quietScript resolves once the DOM has not changed for the given number
// of milliseconds and the document finished loading.
const quietScript = `new Promise((resolve) => {
  const quiet = %d;
  let timer;
  const done = () => { if (document.readyState === 'complete') { obs.disconnect(); resolve(true); } else { arm(); } };
  const arm = () => { clearTimeout(timer); timer = setTimeout(done, quiet); };
  const obs = new MutationObserver(arm);
  obs.observe(document, {subtree: true, childList: true, attributes: true, characterData: true});
  arm();
})`

// SetValue assigns value through the native setter and fires input and
// change events.
func SetValue(value string) string { return fmt.Sprintf(setValueBody, String(value)) }

// SelectOption selects the native option with value.
func SelectOption(value string) string { return fmt.Sprintf(selectOptionBody, String(value)) }

// Contains reports whether the element with ref is inside el.
func Contains(ref string) string { return fmt.Sprintf(containsBody, String(ref)) }

// Quiet resolves once the document is loaded and the DOM has not changed for ms.
func Quiet(ms int64) string { return fmt.Sprintf(quietScript, ms) }
