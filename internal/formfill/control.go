package formfill

import (
	"strings"

	"github.com/xkilldash9x/tablebook/internal/page"
)

// ControlKind is the interaction style a resolved element needs.
type ControlKind int

const (
	KindNativeText ControlKind = iota
	KindNativeSelect
	KindCustomWidget
	KindEditable
	KindButton
)

func (k ControlKind) String() string {
	switch k {
	case KindNativeText:
		return "native-text"
	case KindNativeSelect:
		return "native-select"
	case KindCustomWidget:
		return "custom-widget"
	case KindEditable:
		return "contenteditable"
	case KindButton:
		return "button"
	}
	return "unknown"
}

// Strategy identifies which step of the resolution chain produced a control.
type Strategy int

const (
	StrategyAccessibleName Strategy = iota + 1
	StrategyLabelAssociation
	StrategyProximity
)

func (s Strategy) String() string {
	switch s {
	case StrategyAccessibleName:
		return "accessible-name"
	case StrategyLabelAssociation:
		return "label-association"
	case StrategyProximity:
		return "structural-proximity"
	}
	return "none"
}

// Control is one interactable element resolved for a single field step.
// It must not be reused after the step: the page may re-render.
type Control struct {
	Element  page.Element
	Kind     ControlKind
	Strategy Strategy
	// Label is the pattern the control was resolved for.
	Label string
}

// controlPredicate selects elements a value can be written into or that
// open a widget when clicked.
const controlPredicate = "self::input[not(@type='hidden')] or self::textarea or self::select or self::button" +
	" or @role='combobox' or @role='spinbutton' or @role='textbox' or @role='listbox' or @role='button'" +
	" or @contenteditable='true' or @contenteditable=''"

var (
	descendantControls = ".//*[" + controlPredicate + "]"

	// accessibleNamedControls are the candidates of the accessible-name
	// strategy: controls and widgets carrying a labelling attribute. Text
	// content does not name a field control.
	accessibleNamedControls = "//*[(" + controlPredicate + ")" +
		" and (@aria-label or @aria-labelledby or @placeholder or @title)]"

	// labelLikeElements leaves out widgets: their text is a current value.
	labelLikeElements = "//label | //legend" +
		" | //*[self::span or self::div or self::p or self::dt or self::th or self::td or self::strong or self::b][not(*)]" +
		"[not(@role='button' or @role='combobox' or @role='textbox' or @role='listbox' or @role='spinbutton' or @contenteditable)]"
)

// Classify detects how a value is written into el.
func Classify(el page.Element) ControlKind {
	role, _ := el.Attr("role")
	role = strings.ToLower(role)
	if ce, ok := el.Attr("contenteditable"); ok && (ce == "" || strings.EqualFold(ce, "true")) {
		return KindEditable
	}
	switch el.Tag() {
	case "select":
		return KindNativeSelect
	case "textarea":
		return KindNativeText
	case "input":
		t, _ := el.Attr("type")
		switch strings.ToLower(t) {
		case "submit", "button", "reset", "image":
			return KindButton
		case "checkbox", "radio":
			return KindCustomWidget
		}
		return KindNativeText
	case "button":
		t, _ := el.Attr("type")
		if strings.EqualFold(t, "submit") || (t == "" && role == "") {
			return KindButton
		}
		return KindCustomWidget
	}
	return KindCustomWidget
}

func isButtonLike(el page.Element) bool {
	if el.Tag() == "button" {
		return true
	}
	if role, _ := el.Attr("role"); strings.EqualFold(role, "button") {
		return true
	}
	if el.Tag() == "input" {
		t, _ := el.Attr("type")
		t = strings.ToLower(t)
		return t == "submit" || t == "button"
	}
	return false
}
