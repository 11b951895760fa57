// Package page defines the browser-page abstraction the form engine drives.
// A Page is owned by the caller: nothing in the engine creates or closes one.
// All element queries are XPath 1.0 so that every backend answers the same
// selectors.
package page

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by backends for optional capabilities they do
// not provide (e.g. script evaluation on the in-memory backend).
var ErrUnsupported = errors.New("operation not supported by page backend")

// ErrDetached is returned when an element handle no longer refers to a node
// in the current document.
var ErrDetached = errors.New("element is no longer attached to the document")

// Page is a live, rendered document.
type Page interface {
	// URL returns the address of the currently loaded document.
	URL() string
	Navigate(ctx context.Context, url string) error
	SetCookies(ctx context.Context, cookies []Cookie) error
	// Find evaluates an XPath expression against the whole document and
	// returns matching elements in the order the backend reports them.
	Find(ctx context.Context, xpath string) ([]Element, error)
	// TypeText sends key events for text to the focused element, pausing
	// delay between keys.
	TypeText(ctx context.Context, text string, delay time.Duration) error
	// PressKeys sends a key chord such as "Control+A".
	PressKeys(ctx context.Context, chord string) error
	Evaluate(ctx context.Context, script string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Content(ctx context.Context) (string, error)
	// BodyText returns the rendered text of the document body.
	BodyText(ctx context.Context) (string, error)
	// WaitStable blocks until the page has been quiet for the given period.
	WaitStable(ctx context.Context, quiet time.Duration) error
}

// Element is a handle to a node in the current document. Handles are valid
// only until the next navigation.
type Element interface {
	// Tag is the lower-cased element name.
	Tag() string
	Attr(name string) (string, bool)
	// Text is the whitespace-collapsed text content.
	Text() string
	Visible(ctx context.Context) (bool, error)
	// Find evaluates a relative XPath expression with this element as the
	// context node.
	Find(ctx context.Context, xpath string) ([]Element, error)
	// Contains reports whether other is this element or one of its descendants.
	Contains(ctx context.Context, other Element) (bool, error)
	ScrollIntoView(ctx context.Context) error
	Click(ctx context.Context) error
	Focus(ctx context.Context) error
	// SetValue assigns the control's value directly, without key events.
	SetValue(ctx context.Context, value string) error
	Value(ctx context.Context) (string, error)
	// Options lists the options of a native select element.
	Options(ctx context.Context) ([]Option, error)
	// SelectOption selects the native option whose value attribute is value.
	SelectOption(ctx context.Context, value string) error
}

// Option is one entry of a native select element.
type Option struct {
	Value    string
	Text     string
	Selected bool
}

// Cookie is session material injected before the first navigation.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
	// Expires is seconds since the epoch; zero means a session cookie.
	Expires float64 `json:"expires,omitempty"`
}
