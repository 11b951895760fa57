package memdom

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/tablebook/internal/page"
)

// SetAttr sets or replaces an attribute on n.
func SetAttr(n *html.Node, key, val string) {
	for i, attr := range n.Attr {
		if attr.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute from n if present.
func RemoveAttr(n *html.Node, key string) {
	for i, attr := range n.Attr {
		if attr.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes to it.
func AppendHTML(parent *html.Node, fragment string) error {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		return fmt.Errorf("failed to parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	return nil
}

func findParentForm(n *html.Node) *html.Node {
	for form := n.Parent; form != nil; form = form.Parent {
		if form.Type == html.ElementNode && strings.EqualFold(form.Data, "form") {
			return form
		}
	}
	return nil
}

func attached(doc, n *html.Node) bool {
	if doc == nil {
		return false
	}
	for ; n != nil; n = n.Parent {
		if n == doc {
			return true
		}
	}
	return false
}

// textOf returns whitespace-collapsed text, skipping script and style.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			switch strings.ToLower(n.Data) {
			case "script", "style", "template", "noscript":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// isVisible approximates rendering: an element is hidden when it or an
// ancestor carries the hidden attribute or an inline display:none /
// visibility:hidden style.
func isVisible(n *html.Node) bool {
	if strings.EqualFold(n.Data, "input") && strings.EqualFold(htmlquery.SelectAttr(n, "type"), "hidden") {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		switch strings.ToLower(cur.Data) {
		case "head", "script", "style", "template", "noscript":
			return false
		}
		if htmlquery.ExistsAttr(cur, "hidden") {
			return false
		}
		style := strings.ToLower(strings.ReplaceAll(htmlquery.SelectAttr(cur, "style"), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func isContentEditable(n *html.Node) bool {
	v, ok := attr(n, "contenteditable")
	return ok && (v == "" || strings.EqualFold(v, "true"))
}

func isTextEntry(n *html.Node) bool {
	switch strings.ToLower(n.Data) {
	case "textarea":
		return true
	case "input":
		switch strings.ToLower(htmlquery.SelectAttr(n, "type")) {
		case "checkbox", "radio", "submit", "button", "image", "reset", "file", "hidden":
			return false
		}
		return true
	}
	return isContentEditable(n)
}

func valueOf(n *html.Node) string {
	if strings.EqualFold(n.Data, "input") {
		return htmlquery.SelectAttr(n, "value")
	}
	return htmlquery.InnerText(n)
}

func assignValue(n *html.Node, value string) error {
	if strings.EqualFold(n.Data, "input") {
		if _, ok := attr(n, "readonly"); ok {
			return fmt.Errorf("input is read-only")
		}
		SetAttr(n, "value", value)
		return nil
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	return nil
}

func selectOptions(sel *html.Node) []page.Option {
	nodes := htmlquery.Find(sel, ".//option")
	opts := make([]page.Option, 0, len(nodes))
	anySelected := false
	for _, o := range nodes {
		text := textOf(o)
		value, ok := attr(o, "value")
		if !ok {
			value = text
		}
		selected := htmlquery.ExistsAttr(o, "selected")
		anySelected = anySelected || selected
		opts = append(opts, page.Option{Value: value, Text: text, Selected: selected})
	}
	if !anySelected && len(opts) > 0 {
		opts[0].Selected = true
	}
	return opts
}

func selectByValue(sel *html.Node, value string) error {
	nodes := htmlquery.Find(sel, ".//option")
	var match *html.Node
	for _, o := range nodes {
		v, ok := attr(o, "value")
		if !ok {
			v = textOf(o)
		}
		if v == value {
			match = o
			break
		}
	}
	if match == nil {
		return fmt.Errorf("option with value '%s' not found in select element", value)
	}
	for _, o := range nodes {
		if o == match {
			SetAttr(o, "selected", "selected")
		} else {
			RemoveAttr(o, "selected")
		}
	}
	return nil
}

func checkRadio(n *html.Node) {
	name := htmlquery.SelectAttr(n, "name")
	if name == "" {
		SetAttr(n, "checked", "checked")
		return
	}
	root := findParentForm(n)
	if root == nil {
		for root = n; root.Parent != nil; root = root.Parent {
		}
	}
	for _, radio := range htmlquery.Find(root, fmt.Sprintf(".//input[@type='radio' and @name=%s]", page.XPathLiteral(name))) {
		if radio == n {
			SetAttr(radio, "checked", "checked")
		} else {
			RemoveAttr(radio, "checked")
		}
	}
}

func serializeForm(form, submitter *html.Node) url.Values {
	formData := url.Values{}
	for _, input := range htmlquery.Find(form, ".//input | .//textarea | .//select") {
		name := htmlquery.SelectAttr(input, "name")
		if name == "" || htmlquery.ExistsAttr(input, "disabled") {
			continue
		}
		switch strings.ToLower(input.Data) {
		case "input":
			switch strings.ToLower(htmlquery.SelectAttr(input, "type")) {
			case "checkbox", "radio":
				if htmlquery.ExistsAttr(input, "checked") {
					value := htmlquery.SelectAttr(input, "value")
					if value == "" {
						value = "on"
					}
					formData.Add(name, value)
				}
			case "submit", "button", "image", "reset", "file":
			default:
				formData.Add(name, htmlquery.SelectAttr(input, "value"))
			}
		case "textarea":
			formData.Add(name, htmlquery.InnerText(input))
		case "select":
			for _, o := range selectOptions(input) {
				if o.Selected {
					formData.Add(name, o.Value)
					break
				}
			}
		}
	}
	if submitter != nil {
		if name := htmlquery.SelectAttr(submitter, "name"); name != "" {
			formData.Add(name, htmlquery.SelectAttr(submitter, "value"))
		}
	}
	return formData
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
