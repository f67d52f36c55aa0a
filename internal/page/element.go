package page

import (
	"strings"

	"golang.org/x/net/html"
)

// Element wraps one HTML element node.
type Element struct {
	node *html.Node
	doc  *Document
}

func (e *Element) Tag() string { return e.node.Data }

// Attr returns the attribute value, "" when absent.
func (e *Element) Attr(name string) string {
	for _, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func (e *Element) HasAttr(name string) bool {
	for _, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

// SetAttr adds or replaces an attribute (used by the activation marker).
func (e *Element) SetAttr(name, value string) {
	for i, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			e.node.Attr[i].Val = value
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr drops an attribute if present.
func (e *Element) RemoveAttr(name string) {
	for i, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			e.node.Attr = append(e.node.Attr[:i], e.node.Attr[i+1:]...)
			return
		}
	}
}

func (e *Element) ID() string { return e.Attr("id") }

func (e *Element) Classes() []string {
	return strings.Fields(e.Attr("class"))
}

func (e *Element) HasClass(name string) bool {
	for _, c := range e.Classes() {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// Text returns the element's visible text with whitespace folded.
func (e *Element) Text() string {
	var b strings.Builder
	collectText(e.node, &b)
	return foldSpace(b.String())
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// Label aggregates the strings a user would identify the control by:
// text content, value, and title.
func (e *Element) Label() string {
	parts := []string{e.Text(), e.Attr("value"), e.Attr("title")}
	return foldSpace(strings.Join(parts, " "))
}

// AccessibleName resolves the accessible label: aria-label, then
// aria-labelledby, then title, then text content, then value.
func (e *Element) AccessibleName() string {
	if v := foldSpace(e.Attr("aria-label")); v != "" {
		return v
	}
	if ref := strings.TrimSpace(e.Attr("aria-labelledby")); ref != "" && e.doc != nil {
		var parts []string
		for _, id := range strings.Fields(ref) {
			if t := e.doc.ByID(id); t != nil {
				parts = append(parts, t.Text())
			}
		}
		if v := foldSpace(strings.Join(parts, " ")); v != "" {
			return v
		}
	}
	if v := foldSpace(e.Attr("title")); v != "" {
		return v
	}
	if v := e.Text(); v != "" {
		return v
	}
	return foldSpace(e.Attr("value"))
}

// DataAttrs returns all data-* attributes, keys without the prefix.
func (e *Element) DataAttrs() map[string]string {
	out := map[string]string{}
	for _, a := range e.node.Attr {
		if strings.HasPrefix(a.Key, "data-") {
			out[strings.TrimPrefix(a.Key, "data-")] = a.Val
		}
	}
	return out
}

// IdentifyingText joins id, classes and data attributes, lowercased.
// The hook-fallback strategy matches "attendance" against this.
func (e *Element) IdentifyingText() string {
	parts := []string{e.ID(), e.Attr("class"), e.Attr("name")}
	for k, v := range e.DataAttrs() {
		parts = append(parts, k, v)
	}
	return strings.ToLower(foldSpace(strings.Join(parts, " ")))
}

func (e *Element) Parent() *Element {
	for n := e.node.Parent; n != nil; n = n.Parent {
		if n.Type == html.ElementNode {
			if e.doc != nil {
				if p := e.doc.wrap(n); p != nil {
					return p
				}
			}
			return &Element{node: n, doc: e.doc}
		}
	}
	return nil
}

// Closest walks self-then-ancestors looking for a tag.
func (e *Element) Closest(tag string) *Element {
	for cur := e; cur != nil; cur = cur.Parent() {
		if strings.EqualFold(cur.Tag(), tag) {
			return cur
		}
	}
	return nil
}

// ClosestForm returns the enclosing form, nil when the element is not in one.
func (e *Element) ClosestForm() *Element {
	if p := e.Parent(); p != nil {
		return p.Closest("form")
	}
	return nil
}

// Contains reports whether other is a descendant of e (or e itself).
func (e *Element) Contains(other *Element) bool {
	if other == nil {
		return false
	}
	for n := other.node; n != nil; n = n.Parent {
		if n == e.node {
			return true
		}
	}
	return false
}

// Descendants returns indexed elements under e, in document order.
func (e *Element) Descendants() []*Element {
	if e.doc == nil {
		return nil
	}
	var out []*Element
	for _, el := range e.doc.elems {
		if el != e && e.Contains(el) {
			out = append(out, el)
		}
	}
	return out
}

// StyleProp parses the inline style attribute and returns one property,
// lowercased, "" when absent.
func (e *Element) StyleProp(name string) string {
	style := e.Attr("style")
	if style == "" {
		return ""
	}
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.ToLower(strings.TrimSpace(v))
		}
	}
	return ""
}

// IsActionable reports whether the element is something a user can
// activate: a button, an input button/submit, or a link.
func (e *Element) IsActionable() bool {
	switch strings.ToLower(e.Tag()) {
	case "button":
		return true
	case "a":
		return true
	case "input":
		switch strings.ToLower(e.Attr("type")) {
		case "submit", "button", "image", "":
			return true
		}
		return false
	}
	return strings.EqualFold(e.Attr("role"), "button")
}

// IsSubmit reports whether activating the element submits its form.
func (e *Element) IsSubmit() bool {
	switch strings.ToLower(e.Tag()) {
	case "button":
		t := strings.ToLower(e.Attr("type"))
		return t == "" || t == "submit"
	case "input":
		t := strings.ToLower(e.Attr("type"))
		return t == "submit" || t == "image"
	}
	return false
}

func foldSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
