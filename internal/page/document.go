// Package page models the target page context: a fetched, parsed HTML
// document plus the session event loop everything else talks to.
//
// A Session is opaque to its callers. The initiator side
// (scheduler, bot commands) never touches the document; it can only
// deliver a message envelope into the session mailbox and wait for the
// correlated reply.
package page

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Document is a parsed HTML tree with a flat, document-ordered element index.
type Document struct {
	root  *html.Node
	elems []*Element
	byID  map[string]*Element
}

// Parse reads and indexes an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	d := &Document{root: root, byID: map[string]*Element{}}
	d.index(root)
	return d, nil
}

// ParseString is a convenience wrapper used heavily by tests.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

func (d *Document) index(n *html.Node) {
	if n.Type == html.ElementNode {
		el := &Element{node: n, doc: d}
		d.elems = append(d.elems, el)
		if id := el.Attr("id"); id != "" {
			if _, dup := d.byID[id]; !dup {
				d.byID[id] = el
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.index(c)
	}
}

// Elements returns all element nodes in document order.
func (d *Document) Elements() []*Element { return d.elems }

// ByID resolves an element by its id attribute.
func (d *Document) ByID(id string) *Element { return d.byID[id] }

// Find returns the first element (document order) matching pred.
func (d *Document) Find(pred func(*Element) bool) *Element {
	for _, el := range d.elems {
		if pred(el) {
			return el
		}
	}
	return nil
}

// FindAll returns every element matching pred, in document order.
func (d *Document) FindAll(pred func(*Element) bool) []*Element {
	var out []*Element
	for _, el := range d.elems {
		if pred(el) {
			out = append(out, el)
		}
	}
	return out
}

// wrap returns the indexed Element for a node, if any.
func (d *Document) wrap(n *html.Node) *Element {
	for _, el := range d.elems {
		if el.node == n {
			return el
		}
	}
	return nil
}
