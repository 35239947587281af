package fetcher

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/avrlink/avrlink/internal/core"
)

// Document is a parsed receiver XML document.
type Document struct {
	root *xmlquery.Node
}

// ParseDocument parses data and rejects HTML error pages.
func ParseDocument(data []byte) (*Document, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidResponse, err)
	}
	root := rootElement(doc)
	if root == nil {
		return nil, fmt.Errorf("%w: document has no root element", core.ErrInvalidResponse)
	}
	if strings.EqualFold(root.Data, "html") {
		return nil, fmt.Errorf("%w: returned document contains HTML", core.ErrInvalidResponse)
	}
	return &Document{root: root}, nil
}

// Lookup evaluates path relative to the root element. It returns the trimmed
// element text, or the value of attribute attr when attr is set. Invalid
// expressions and missing nodes both report false, and so does an element
// that lacks attr, leaving the rule free to resolve from a later document.
func (d *Document) Lookup(path, attr string) (string, bool) {
	if d == nil || d.root == nil {
		return "", false
	}
	node, err := xmlquery.Query(d.root, path)
	if err != nil || node == nil {
		return "", false
	}
	if attr != "" {
		return attrValue(node, attr)
	}
	return strings.TrimSpace(node.InnerText()), true
}

// LookupFirst returns the first path that resolves.
func (d *Document) LookupFirst(paths ...string) (string, bool) {
	for _, p := range paths {
		if v, ok := d.Lookup(p, ""); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func rootElement(doc *xmlquery.Node) *xmlquery.Node {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}

func attrValue(n *xmlquery.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func childElements(n *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			out = append(out, c)
		}
	}
	return out
}
