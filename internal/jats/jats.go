// Package jats holds a lossless element tree for JATS article XML: enough to
// find table-wrap, title and paragraph elements, gather their text, drop
// abstracts and write the document back out.
package jats

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Kind is the node type.
type Kind int

const (
	DocumentNode Kind = iota
	ElementNode
	TextNode
	CommentNode
	ProcInstNode
	DirectiveNode
)

// Node is one node of the tree. Element names keep their source prefix
// ("xlink:href"), since the tree is built from raw tokens.
type Node struct {
	Kind     Kind
	Name     string
	Attr     []xml.Attr
	Data     string
	Parent   *Node
	Children []*Node
}

// Parse reads a whole document. Unknown HTML entities are tolerated, non-UTF-8
// prologs are transcoded and mismatched end tags close the nearest open
// element with that name.
func Parse(r io.Reader) (*Node, error) {
	d := xml.NewDecoder(r)
	d.Strict = false
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel
	root := &Node{Kind: DocumentNode}
	stack := []*Node{root}
	for {
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Kind: ElementNode, Name: qname(t.Name), Attr: append([]xml.Attr(nil), t.Attr...)}
			top.append(n)
			stack = append(stack, n)
		case xml.EndElement:
			name := qname(t.Name)
			for i := len(stack) - 1; i > 0; i-- {
				if stack[i].Name == name {
					stack = stack[:i]
					break
				}
			}
		case xml.CharData:
			top.appendText(string(t))
		case xml.Comment:
			top.append(&Node{Kind: CommentNode, Data: string(t)})
		case xml.ProcInst:
			top.append(&Node{Kind: ProcInstNode, Name: t.Target, Data: string(t.Inst)})
		case xml.Directive:
			top.append(&Node{Kind: DirectiveNode, Data: string(t)})
		}
	}
	return root, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Node, error) {
	return Parse(strings.NewReader(s))
}

func qname(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func localName(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func (n *Node) append(c *Node) {
	c.Parent = n
	n.Children = append(n.Children, c)
}

func (n *Node) appendText(s string) {
	if k := len(n.Children); k > 0 && n.Children[k-1].Kind == TextNode {
		n.Children[k-1].Data += s
		return
	}
	n.append(&Node{Kind: TextNode, Data: s})
}

// Is reports whether n is an element with the given local name.
func (n *Node) Is(name string) bool {
	return n != nil && n.Kind == ElementNode && localName(n.Name) == name
}

// AttrValue returns the value of the attribute with the given local name.
func (n *Node) AttrValue(name string) string {
	for _, a := range n.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Walk visits n and its descendants in document order. Returning false from
// fn skips the children of that node.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// FindAll returns descendant elements named name, in document order.
func (n *Node) FindAll(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		c.Walk(func(x *Node) bool {
			if x.Is(name) {
				out = append(out, x)
			}
			return true
		})
	}
	return out
}

// Find returns the first descendant element named name, or nil.
func (n *Node) Find(name string) *Node {
	if all := n.FindAll(name); len(all) > 0 {
		return all[0]
	}
	return nil
}

// ChildrenNamed returns the direct child elements named name.
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Is(name) {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the first direct child element named name, or nil.
func (n *Node) Child(name string) *Node {
	if all := n.ChildrenNamed(name); len(all) > 0 {
		return all[0]
	}
	return nil
}

// Text concatenates all descendant text, including text inside inline markup
// such as <italic> or <xref>.
func (n *Node) Text() string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	n.Walk(func(x *Node) bool {
		if x.Kind == TextNode {
			b.WriteString(x.Data)
		}
		return x.Kind == ElementNode || x.Kind == DocumentNode
	})
	return b.String()
}

// RemoveAll detaches every descendant element named name and returns how
// many were removed.
func (n *Node) RemoveAll(name string) int {
	removed := 0
	kept := n.Children[:0]
	for _, c := range n.Children {
		if c.Is(name) {
			c.Parent = nil
			removed++
			continue
		}
		removed += c.RemoveAll(name)
		kept = append(kept, c)
	}
	for i := len(kept); i < len(n.Children); i++ {
		n.Children[i] = nil
	}
	n.Children = kept
	return removed
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "\n", "&#xA;", "\t", "&#x9;")
)

// Render writes n back out as XML.
func (n *Node) Render(w io.Writer) error {
	var b bytes.Buffer
	n.render(&b)
	_, err := w.Write(b.Bytes())
	return err
}

// String renders n.
func (n *Node) String() string {
	var b bytes.Buffer
	n.render(&b)
	return b.String()
}

func (n *Node) render(b *bytes.Buffer) {
	switch n.Kind {
	case DocumentNode:
		for _, c := range n.Children {
			c.render(b)
		}
	case TextNode:
		b.WriteString(textEscaper.Replace(n.Data))
	case CommentNode:
		b.WriteString("<!--")
		b.WriteString(n.Data)
		b.WriteString("-->")
	case ProcInstNode:
		b.WriteString("<?")
		b.WriteString(n.Name)
		if n.Data != "" {
			b.WriteByte(' ')
			b.WriteString(n.Data)
		}
		b.WriteString("?>")
	case DirectiveNode:
		b.WriteString("<!")
		b.WriteString(n.Data)
		b.WriteString(">")
	case ElementNode:
		b.WriteByte('<')
		b.WriteString(n.Name)
		for _, a := range n.Attr {
			b.WriteByte(' ')
			b.WriteString(qname(a.Name))
			b.WriteString(`="`)
			b.WriteString(attrEscaper.Replace(a.Value))
			b.WriteByte('"')
		}
		if len(n.Children) == 0 {
			b.WriteString("/>")
			return
		}
		b.WriteByte('>')
		for _, c := range n.Children {
			c.render(b)
		}
		b.WriteString("</")
		b.WriteString(n.Name)
		b.WriteByte('>')
	}
}
