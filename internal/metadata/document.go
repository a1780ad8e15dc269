package metadata

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Element is one parsed XML element. Names are local names; namespaces are ignored.
type Element struct {
	Name     string
	attrs    []xml.Attr
	children []*Element
	content  []contentPart
}

// contentPart keeps character data and child elements in document order so
// Text can reproduce DOM textContent.
type contentPart struct {
	text  string
	child *Element
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, a := range e.attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Text returns the concatenated character data of e and all its descendants,
// trimmed of surrounding whitespace.
func (e *Element) Text() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	e.writeText(&sb)
	return strings.TrimSpace(sb.String())
}

func (e *Element) writeText(sb *strings.Builder) {
	for _, p := range e.content {
		if p.child != nil {
			p.child.writeText(sb)
		} else {
			sb.WriteString(p.text)
		}
	}
}

// Document is a parsed XML document plus its raw text.
type Document struct {
	Raw  string
	root *Element
}

// ErrEmptyDocument is returned when a file contains no root element.
var ErrEmptyDocument = errors.New("xml document has no root element")

// ParseDocument parses data into a Document. A UTF-8 byte order mark is stripped.
func ParseDocument(data []byte) (*Document, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader

	var root *Element
	var stack []*Element
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local, attrs: append([]xml.Attr(nil), t.Attr...)}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("xml document has more than one root element")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
				parent.content = append(parent.content, contentPart{child: el})
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.content = append(top.content, contentPart{text: string(t)})
			}
		}
	}
	if root == nil {
		return nil, ErrEmptyDocument
	}
	return &Document{Raw: strings.TrimSpace(string(data)), root: root}, nil
}

// Root returns the document element.
func (d *Document) Root() *Element {
	if d == nil {
		return nil
	}
	return d.root
}

// All returns every element with the given local name in document order,
// including the root.
func (d *Document) All(name string) []*Element {
	if d == nil || d.root == nil {
		return nil
	}
	var out []*Element
	var walk func(e *Element)
	walk = func(e *Element) {
		if e.Name == name {
			out = append(out, e)
		}
		for _, c := range e.children {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// First returns the first element with the given local name, or nil.
func (d *Document) First(name string) *Element {
	if d == nil || d.root == nil {
		return nil
	}
	var found *Element
	var walk func(e *Element) bool
	walk = func(e *Element) bool {
		if e.Name == name {
			found = e
			return true
		}
		for _, c := range e.children {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(d.root)
	return found
}

// Has reports whether at least one element with the given name exists.
func (d *Document) Has(name string) bool {
	return d.First(name) != nil
}

// FirstText returns the text of the first element with the given name.
func (d *Document) FirstText(name string) (string, bool) {
	el := d.First(name)
	if el == nil {
		return "", false
	}
	return el.Text(), true
}

// Instrument software writes UTF-8, occasionally declared as a legacy
// single-byte charset. Those are decoded as Latin-1.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return input, nil
	case "iso-8859-1", "latin1", "latin-1", "windows-1252", "cp1252":
		return &latin1Reader{r: input}, nil
	}
	return nil, fmt.Errorf("unsupported xml encoding %q", label)
}

type latin1Reader struct {
	r   io.Reader
	buf []byte
}

func (l *latin1Reader) Read(p []byte) (int, error) {
	if len(l.buf) == 0 {
		raw := make([]byte, len(p)/2+1)
		n, err := l.r.Read(raw)
		for _, b := range raw[:n] {
			if b < 0x80 {
				l.buf = append(l.buf, b)
			} else {
				l.buf = append(l.buf, 0xc0|b>>6, 0x80|b&0x3f)
			}
		}
		if n == 0 {
			return 0, err
		}
	}
	n := copy(p, l.buf)
	l.buf = l.buf[n:]
	return n, nil
}
