// Package highlight renders annotations into the annotation pane: inline
// marker spans in the document body and the side panel listing.
package highlight

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	MarkerClass = "highlighted-text"

	attrTag = "data-tag"
	attrID  = "data-annotation-id"
)

var (
	ErrInvalidRange   = errors.New("invalid text range")
	ErrPartialElement = errors.New("range partially selects an element")
	ErrMarkerExists   = errors.New("marker already present")
	ErrMarkerNotFound = errors.New("marker not found")
)

// Range addresses document text by rune offsets, End exclusive.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Marker struct {
	AnnotationID int    `json:"annotationId"`
	Tag          string `json:"tag"`
}

// Renderer applies and removes inline markers.
type Renderer interface {
	Wrap(r Range, m Marker) error
	Unwrap(annotationID int) error
}

// Document is an HTML fragment held as a node tree under a synthetic <div>.
type Document struct {
	root *html.Node
}

func Parse(body string) (*Document, error) {
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(body), root)
	if err != nil {
		return nil, fmt.Errorf("parse document html: %w", err)
	}
	for _, node := range nodes {
		root.AppendChild(node)
	}
	return &Document{root: root}, nil
}

// HTML renders the fragment back to markup.
func (d *Document) HTML() (string, error) {
	var buf bytes.Buffer
	for child := d.root.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&buf, child); err != nil {
			return "", fmt.Errorf("render document html: %w", err)
		}
	}
	return buf.String(), nil
}

// Text is the concatenated text content, skipping script and style.
func (d *Document) Text() string {
	var sb strings.Builder
	for _, seg := range d.segments() {
		sb.WriteString(seg.node.Data)
	}
	return sb.String()
}

func (d *Document) TextIn(r Range) (string, error) {
	text := []rune(d.Text())
	if r.Start < 0 || r.End > len(text) || r.Start >= r.End {
		return "", fmt.Errorf("%w: [%d,%d) of %d", ErrInvalidRange, r.Start, r.End, len(text))
	}
	return string(text[r.Start:r.End]), nil
}

// Markers lists annotation markers in document order.
func (d *Document) Markers() []Marker {
	var out []Marker
	walk(d.root, func(n *html.Node) bool {
		if id, ok := markerID(n); ok {
			out = append(out, Marker{AnnotationID: id, Tag: attr(n, attrTag)})
		}
		return true
	})
	return out
}

func (d *Document) MarkerIDs() []int {
	markers := d.Markers()
	ids := make([]int, len(markers))
	for i, m := range markers {
		ids[i] = m.AnnotationID
	}
	return ids
}

// Wrap surrounds the text in r with a marker span. A range whose ends sit in
// different elements is accepted only when each end can be widened to a
// sibling of the other's container without cutting an element in two.
func (d *Document) Wrap(r Range, m Marker) error {
	if d.find(m.AnnotationID) != nil {
		return fmt.Errorf("%w: %d", ErrMarkerExists, m.AnnotationID)
	}
	segs := d.segments()
	start, end, err := locate(segs, r)
	if err != nil {
		return err
	}

	from, to, ok := commonSiblings(d.root, start, end)
	if !ok {
		return fmt.Errorf("%w: [%d,%d)", ErrPartialElement, r.Start, r.End)
	}

	span := newMarker(m)
	if from.node == to.node && !from.whole {
		splitInto(span, from.node, from.offset, to.offset)
		return nil
	}

	if !from.whole && from.offset > 0 {
		runes := []rune(from.node.Data)
		from.node.Parent.InsertBefore(textNode(string(runes[:from.offset])), from.node)
		from.node.Data = string(runes[from.offset:])
	}
	if !to.whole && to.offset < runeLen(to.node) {
		runes := []rune(to.node.Data)
		insertAfter(textNode(string(runes[to.offset:])), to.node)
		to.node.Data = string(runes[:to.offset])
	}

	parent := from.node.Parent
	parent.InsertBefore(span, from.node)
	for n := from.node; n != nil; {
		next := n.NextSibling
		parent.RemoveChild(n)
		span.AppendChild(n)
		if n == to.node {
			break
		}
		n = next
	}
	return nil
}

// Unwrap removes the marker for annotationID and merges its content back into
// the surrounding text. Markers nested inside it are kept.
func (d *Document) Unwrap(annotationID int) error {
	span := d.find(annotationID)
	if span == nil {
		return fmt.Errorf("%w: %d", ErrMarkerNotFound, annotationID)
	}
	parent := span.Parent
	for child := span.FirstChild; child != nil; child = span.FirstChild {
		span.RemoveChild(child)
		parent.InsertBefore(child, span)
	}
	parent.RemoveChild(span)
	mergeText(parent)
	return nil
}

func (d *Document) HasMarker(annotationID int) bool {
	return d.find(annotationID) != nil
}

func (d *Document) find(annotationID int) *html.Node {
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if id, ok := markerID(n); ok && id == annotationID {
			found = n
			return false
		}
		return found == nil
	})
	return found
}

type segment struct {
	node       *html.Node
	start, end int
}

func (d *Document) segments() []segment {
	var out []segment
	offset := 0
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return false
		}
		if n.Type == html.TextNode {
			length := runeLen(n)
			if length > 0 {
				out = append(out, segment{node: n, start: offset, end: offset + length})
				offset += length
			}
		}
		return true
	})
	return out
}

type boundary struct {
	node   *html.Node
	offset int
	whole  bool
}

func locate(segs []segment, r Range) (boundary, boundary, error) {
	total := 0
	if len(segs) > 0 {
		total = segs[len(segs)-1].end
	}
	if r.Start < 0 || r.End > total || r.Start >= r.End {
		return boundary{}, boundary{}, fmt.Errorf("%w: [%d,%d) of %d", ErrInvalidRange, r.Start, r.End, total)
	}
	var start, end boundary
	for _, seg := range segs {
		if start.node == nil && r.Start >= seg.start && r.Start < seg.end {
			start = boundary{node: seg.node, offset: r.Start - seg.start}
		}
		if r.End > seg.start && r.End <= seg.end {
			end = boundary{node: seg.node, offset: r.End - seg.start}
			break
		}
	}
	return start, end, nil
}

// commonSiblings widens the two boundaries outwards, one ancestor at a time,
// until they share a parent. A boundary can only be widened when it sits at
// the outer edge of its container.
func commonSiblings(root *html.Node, start, end boundary) (boundary, boundary, bool) {
	starts := []boundary{start}
	if start.offset == 0 {
		for n := start.node; n.Parent != root && n.Parent.FirstChild == n; {
			n = n.Parent
			starts = append(starts, boundary{node: n, whole: true})
		}
	}
	ends := []boundary{end}
	if end.offset == runeLen(end.node) {
		for n := end.node; n.Parent != root && n.Parent.LastChild == n; {
			n = n.Parent
			ends = append(ends, boundary{node: n, whole: true})
		}
	}

	for _, s := range starts {
		for _, e := range ends {
			if s.node.Parent == e.node.Parent {
				return s, e, true
			}
		}
	}
	return boundary{}, boundary{}, false
}

func splitInto(span, node *html.Node, from, to int) {
	runes := []rune(node.Data)
	parent := node.Parent
	if from > 0 {
		parent.InsertBefore(textNode(string(runes[:from])), node)
	}
	parent.InsertBefore(span, node)
	if to < len(runes) {
		parent.InsertBefore(textNode(string(runes[to:])), node)
	}
	parent.RemoveChild(node)
	span.AppendChild(textNode(string(runes[from:to])))
}

func newMarker(m Marker) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: MarkerClass},
			{Key: attrTag, Val: m.Tag},
			{Key: attrID, Val: strconv.Itoa(m.AnnotationID)},
		},
	}
}

func markerID(n *html.Node) (int, bool) {
	if n.Type != html.ElementNode || n.DataAtom != atom.Span {
		return 0, false
	}
	if !hasClass(n, MarkerClass) {
		return 0, false
	}
	id, err := strconv.Atoi(attr(n, attrID))
	if err != nil {
		return 0, false
	}
	return id, true
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textNode(data string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: data}
}

func insertAfter(node, ref *html.Node) {
	if ref.NextSibling == nil {
		ref.Parent.AppendChild(node)
		return
	}
	ref.Parent.InsertBefore(node, ref.NextSibling)
}

func mergeText(parent *html.Node) {
	for child := parent.FirstChild; child != nil; {
		next := child.NextSibling
		if child.Type == html.TextNode && next != nil && next.Type == html.TextNode {
			child.Data += next.Data
			parent.RemoveChild(next)
			continue
		}
		child = next
	}
}

func runeLen(n *html.Node) int {
	return utf8.RuneCountInString(n.Data)
}

// walk visits n's descendants depth first. Returning false from fn skips the
// node's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if fn(child) {
			walk(child, fn)
		}
	}
}
