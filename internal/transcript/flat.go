package transcript

import (
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RoleAttr is the attribute the chat page sets on every rendered message turn.
const RoleAttr = "data-message-author-role"

// Page is a parsed chat page.
type Page struct {
	Title    string
	Elements FlatForm
}

// ParseFlatHTML extracts message elements from chat page markup in document order.
// Elements with any role are returned; role filtering happens in Normalize.
func ParseFlatHTML(r io.Reader) (Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	var page Page
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Title && page.Title == "" {
				page.Title = strings.TrimSpace(renderText(n))
				return
			}
			if role, ok := attr(n, RoleAttr); ok {
				page.Elements = append(page.Elements, Element{
					Role: role,
					Text: renderText(n),
					HTML: innerHTML(n),
				})
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return page, nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func innerHTML(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			return ""
		}
	}
	return sb.String()
}

var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.Pre: true, atom.Blockquote: true, atom.Table: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Hr: true,
}

var skippedAtoms = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Button: true, atom.Svg: true,
}

// renderText approximates the rendered text of a subtree: block elements start new
// lines, whitespace collapses outside <pre>.
func renderText(n *html.Node) string {
	var b textBuilder
	b.walk(n, false)
	return strings.TrimSpace(b.sb.String())
}

type textBuilder struct {
	sb           strings.Builder
	pendingBreak bool
	space        bool
}

func (b *textBuilder) walk(n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			b.writeRaw(n.Data)
		} else {
			b.writeCollapsed(n.Data)
		}
		return
	case html.ElementNode:
		if skippedAtoms[n.DataAtom] {
			return
		}
		if n.DataAtom == atom.Br {
			b.newline()
			return
		}
	}

	block := n.Type == html.ElementNode && blockAtoms[n.DataAtom]
	if block {
		b.breakLine()
	}
	inPre := pre || n.DataAtom == atom.Pre
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.walk(c, inPre)
	}
	if block {
		b.breakLine()
	}
}

func (b *textBuilder) atLineStart() bool {
	if b.sb.Len() == 0 || b.pendingBreak {
		return true
	}
	s := b.sb.String()
	return s[len(s)-1] == '\n'
}

func (b *textBuilder) breakLine() {
	if b.sb.Len() > 0 {
		b.pendingBreak = true
	}
	b.space = false
}

func (b *textBuilder) newline() {
	b.flushBreak()
	b.sb.WriteByte('\n')
	b.space = false
}

func (b *textBuilder) flushBreak() {
	if b.pendingBreak {
		b.sb.WriteByte('\n')
		b.pendingBreak = false
	}
}

func (b *textBuilder) writeRaw(s string) {
	if s == "" {
		return
	}
	b.flushBreak()
	b.sb.WriteString(s)
	b.space = false
}

func (b *textBuilder) writeCollapsed(s string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" {
			b.space = true
		}
		return
	}
	first, _ := utf8.DecodeRuneInString(s)
	if unicode.IsSpace(first) {
		b.space = true
	}
	if b.space && !b.atLineStart() {
		b.sb.WriteByte(' ')
	}
	b.flushBreak()
	b.sb.WriteString(strings.Join(fields, " "))
	last, _ := utf8.DecodeLastRuneInString(s)
	b.space = unicode.IsSpace(last)
}
