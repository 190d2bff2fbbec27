package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLLoader 提取可见文本，块级元素之间以空行分隔。
// 标题取 <title>，缺失时取第一个 <h1>，再退回文件名。
type HTMLLoader struct{}

// NewHTMLLoader creates an HTMLLoader.
func NewHTMLLoader() *HTMLLoader { return &HTMLLoader{} }

func (l *HTMLLoader) Load(ctx context.Context, path string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("html loader: %w", err)
	}
	defer f.Close()

	root, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("html loader: parse %s: %w", path, err)
	}

	var e htmlExtractor
	e.walk(root)
	e.flush()

	text := strings.Join(e.blocks, "\n\n")
	if text == "" {
		return nil, nil
	}
	title := e.title
	if title == "" {
		title = e.h1
	}
	if title == "" {
		name := filepath.Base(path)
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return []Document{{Title: title, Text: text}}, nil
}

func (l *HTMLLoader) Extensions() []string { return []string{".html", ".htm"} }

// skippedElements 不产出文本的元素
var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
}

// blockElements 前后断段的元素
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Main: true, atom.Aside: true, atom.Nav: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Li: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Table: true, atom.Tr: true, atom.Blockquote: true, atom.Pre: true,
	atom.Br: true, atom.Hr: true, atom.Figcaption: true,
}

type htmlExtractor struct {
	blocks []string
	cur    strings.Builder
	title  string
	h1     string
}

func (e *htmlExtractor) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch {
		case skippedElements[n.DataAtom]:
			return
		case n.DataAtom == atom.Title:
			if e.title == "" {
				e.title = collapseSpace(nodeText(n))
			}
			return
		case n.DataAtom == atom.H1 && e.h1 == "":
			e.h1 = collapseSpace(nodeText(n))
		}
	}
	if n.Type == html.TextNode {
		e.cur.WriteString(n.Data)
		e.cur.WriteByte(' ')
	}

	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		e.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.walk(c)
	}
	if block {
		e.flush()
	}
}

func (e *htmlExtractor) flush() {
	if s := collapseSpace(e.cur.String()); s != "" {
		e.blocks = append(e.blocks, s)
	}
	e.cur.Reset()
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapseSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
