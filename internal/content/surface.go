package content

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var surfacePolicy = newSurfacePolicy()

// newSurfacePolicy strips unsafe markup but keeps image sources verbatim:
// the server stores any non-empty image value, so capture must not filter
// by URL scheme.
func newSurfacePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireParseableURLs(false)
	return p
}

// Capture derives a normalized list from the HTML of an editable surface.
// Only direct children of the surface are classified; containers contribute
// their images first and then their trimmed text.
func Capture(surfaceHTML string) List {
	clean := surfacePolicy.Sanitize(surfaceHTML)
	nodes, err := html.ParseFragment(strings.NewReader(clean), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return List{}
	}

	items := List{}
	for _, node := range nodes {
		switch node.Type {
		case html.TextNode:
			if strings.TrimSpace(node.Data) != "" {
				items = append(items, Text(node.Data))
			}
		case html.ElementNode:
			items = append(items, captureElement(node)...)
		}
	}
	return items
}

func captureElement(node *html.Node) List {
	switch node.DataAtom {
	case atom.Img:
		if src := attr(node, "src"); src != "" {
			return List{Image(src)}
		}
		return nil
	case atom.Div, atom.P:
		var items List
		for _, img := range findImages(node) {
			if src := attr(img, "src"); src != "" {
				items = append(items, Image(src))
			}
		}
		if text := strings.TrimSpace(textContent(node)); text != "" {
			items = append(items, Text(text))
		}
		return items
	default:
		if text := strings.TrimSpace(textContent(node)); text != "" {
			return List{Text(text)}
		}
		return nil
	}
}

// Render is the inverse of Capture: one paragraph per text item and one
// image element per image item, in list order.
func Render(l List) string {
	var buf bytes.Buffer
	for _, item := range l {
		var node *html.Node
		switch item.Kind {
		case KindText:
			node = &html.Node{Type: html.ElementNode, Data: "p", DataAtom: atom.P}
			node.AppendChild(&html.Node{Type: html.TextNode, Data: item.Value})
		case KindImage:
			node = &html.Node{
				Type:     html.ElementNode,
				Data:     "img",
				DataAtom: atom.Img,
				Attr:     []html.Attribute{{Key: "src", Val: item.Value}},
			}
		default:
			continue
		}
		_ = html.Render(&buf, node)
	}
	return buf.String()
}

func findImages(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Img {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// textContent concatenates every descendant text node, like the DOM
// property of the same name.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
