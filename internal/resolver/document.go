package resolver

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Iframe 页面中的iframe
type Iframe struct {
	ID   string
	Name string
	Src  string // 已转换为绝对地址
}

// Document 播放页解析结果, 所有策略共享同一份
type Document struct {
	URL     string
	Host    string
	Root    *html.Node
	Iframes []Iframe
	Scripts []string // 内联脚本文本
	Depth   int      // 嵌套深度, 播放页为0

	nested     []string
	seen       map[string]bool
	identified bool // 页面上存在按id/name识别的播放器iframe
}

// ParseDocument 解析页面
func ParseDocument(pageURL string, body []byte, depth int) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	doc := &Document{URL: pageURL, Root: root, Depth: depth, seen: make(map[string]bool)}
	base, _ := url.Parse(pageURL)
	if base != nil {
		doc.Host = base.Hostname()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Iframe:
				f := Iframe{ID: attr(n, "id"), Name: attr(n, "name"), Src: absolute(base, attr(n, "src"))}
				doc.Iframes = append(doc.Iframes, f)
			case atom.Script:
				if attr(n, "src") == "" && n.FirstChild != nil {
					var sb strings.Builder
					for c := n.FirstChild; c != nil; c = c.NextSibling {
						if c.Type == html.TextNode {
							sb.WriteString(c.Data)
						}
					}
					doc.Scripts = append(doc.Scripts, sb.String())
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return doc, nil
}

// QueueNested 记录需要继续展开的包装页
func (d *Document) QueueNested(u string) {
	if u == "" || d.seen[u] {
		return
	}
	d.seen[u] = true
	d.nested = append(d.nested, u)
}

// MarkIdentified 记录已找到可识别的播放器iframe
func (d *Document) MarkIdentified() {
	d.identified = true
}

// Identified 是否存在可识别的播放器iframe
func (d *Document) Identified() bool {
	return d.identified
}

// Nested 待展开的包装页
func (d *Document) Nested() []string {
	return d.nested
}

// SameSite 链接是否指向当前站点
func (d *Document) SameSite(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return parsed.Host == "" || strings.EqualFold(parsed.Hostname(), d.Host)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func absolute(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
