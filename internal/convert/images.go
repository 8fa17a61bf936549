package convert

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// InlineImages rewrites relative <img src> references to files under dir as
// base64 data URIs. Missing files and absolute or remote sources are left alone.
func InlineImages(page, dir string) (string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			for i, a := range n.Attr {
				if a.Key != "src" {
					continue
				}
				if uri, ok := dataURI(dir, a.Val); ok {
					n.Attr[i].Val = uri
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

func dataURI(dir, src string) (string, bool) {
	if src == "" || strings.Contains(src, ":") || strings.HasPrefix(src, "//") {
		return "", false
	}
	// Clean against a rooted path so "../" cannot leave dir.
	path := filepath.Join(dir, filepath.Clean("/"+filepath.FromSlash(src)))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), true
}
