// Package render turns a Markdown note into the standalone HTML page the
// content server hands to a receiver.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Resolver maps an image link found in the note at from to a file path the
// content server can serve.
type Resolver interface {
	Resolve(link, from string) (string, bool)
}

var pageTpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
	<style>
		body {
			padding: 40px;
			max-width: 800px;
			margin: 0 auto;
			font-family: -apple-system, "Segoe UI", Roboto, sans-serif;
			line-height: 1.6;
			background-color: #1e1e1e;
			color: #dcddde;
		}
		a { color: #7f6df2; }
		img { max-width: 100%; }
		pre, code { background-color: #2a2a2a; border-radius: 4px; }
		pre { padding: 12px; overflow-x: auto; }
		table { border-collapse: collapse; }
		th, td { border: 1px solid #444; padding: 4px 8px; }
	</style>
</head>
<body class="markdown-preview-view">
	<div class="markdown-rendered">
{{.Body}}
	</div>
</body>
</html>
`))

// Markdown renders source, the note stored at docPath, as a full HTML page.
// Local image references that files can resolve are rewritten to
// <baseURL>/image?path=<path>&token=<token>; remote and data: sources are
// left untouched. files may be nil to skip rewriting.
func Markdown(source []byte, docPath, baseURL, token string, files Resolver) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(source))

	if files != nil {
		err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
			img, ok := n.(*ast.Image)
			if !ok || !entering {
				return ast.WalkContinue, nil
			}
			if dest, ok := rewriteImage(string(img.Destination), docPath, baseURL, token, files); ok {
				img.Destination = []byte(dest)
			}
			return ast.WalkContinue, nil
		})
		if err != nil {
			return "", fmt.Errorf("rewrite images: %w", err)
		}
	}

	var body bytes.Buffer
	if err := md.Renderer().Render(&body, source, doc); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	var page bytes.Buffer
	err := pageTpl.Execute(&page, struct {
		Title string
		Body  template.HTML
	}{
		Title: Title(docPath),
		Body:  template.HTML(body.String()),
	})
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return page.String(), nil
}

func rewriteImage(src, docPath, baseURL, token string, files Resolver) (string, bool) {
	if src == "" || strings.HasPrefix(src, "http") || strings.HasPrefix(src, "data:") {
		return "", false
	}

	link := src
	if unescaped, err := url.PathUnescape(src); err == nil {
		link = unescaped
	}
	link, _, _ = strings.Cut(link, "?")
	if link == "" {
		return "", false
	}

	resolved, ok := files.Resolve(link, docPath)
	if !ok {
		return "", false
	}
	q := url.Values{"path": {resolved}, "token": {token}}
	return strings.TrimSuffix(baseURL, "/") + "/image?" + q.Encode(), true
}

// Title is the note's file name without its extension.
func Title(docPath string) string {
	base := path.Base(strings.ReplaceAll(docPath, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
