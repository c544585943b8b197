// Package render turns post Markdown into HTML.
package render

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Renderer converts Markdown to HTML and memoizes results by content hash.
// Raw HTML in the source is not passed through.
type Renderer struct {
	md    goldmark.Markdown
	cache *lru.Cache[uint64, rendered]
}

// rendered keeps the source next to its HTML so a hash collision is a miss.
type rendered struct {
	content string
	html    string
}

func New(cacheSize int) (*Renderer, error) {
	if cacheSize <= 0 {
		return nil, fmt.Errorf("render cache size must be positive, got %d", cacheSize)
	}
	cache, err := lru.New[uint64, rendered](cacheSize)
	if err != nil {
		return nil, err
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Linkify,
		),
	)

	return &Renderer{md: md, cache: cache}, nil
}

// HTML renders content. A content that fails to render yields an empty string.
func (r *Renderer) HTML(content string) string {
	if content == "" {
		return ""
	}

	key := xxhash.Sum64String(content)
	if hit, ok := r.cache.Get(key); ok && hit.content == content {
		return hit.html
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return ""
	}
	html := buf.String()
	r.cache.Add(key, rendered{content: content, html: html})
	return html
}
