package utils

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	mdParser = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		goldmark.WithRendererOptions(
			goldhtml.WithHardWraps(),
			goldhtml.WithXHTML(),
		),
	)
	policy = bluemonday.UGCPolicy()
	strict = bluemonday.StrictPolicy()
)

func init() {
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	policy.RequireNoFollowOnLinks(true)
	policy.RequireNoReferrerOnLinks(true)
}

// SanitizeText strips every tag from user input and trims surrounding whitespace.
// Entities produced by the policy are decoded again so the stored body stays plain text.
func SanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

// RenderComment 将评论正文渲染为安全的 HTML
func RenderComment(source string) string {
	var buf bytes.Buffer
	if err := mdParser.Convert([]byte(source), &buf); err != nil {
		return html.EscapeString(source) // Fallback
	}
	return policy.Sanitize(buf.String())
}
