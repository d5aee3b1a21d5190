package helpers

import (
	"html"
	"net/url"
	"strings"
	"unicode"

	"github.com/go-shiori/go-readability"
)

// PageText turns captured page content into plain text. Markup is run through
// readability to keep the main article; when that yields nothing the strict
// sanitizer is used instead. The returned title is readability's when found.
func PageText(rawURL, content string) (title, text string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ""
	}
	if !looksLikeHTML(content) {
		return "", collapseWhitespace(content)
	}
	pageURL, err := url.Parse(rawURL)
	if err != nil || pageURL == nil {
		pageURL = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(content), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return strings.TrimSpace(article.Title), collapseWhitespace(article.TextContent)
	}
	// bluemonday leaves entities encoded
	return "", collapseWhitespace(html.UnescapeString(SanitizeHTMLStrict(content)))
}

// ChunkText splits text into pieces of at most size runes, preferring to cut
// at whitespace, and returns no more than max pieces.
func ChunkText(text string, size, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" || size <= 0 {
		return nil
	}
	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 && (max <= 0 || len(chunks) < max) {
		if len(runes) <= size {
			chunks = append(chunks, strings.TrimSpace(string(runes)))
			break
		}
		cut := size
		for i := size; i > size/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	return chunks
}

// Preview trims s to at most n runes, appending an ellipsis when cut.
func Preview(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	for _, tag := range []string{"<html", "<body", "<div", "<p>", "<p ", "<article", "<span", "<br"} {
		if strings.Contains(lower, tag) {
			return true
		}
	}
	return false
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
