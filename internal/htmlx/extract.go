// Package htmlx extracts title, visible text, and outbound links from a raw
// HTML byte buffer. Every function here is pure and never returns an error:
// malformed input degrades to an empty result rather than propagating a
// parse failure up through the worker pipeline.
package htmlx

import (
	"bytes"
	"strings"

	"github.com/jooya/radarcrawl/internal/urlutil"
	"golang.org/x/net/html"
)

// skippedTextTags holds elements whose text content is never visible to a
// reader and must be excluded from ExtractText.
var skippedTextTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
}

// ExtractTitle returns the trimmed contents of the document's <title>
// element, or "" if none is present or the document cannot be tokenized.
func ExtractTitle(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	inTitle := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tok := tokenizer.Token()
			if tok.Data == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				title := strings.TrimSpace(string(tokenizer.Text()))
				if title != "" {
					return title
				}
			}
		case html.EndTagToken:
			tok := tokenizer.Token()
			if tok.Data == "title" {
				return ""
			}
		}
	}
}

// ExtractText returns the visible text of the document with script, style,
// and noscript content removed and whitespace collapsed to single spaces.
// Returns "" if the document cannot be tokenized or carries no text.
func ExtractText(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	var sb strings.Builder
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return collapseWhitespace(sb.String())
		case html.StartTagToken:
			tok := tokenizer.Token()
			if skippedTextTags[tok.Data] {
				skipDepth++
			}
		case html.EndTagToken:
			tok := tokenizer.Token()
			if skippedTextTags[tok.Data] && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(tokenizer.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// ExtractLinks resolves every <a href> in the document against base,
// filters out non-http(s) targets, normalizes the survivors, and returns a
// deduplicated list of absolute URLs.
func ExtractLinks(base string, body []byte) []string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	seen := make(map[string]bool)
	var links []string

	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			return links
		}
		if tokenType != html.StartTagToken && tokenType != html.SelfClosingTagToken {
			continue
		}

		tok := tokenizer.Token()
		if tok.Data != "a" {
			continue
		}

		for _, attr := range tok.Attr {
			if attr.Key != "href" {
				continue
			}
			href := strings.TrimSpace(attr.Val)
			if href == "" {
				continue
			}

			normalized, err := urlutil.Normalize(base, href)
			if err != nil {
				continue
			}
			if seen[normalized] {
				continue
			}
			seen[normalized] = true
			links = append(links, normalized)
		}
	}
}
