// Package livexml decodes, hardens, validates and parses livescore XML documents.
package livexml

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	prolog     = "<?xml"
	rootOpen   = "<dynamicresults"
	closingTag = "</dynamicresults>"

	// DefaultMaxDocuments caps documents taken from one payload.
	DefaultMaxDocuments = 64
)

var (
	doctypeRe = regexp.MustCompile(`(?is)<!DOCTYPE[^\[>]*(\[.*?\])?\s*>`)
	entityRe  = regexp.MustCompile(`(?is)<!ENTITY.*?>`)
)

// Decode undoes form percent-encoding ('+' is a space). Bodies that are not
// valid percent-encoding are returned unchanged.
func Decode(body []byte) string {
	raw := string(body)
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Extract returns at most max documents, each running from its prolog (or root
// element when the prolog is missing) to the closing root tag. An unterminated
// tail is ignored.
func Extract(text string, max int) []string {
	if max <= 0 {
		max = DefaultMaxDocuments
	}
	var docs []string
	for len(docs) < max {
		start := documentStart(text)
		if start < 0 {
			break
		}
		rest := text[start:]
		end := strings.Index(rest, closingTag)
		if end < 0 {
			break
		}
		end += len(closingTag)
		docs = append(docs, rest[:end])
		text = rest[end:]
	}
	return docs
}

func documentStart(text string) int {
	p := strings.Index(text, prolog)
	r := strings.Index(text, rootOpen)
	switch {
	case p < 0:
		return r
	case r < 0:
		return p
	case p < r:
		return p
	default:
		return r
	}
}

// Sanitize strips DOCTYPE (with any internal subset) and ENTITY declarations.
// Undeclared entity references left behind fail strict parsing later.
func Sanitize(doc string) string {
	doc = doctypeRe.ReplaceAllString(doc, "")
	return entityRe.ReplaceAllString(doc, "")
}
