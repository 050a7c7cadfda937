package cache

import (
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/html"
)

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// stopwords are dropped before fingerprinting so that trivially reworded
// submissions share a cache entry.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "and": true, "or": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "at": true,
	"by": true, "from": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true,
}

// VisibleText strips markup from submitted content, keeping text nodes and
// skipping script and style bodies. Plain text passes through unchanged apart
// from whitespace collapsing.
func VisibleText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(buf.String()), " ")
}

// NormalizeLanguage reduces a language tag to its lower-case primary subtag.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if lang == "" {
		return "und"
	}
	return lang
}

// NormalizeText returns the order-insensitive token form of text: lower-cased
// word tokens without stopwords, sorted and joined by "|".
func NormalizeText(text string) string {
	tokens := tokenRe.FindAllString(strings.ToLower(VisibleText(text)), -1)
	filtered := tokens[:0]
	for _, t := range tokens {
		if !stopwords[t] {
			filtered = append(filtered, t)
		}
	}
	sort.Strings(filtered)
	return strings.Join(filtered, "|")
}

// Fingerprint is the deterministic cache and dedup key of a submission.
func Fingerprint(text, language string) string {
	sum := blake2b.Sum256([]byte(NormalizeLanguage(language) + "\x00" + NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}
