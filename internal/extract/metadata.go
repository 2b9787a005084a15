package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// metaNames maps <meta name|property> values onto metadata keys.
var metaNames = map[string]string{
	"description":    "description",
	"keywords":       "keywords",
	"author":         "author",
	"og:title":       "og:title",
	"og:description": "og:description",
	"og:image":       "og:image",
	"og:site_name":   "og:site_name",
}

func metadata(doc *goquery.Document) map[string]string {
	meta := map[string]string{}

	if title := strings.TrimSpace(doc.Find("head title").First().Text()); title != "" {
		meta["title"] = collapse(title)
	} else if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = collapse(title)
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", s.AttrOr("property", ""))))
		key, ok := metaNames[name]
		if !ok {
			return
		}
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		if _, seen := meta[key]; !seen {
			meta[key] = content
		}
	})

	if _, ok := meta["title"]; !ok {
		if og := meta["og:title"]; og != "" {
			meta["title"] = og
		}
	}
	if lang := strings.TrimSpace(doc.Find("html").AttrOr("lang", "")); lang != "" {
		meta["language"] = lang
	}
	if canonical := strings.TrimSpace(doc.Find(`link[rel="canonical"]`).AttrOr("href", "")); canonical != "" {
		meta["canonical"] = canonical
	}
	return meta
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
