package extract

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawlreport/internal/crawler"
)

const minImageDimension = 150

var iconHints = []string{"icon", "logo", "sprite", "pixel", "spacer", "avatar"}

func media(doc *goquery.Document, base *url.URL) crawler.Media {
	out := crawler.NewMedia()
	seen := map[string]bool{}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := resolve(base, firstAttr(s, "src", "data-src"))
		if src == "" || seen[src] {
			return
		}
		seen[src] = true
		item := crawler.MediaItem{
			Src:   src,
			Alt:   collapse(s.AttrOr("alt", "")),
			Desc:  describe(s),
			Type:  "image",
			Width: s.AttrOr("width", ""),
		}
		item.Score = scoreImage(s, item)
		out[crawler.MediaImages] = append(out[crawler.MediaImages], item)
	})

	collect := func(tag, group, kind string) {
		doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
			src := firstAttr(s, "src")
			if src == "" {
				src = firstAttr(s.Find("source").First(), "src")
			}
			src = resolve(base, src)
			if src == "" || seen[src] {
				return
			}
			seen[src] = true
			out[group] = append(out[group], crawler.MediaItem{
				Src:   src,
				Alt:   collapse(s.AttrOr("title", "")),
				Desc:  describe(s),
				Score: 1,
				Type:  kind,
				Width: s.AttrOr("width", ""),
			})
		})
	}
	collect("video", crawler.MediaVideos, "video")
	collect("audio", crawler.MediaAudios, "audio")
	return out
}

// scoreImage rewards images that look like content rather than chrome.
func scoreImage(s *goquery.Selection, item crawler.MediaItem) int {
	score := 0
	if item.Alt != "" {
		score++
	}
	if item.Desc != "" {
		score++
	}
	if dimension(s.AttrOr("width", "")) >= minImageDimension {
		score++
	}
	if dimension(s.AttrOr("height", "")) >= minImageDimension {
		score++
	}
	if s.Closest("figure, article, main").Length() > 0 {
		score++
	}
	lower := strings.ToLower(item.Src + " " + s.AttrOr("class", ""))
	for _, hint := range iconHints {
		if strings.Contains(lower, hint) {
			score--
			break
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

func describe(s *goquery.Selection) string {
	if caption := collapse(s.Closest("figure").Find("figcaption").First().Text()); caption != "" {
		return caption
	}
	return collapse(s.AttrOr("title", ""))
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(s.AttrOr(name, "")); v != "" {
			return v
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u.String()
}

func dimension(v string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	if err != nil {
		return 0
	}
	return n
}
