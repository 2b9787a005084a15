package extract

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	md "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/crawlreport/internal/crawler"
)

// HTML extracts documents from HTML pages.
type HTML struct {
	logger *zap.Logger
}

// New returns an HTML extractor.
func New(logger *zap.Logger) *HTML {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTML{logger: logger}
}

var _ crawler.Extractor = (*HTML)(nil)

// Extract implements crawler.Extractor.
func (h *HTML) Extract(page crawler.Page) (crawler.Document, error) {
	doc := crawler.Document{
		Metadata: map[string]string{},
		Media:    crawler.NewMedia(),
	}
	body, err := decode(page.Body, page.ContentType)
	if err != nil {
		return doc, fmt.Errorf("decode body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return doc, nil
	}
	if !isHTML(page.ContentType) {
		if strings.HasPrefix(page.ContentType, "text/") {
			doc.Markdown = string(body)
		}
		h.logger.Debug("skipping non-html body", zap.String("content_type", page.ContentType))
		return doc, nil
	}

	base, _ := url.Parse(page.URL)
	gq, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return doc, fmt.Errorf("parse html: %w", err)
	}
	doc.Metadata = metadata(gq)
	doc.Media = media(gq, base)

	markdown, err := toMarkdown(string(body), base)
	if err != nil {
		return doc, fmt.Errorf("convert markdown: %w", err)
	}
	doc.Markdown = markdown
	return doc, nil
}

func toMarkdown(html string, base *url.URL) (string, error) {
	if base == nil || base.Host == "" {
		return md.ConvertString(html)
	}
	return md.ConvertString(html, converter.WithDomain(base.Scheme+"://"+base.Host))
}

// decode converts body to UTF-8. Bodies that are already valid UTF-8 are
// returned untouched, since the probe fetcher converts declared charsets.
func decode(body []byte, contentType string) ([]byte, error) {
	if utf8.Valid(body) {
		return body, nil
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
