// Package report defines the CrawlReport printed once per crawl and its two
// JSON shapes.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/JakeFAU/crawlreport/internal/crawler"
)

// DefaultTitle is used when the crawl result carries no title.
const DefaultTitle = "No Title"

// CrawlReport is the record emitted for one crawl.
type CrawlReport struct {
	Title        string
	URL          string
	Markdown     string
	Media        any
	Success      bool
	ErrorMessage string

	fault bool
}

// FromResult builds the success-shaped report for url.
func FromResult(url string, res crawler.Result) CrawlReport {
	title, ok := res.Title()
	if !ok {
		title = DefaultTitle
	}
	var media any = res.Media
	if res.Media == nil {
		media = map[string]any{}
	}
	return CrawlReport{
		Title:        title,
		URL:          url,
		Markdown:     res.Markdown,
		Media:        media,
		Success:      res.Success,
		ErrorMessage: res.ErrorMessage,
	}
}

// FromFault builds the fault-shaped report for url.
func FromFault(url string, err error) CrawlReport {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return CrawlReport{
		URL:          url,
		ErrorMessage: msg,
		fault:        true,
	}
}

// IsFault reports whether r uses the fault shape.
func (r CrawlReport) IsFault() bool {
	return r.fault
}

type successShape struct {
	Title        string  `json:"title"`
	URL          string  `json:"url"`
	Markdown     string  `json:"markdown"`
	Media        any     `json:"media"`
	Success      bool    `json:"success"`
	ErrorMessage *string `json:"error_message"`
}

type faultShape struct {
	Success      bool   `json:"success"`
	URL          string `json:"url"`
	ErrorMessage string `json:"error_message"`
	Markdown     string `json:"markdown"`
}

// MarshalJSON renders the success or fault shape with a fixed key order.
// HTML characters are left unescaped.
func (r CrawlReport) MarshalJSON() ([]byte, error) {
	var v any
	if r.fault {
		v = faultShape{URL: r.URL, ErrorMessage: r.ErrorMessage}
	} else {
		s := successShape{
			Title:    r.Title,
			URL:      r.URL,
			Markdown: r.Markdown,
			Media:    r.Media,
			Success:  r.Success,
		}
		if r.ErrorMessage != "" {
			msg := r.ErrorMessage
			s.ErrorMessage = &msg
		}
		v = s
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Marshal returns r as a single newline-terminated JSON line.
func Marshal(r CrawlReport) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return buf.Bytes(), nil
}

// Write marshals r and writes it to w in a single call. When r cannot be
// marshaled, the fault report describing the failure is written instead.
func Write(w io.Writer, r CrawlReport) (CrawlReport, error) {
	line, err := Marshal(r)
	if err != nil {
		r = FromFault(r.URL, err)
		if line, err = Marshal(r); err != nil {
			return r, err
		}
	}
	if _, err := w.Write(line); err != nil {
		return r, fmt.Errorf("write report: %w", err)
	}
	return r, nil
}
