package crawler

import (
	"net/http"
	"time"
)

// RobotsStatus records what the fetcher learned about robots.txt for a probe.
type RobotsStatus string

// Robots status values attached to fetch responses.
const (
	RobotsStatusUnknown       RobotsStatus = ""
	RobotsStatusMissing       RobotsStatus = "missing"
	RobotsStatusIndeterminate RobotsStatus = "indeterminate"
)

// HeadlessMode selects when the session re-fetches a page through the headless browser.
type HeadlessMode string

// Headless modes accepted by the session.
const (
	HeadlessOff    HeadlessMode = "off"
	HeadlessAuto   HeadlessMode = "auto"
	HeadlessAlways HeadlessMode = "always"
)

// Media groups returned in Result.Media.
const (
	MediaImages = "images"
	MediaVideos = "videos"
	MediaAudios = "audios"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	CrawlID               string
	URL                   string
	UseHeadless           bool
	Headers               http.Header
	RespectRobots         bool
	RespectRobotsProvided bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	RobotsStatus RobotsStatus
	RobotsReason string
}

// ContentType returns the response Content-Type header, if any.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// Page is the input handed to an Extractor.
type Page struct {
	URL         string
	ContentType string
	Body        []byte
}

// Document is what an Extractor pulls out of a Page.
type Document struct {
	Metadata map[string]string
	Markdown string
	Media    Media
}

// MediaItem describes one image, video or audio element found on a page.
type MediaItem struct {
	Src   string `json:"src"`
	Alt   string `json:"alt,omitempty"`
	Desc  string `json:"desc,omitempty"`
	Score int    `json:"score"`
	Type  string `json:"type"`
	Width string `json:"width,omitempty"`
}

// Media maps a media group (images, videos, audios) to its items.
type Media map[string][]MediaItem

// NewMedia returns a Media value with every group present and empty.
func NewMedia() Media {
	return Media{
		MediaImages: []MediaItem{},
		MediaVideos: []MediaItem{},
		MediaAudios: []MediaItem{},
	}
}

// Result is the outcome of Session.Crawl.
type Result struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Metadata     map[string]string
	Markdown     string
	Media        Media
	Success      bool
	ErrorMessage string
	UsedHeadless bool
	CrawlID      string
	BlobURI      string
	Duration     time.Duration
}

// Title returns the page title and whether the metadata carried one.
func (r Result) Title() (string, bool) {
	title, ok := r.Metadata["title"]
	return title, ok
}

// ArchiveReceipt is returned by an Archiver after persisting a page.
type ArchiveReceipt struct {
	CrawlID     string
	ContentHash string
	BlobURI     string
}

// RetrievalRecord is one row written to the retrieval store.
type RetrievalRecord struct {
	ID           string
	URL          string
	FinalURL     string
	StatusCode   int
	ContentType  string
	Hash         string
	BlobURI      string
	MarkdownURI  string
	Headers      http.Header
	UsedHeadless bool
	Success      bool
	ErrorMessage string
	RetrievedAt  time.Time
}
