// Package archive persists crawled pages: raw HTML and markdown to a blob
// store, one retrieval row per crawl, and a completion notification.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlreport/internal/crawler"
)

const (
	defaultHTMLContentType = "text/html; charset=utf-8"
	markdownContentType    = "text/markdown; charset=utf-8"
)

// Config controls blob layout and notifications.
type Config struct {
	BlobPrefix string
	Topic      string
}

// Deps are the collaborators used by the Archiver. Blobs, Retrievals and
// Publisher are optional; Hasher, Clock and IDs are required.
type Deps struct {
	Blobs      crawler.BlobStore
	Retrievals crawler.RetrievalStore
	Publisher  crawler.Publisher
	Hasher     crawler.Hasher
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
}

// Archiver implements crawler.Archiver.
type Archiver struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

var _ crawler.Archiver = (*Archiver)(nil)

// New validates deps and returns an Archiver.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Archiver, error) {
	if deps.Hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{cfg: cfg, deps: deps, logger: logger}, nil
}

// Archive stores resp and the extracted markdown of result.
func (a *Archiver) Archive(ctx context.Context, resp crawler.FetchResponse, result crawler.Result) (crawler.ArchiveReceipt, error) {
	crawlID, err := a.deps.IDs.NewID()
	if err != nil {
		return crawler.ArchiveReceipt{}, fmt.Errorf("generate crawl id: %w", err)
	}
	hash, err := a.deps.Hasher.Hash(resp.Body)
	if err != nil {
		return crawler.ArchiveReceipt{}, fmt.Errorf("hash body: %w", err)
	}
	receipt := crawler.ArchiveReceipt{CrawlID: crawlID, ContentHash: hash}
	now := a.deps.Clock.Now().UTC()

	var markdownURI string
	if a.deps.Blobs != nil {
		contentType := resp.ContentType()
		if contentType == "" {
			contentType = defaultHTMLContentType
		}
		uri, err := a.deps.Blobs.PutObject(ctx, a.blobPath(crawlID, hash, "html"), contentType, bytes.NewReader(resp.Body))
		if err != nil {
			return receipt, fmt.Errorf("put html: %w", err)
		}
		receipt.BlobURI = uri

		markdownURI, err = a.deps.Blobs.PutObject(ctx, a.blobPath(crawlID, hash, "md"), markdownContentType,
			strings.NewReader(result.Markdown))
		if err != nil {
			return receipt, fmt.Errorf("put markdown: %w", err)
		}
	}

	if a.deps.Retrievals != nil {
		record := crawler.RetrievalRecord{
			ID:           crawlID,
			URL:          result.URL,
			FinalURL:     firstNonEmpty(result.FinalURL, resp.URL, result.URL),
			StatusCode:   resp.StatusCode,
			ContentType:  resp.ContentType(),
			Hash:         hash,
			BlobURI:      receipt.BlobURI,
			MarkdownURI:  markdownURI,
			Headers:      resp.Headers,
			UsedHeadless: resp.UsedHeadless,
			Success:      result.Success,
			ErrorMessage: result.ErrorMessage,
			RetrievedAt:  now,
		}
		if err := a.deps.Retrievals.StoreRetrieval(ctx, record); err != nil {
			return receipt, fmt.Errorf("store retrieval: %w", err)
		}
	}

	if err := a.publish(ctx, receipt, resp, result, now); err != nil {
		return receipt, err
	}

	a.logger.Info("page archived",
		zap.String("crawl_id", crawlID),
		zap.String("url", result.URL),
		zap.String("blob_uri", receipt.BlobURI),
		zap.String("hash", hash),
	)
	return receipt, nil
}

func (a *Archiver) publish(
	ctx context.Context,
	receipt crawler.ArchiveReceipt,
	resp crawler.FetchResponse,
	result crawler.Result,
	now time.Time,
) error {
	if a.cfg.Topic == "" || a.deps.Publisher == nil {
		return nil
	}
	payload := map[string]any{
		"crawl_id":  receipt.CrawlID,
		"url":       result.URL,
		"blob_uri":  receipt.BlobURI,
		"hash":      receipt.ContentHash,
		"status":    resp.StatusCode,
		"headless":  resp.UsedHeadless,
		"success":   result.Success,
		"timestamp": now.Format(time.RFC3339),
	}
	if _, err := a.deps.Publisher.Publish(ctx, a.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}

func (a *Archiver) blobPath(crawlID, hash, ext string) string {
	prefix := strings.Trim(a.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.%s", crawlID, hash, ext)
	}
	return fmt.Sprintf("%s/%s/%s.%s", prefix, crawlID, hash, ext)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
