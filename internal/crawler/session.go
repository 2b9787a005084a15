package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlreport/internal/metrics"
)

var (
	// ErrInvalidURL is returned when the crawl target is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrRobotsDisallowed is returned by fetchers when robots.txt forbids the URL.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	// ErrSessionClosed is returned by Crawl after Close.
	ErrSessionClosed = errors.New("crawl session is closed")
)

// RobotsDeniedMessage is the error message reported for robots.txt denials.
const RobotsDeniedMessage = "Access denied by robots.txt"

const renderedContentType = "text/html; charset=utf-8"

// Option customizes a Session.
type Option func(*Session)

// WithHeadless enables headless promotion using the given fetcher and detector.
func WithHeadless(fetcher Fetcher, detector HeadlessDetector, mode HeadlessMode) Option {
	return func(s *Session) {
		s.headlessFetcher = fetcher
		s.detector = detector
		s.headlessMode = mode
	}
}

// WithArchiver persists every crawled page through a.
func WithArchiver(a Archiver) Option {
	return func(s *Session) {
		s.archiver = a
	}
}

// WithHeaders adds extra request headers to every fetch.
func WithHeaders(h http.Header) Option {
	return func(s *Session) {
		s.headers = h.Clone()
	}
}

// WithRobots overrides the fetcher's robots.txt setting.
func WithRobots(respect bool) Option {
	return func(s *Session) {
		s.respectRobots = respect
		s.respectRobotsSet = true
	}
}

// WithCloser registers fn to run when the session closes. Closers run in
// reverse registration order.
func WithCloser(fn func(context.Context) error) Option {
	return func(s *Session) {
		if fn != nil {
			s.closers = append(s.closers, fn)
		}
	}
}

// WithReadyCheck registers fn as a dependency check run by Ready.
func WithReadyCheck(fn func(context.Context) error) Option {
	return func(s *Session) {
		if fn != nil {
			s.readyChecks = append(s.readyChecks, fn)
		}
	}
}

// Session crawls single pages. It is safe for concurrent use once built.
type Session struct {
	probeFetcher     Fetcher
	headlessFetcher  Fetcher
	detector         HeadlessDetector
	headlessMode     HeadlessMode
	extractor        Extractor
	archiver         Archiver
	headers          http.Header
	respectRobots    bool
	respectRobotsSet bool
	logger           *zap.Logger

	readyChecks []func(context.Context) error

	mu      sync.Mutex
	closed  bool
	closers []func(context.Context) error
}

// NewSession builds a Session around a probe fetcher and an extractor.
func NewSession(probe Fetcher, extractor Extractor, logger *zap.Logger, opts ...Option) (*Session, error) {
	if probe == nil {
		return nil, errors.New("probe fetcher is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		probeFetcher: probe,
		extractor:    extractor,
		headlessMode: HeadlessOff,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Crawl fetches rawURL and extracts its content. HTTP error statuses and
// robots.txt denials are reported through Result.Success; transport failures,
// cancellation and invalid input are returned as errors.
func (s *Session) Crawl(ctx context.Context, rawURL string) (Result, error) {
	if s.isClosed() {
		return Result{}, ErrSessionClosed
	}
	if err := ValidateURL(rawURL); err != nil {
		return Result{}, err
	}

	start := time.Now()
	resp, err := s.probeFetcher.Fetch(ctx, s.request(rawURL, false))
	if err != nil {
		if errors.Is(err, ErrRobotsDisallowed) {
			s.logger.Info("crawl denied by robots.txt", zap.String("url", rawURL))
			metrics.ObserveCrawl(rawURL, "robots_denied", 0)
			return robotsDeniedResult(rawURL), nil
		}
		metrics.ObserveCrawl(rawURL, "error", 0)
		return Result{}, fmt.Errorf("probe fetch: %w", err)
	}
	s.logger.Debug("probe fetch succeeded",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
		zap.String("robots_status", string(resp.RobotsStatus)),
	)

	if promoted, ok := s.maybePromote(ctx, rawURL, resp); ok {
		resp = promoted
		s.logger.Info("headless promotion applied", zap.String("url", rawURL))
	}

	doc, err := s.extractor.Extract(Page{
		URL:         firstNonEmpty(resp.URL, rawURL),
		ContentType: resp.ContentType(),
		Body:        resp.Body,
	})
	if err != nil {
		metrics.ObserveCrawl(rawURL, "error", len(resp.Body))
		return Result{}, fmt.Errorf("extract content: %w", err)
	}

	result := Result{
		URL:          rawURL,
		FinalURL:     firstNonEmpty(resp.URL, rawURL),
		StatusCode:   resp.StatusCode,
		Metadata:     doc.Metadata,
		Markdown:     doc.Markdown,
		Media:        doc.Media,
		UsedHeadless: resp.UsedHeadless,
		Duration:     time.Since(start),
	}
	if result.Metadata == nil {
		result.Metadata = map[string]string{}
	}
	if result.Media == nil {
		result.Media = NewMedia()
	}
	result.Success, result.ErrorMessage = classifyStatus(resp.StatusCode)
	metrics.ObserveCrawl(rawURL, strconv.Itoa(resp.StatusCode), len(resp.Body))

	if s.archiver != nil {
		receipt, err := s.archiver.Archive(ctx, resp, result)
		if err != nil {
			s.logger.Warn("archive page failed", zap.String("url", rawURL), zap.Error(err))
		} else {
			result.CrawlID = receipt.CrawlID
			result.BlobURI = receipt.BlobURI
		}
	}

	s.logger.Info("crawl finished",
		zap.String("url", rawURL),
		zap.Int("status", result.StatusCode),
		zap.Bool("success", result.Success),
		zap.Bool("headless", result.UsedHeadless),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// Close releases the session's resources. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ready runs the registered dependency checks and reports the first failure.
func (s *Session) Ready(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	for _, check := range s.readyChecks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) request(rawURL string, headless bool) FetchRequest {
	return FetchRequest{
		URL:                   rawURL,
		UseHeadless:           headless,
		Headers:               s.headers,
		RespectRobots:         s.respectRobots,
		RespectRobotsProvided: s.respectRobotsSet,
	}
}

func (s *Session) maybePromote(ctx context.Context, rawURL string, probe FetchResponse) (FetchResponse, bool) {
	if s.headlessFetcher == nil || s.headlessMode == HeadlessOff || s.headlessMode == "" {
		return probe, false
	}
	if s.headlessMode == HeadlessAuto && (s.detector == nil || !s.detector.ShouldPromote(probe)) {
		return probe, false
	}

	resp, err := s.headlessFetcher.Fetch(ctx, s.request(rawURL, true))
	if err != nil {
		s.logger.Warn("headless promotion failed", zap.String("url", rawURL), zap.Error(err))
		return probe, false
	}
	resp.UsedHeadless = true
	// The rendered DOM is serialized by the browser, so it is always UTF-8.
	resp.Headers = withContentType(resp.Headers, renderedContentType)
	metrics.ObserveHeadlessPromotion(rawURL)
	return resp, true
}

// ValidateURL checks that rawURL is an absolute http or https URL.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q must start with http:// or https://", ErrInvalidURL, rawURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidURL, rawURL)
	}
	return nil
}

func classifyStatus(code int) (bool, string) {
	if code >= 200 && code < 400 {
		return true, ""
	}
	if text := http.StatusText(code); text != "" {
		return false, fmt.Sprintf("%d %s", code, text)
	}
	return false, fmt.Sprintf("HTTP status %d", code)
}

func robotsDeniedResult(rawURL string) Result {
	return Result{
		URL:          rawURL,
		FinalURL:     rawURL,
		StatusCode:   http.StatusForbidden,
		Metadata:     map[string]string{},
		Media:        NewMedia(),
		Success:      false,
		ErrorMessage: RobotsDeniedMessage,
	}
}

func withContentType(h http.Header, contentType string) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	out.Set("Content-Type", contentType)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
