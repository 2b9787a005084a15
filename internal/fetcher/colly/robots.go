package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/crawlreport/internal/crawler"
	"github.com/JakeFAU/crawlreport/internal/metrics"
)

const (
	reasonRobotsUnreachable = "TLS handshake timeout"
	reasonRobotsMissing     = "robots.txt not found"
	allowAllRobots          = "User-agent: *\nAllow: /"
)

var robotsBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// robotsLookup wraps the probe transport. Requests for /robots.txt are
// retried on handshake timeouts and, when the file stays unreachable,
// answered with an allow-all body. Every other request passes through.
type robotsLookup struct {
	base http.RoundTripper

	mu     sync.Mutex
	status crawler.RobotsStatus
	reason string
}

func (l *robotsLookup) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return l.base.RoundTrip(req)
	}

	for attempt := 0; attempt <= len(robotsBackoff); attempt++ {
		if attempt > 0 {
			if err := pause(req.Context(), robotsBackoff[attempt-1]); err != nil {
				return nil, err
			}
		}
		resp, err := l.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			if resp.StatusCode == http.StatusNotFound {
				l.record(crawler.RobotsStatusMissing, reasonRobotsMissing)
			}
			return resp, nil
		}
		if !handshakeTimeout(err) {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
	}

	l.record(crawler.RobotsStatusIndeterminate, reasonRobotsUnreachable)
	metrics.ObserveProbeTLSHandshakeTimeout()
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Request:       req,
	}, nil
}

func (l *robotsLookup) record(status crawler.RobotsStatus, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == crawler.RobotsStatusIndeterminate {
		return
	}
	l.status, l.reason = status, reason
}

func (l *robotsLookup) outcome() (crawler.RobotsStatus, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status, l.reason
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots.txt retry: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

func handshakeTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
