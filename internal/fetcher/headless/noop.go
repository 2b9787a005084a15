package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/crawlreport/internal/crawler"
)

// ErrNotConfigured is returned by Noop.Fetch.
var ErrNotConfigured = errors.New("headless rendering unavailable")

// Noop stands in when Chrome cannot be set up; every promotion fails and the
// probe result is kept.
type Noop struct{}

// NewNoop returns a Noop fetcher.
func NewNoop() *Noop { return &Noop{} }

// Fetch always fails with ErrNotConfigured.
func (Noop) Fetch(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, ErrNotConfigured
}
