package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlreport/internal/crawler"
)

type blobCall struct {
	path        string
	contentType string
	data        string
}

type fakeBlobs struct {
	calls []blobCall
	err   error
}

func (f *fakeBlobs) PutObject(_ context.Context, path, contentType string, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.calls = append(f.calls, blobCall{path: path, contentType: contentType, data: string(data)})
	return "mem://" + path, nil
}

type fakeRetrievals struct {
	records []crawler.RetrievalRecord
	err     error
}

func (f *fakeRetrievals) StoreRetrieval(_ context.Context, r crawler.RetrievalRecord) error {
	f.records = append(f.records, r)
	return f.err
}

type published struct {
	topic   string
	payload any
}

type fakePublisher struct {
	messages []published
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	f.messages = append(f.messages, published{topic: topic, payload: payload})
	return fmt.Sprintf("msg-%d", len(f.messages)), f.err
}

type fixedHasher struct{ err error }

func (h fixedHasher) Hash([]byte) (string, error) { return "deadbeef", h.err }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixedIDs struct{ err error }

func (g fixedIDs) NewID() (string, error) { return "crawl-1", g.err }

var archivedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testDeps() (Deps, *fakeBlobs, *fakeRetrievals, *fakePublisher) {
	blobs := &fakeBlobs{}
	rows := &fakeRetrievals{}
	pub := &fakePublisher{}
	return Deps{
		Blobs:      blobs,
		Retrievals: rows,
		Publisher:  pub,
		Hasher:     fixedHasher{},
		Clock:      fixedClock{t: archivedAt},
		IDs:        fixedIDs{},
	}, blobs, rows, pub
}

func sampleInputs() (crawler.FetchResponse, crawler.Result) {
	resp := crawler.FetchResponse{
		URL:          "https://example.com/final",
		StatusCode:   200,
		Headers:      http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:         []byte("<h1>hi</h1>"),
		UsedHeadless: true,
	}
	res := crawler.Result{
		URL:      "https://example.com",
		FinalURL: "https://example.com/final",
		Markdown: "# hi",
		Success:  true,
	}
	return resp, res
}

func TestNewRequiresCoreDeps(t *testing.T) {
	t.Parallel()

	deps, _, _, _ := testDeps()
	for _, mutate := range []func(*Deps){
		func(d *Deps) { d.Hasher = nil },
		func(d *Deps) { d.Clock = nil },
		func(d *Deps) { d.IDs = nil },
	} {
		d := deps
		mutate(&d)
		_, err := New(Config{}, d, nil)
		require.Error(t, err)
	}
}

func TestArchiveWritesEverything(t *testing.T) {
	t.Parallel()

	deps, blobs, rows, pub := testDeps()
	a, err := New(Config{BlobPrefix: "/pages/", Topic: "crawls"}, deps, nil)
	require.NoError(t, err)

	resp, res := sampleInputs()
	receipt, err := a.Archive(context.Background(), resp, res)
	require.NoError(t, err)
	assert.Equal(t, crawler.ArchiveReceipt{
		CrawlID:     "crawl-1",
		ContentHash: "deadbeef",
		BlobURI:     "mem://pages/crawl-1/deadbeef.html",
	}, receipt)

	require.Len(t, blobs.calls, 2)
	assert.Equal(t, blobCall{"pages/crawl-1/deadbeef.html", "text/html; charset=utf-8", "<h1>hi</h1>"}, blobs.calls[0])
	assert.Equal(t, blobCall{"pages/crawl-1/deadbeef.md", "text/markdown; charset=utf-8", "# hi"}, blobs.calls[1])

	require.Len(t, rows.records, 1)
	row := rows.records[0]
	assert.Equal(t, "crawl-1", row.ID)
	assert.Equal(t, "https://example.com", row.URL)
	assert.Equal(t, "https://example.com/final", row.FinalURL)
	assert.Equal(t, "mem://pages/crawl-1/deadbeef.md", row.MarkdownURI)
	assert.True(t, row.UsedHeadless)
	assert.True(t, row.Success)
	assert.Equal(t, archivedAt, row.RetrievedAt)

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "crawls", pub.messages[0].topic)
	payload := pub.messages[0].payload.(map[string]any)
	assert.Equal(t, "crawl-1", payload["crawl_id"])
	assert.Equal(t, 200, payload["status"])
	assert.Equal(t, true, payload["headless"])
	assert.Equal(t, "2025-03-01T12:00:00Z", payload["timestamp"])
}

func TestArchiveOptionalSinks(t *testing.T) {
	t.Parallel()

	deps, _, _, pub := testDeps()
	deps.Blobs = nil
	deps.Retrievals = nil
	a, err := New(Config{}, deps, nil)
	require.NoError(t, err)

	resp, res := sampleInputs()
	resp.Headers = nil
	receipt, err := a.Archive(context.Background(), resp, res)
	require.NoError(t, err)
	assert.Empty(t, receipt.BlobURI)
	assert.Empty(t, pub.messages, "no topic configured")
}

func TestArchiveDefaultsContentTypeAndPrefix(t *testing.T) {
	t.Parallel()

	deps, blobs, _, _ := testDeps()
	a, err := New(Config{}, deps, nil)
	require.NoError(t, err)

	resp, res := sampleInputs()
	resp.Headers = nil
	_, err = a.Archive(context.Background(), resp, res)
	require.NoError(t, err)
	assert.Equal(t, "crawl-1/deadbeef.html", blobs.calls[0].path)
	assert.Equal(t, "text/html; charset=utf-8", blobs.calls[0].contentType)
}

func TestArchiveErrors(t *testing.T) {
	t.Parallel()

	resp, res := sampleInputs()
	tests := []struct {
		name   string
		mutate func(*Deps)
		want   string
	}{
		{"id", func(d *Deps) { d.IDs = fixedIDs{err: errors.New("entropy")} }, "generate crawl id"},
		{"hash", func(d *Deps) { d.Hasher = fixedHasher{err: errors.New("bad")} }, "hash body"},
		{"blob", func(d *Deps) { d.Blobs = &fakeBlobs{err: errors.New("denied")} }, "put html"},
		{"row", func(d *Deps) { d.Retrievals = &fakeRetrievals{err: errors.New("dup key")} }, "store retrieval"},
		{"publish", func(d *Deps) { d.Publisher = &fakePublisher{err: errors.New("topic gone")} }, "publish payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			deps, _, _, _ := testDeps()
			tt.mutate(&deps)
			a, err := New(Config{Topic: "crawls"}, deps, nil)
			require.NoError(t, err)
			_, err = a.Archive(context.Background(), resp, res)
			require.ErrorContains(t, err, tt.want)
		})
	}
}
