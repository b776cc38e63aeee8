package pdfdoc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRenderer struct {
	renders atomic.Int32
	counts  atomic.Int32
	delay   time.Duration
	fail    bool
}

func (r *countingRenderer) PageCount(ctx context.Context, url string) (int, error) {
	r.counts.Add(1)
	return 900, nil
}

func (r *countingRenderer) RenderPage(ctx context.Context, url string, page int, opts RenderOptions) (*Page, error) {
	r.renders.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fail {
		return nil, errors.New("render failed")
	}
	return &Page{Number: page, Zoom: opts.Zoom, Rotation: opts.Rotation, Text: "page"}, nil
}

func TestCachedRendererHitsAndKeys(t *testing.T) {
	next := &countingRenderer{}
	c := NewCachedRenderer(next, 10)
	ctx := context.Background()

	_, err := c.RenderPage(ctx, "doc.pdf", 5, RenderOptions{Zoom: 1})
	require.NoError(t, err)
	_, err = c.RenderPage(ctx, "doc.pdf", 5, RenderOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.renders.Load(), "zero zoom normalizes to 1")

	_, err = c.RenderPage(ctx, "doc.pdf", 5, RenderOptions{Zoom: 1.5})
	require.NoError(t, err)
	_, err = c.RenderPage(ctx, "doc.pdf", 5, RenderOptions{Zoom: 1, Rotation: 90})
	require.NoError(t, err)
	_, err = c.RenderPage(ctx, "doc.pdf", 5, RenderOptions{Zoom: 1, Rotation: 450})
	require.NoError(t, err)
	assert.Equal(t, int32(3), next.renders.Load())
	assert.Equal(t, 3, c.Len())
}

func TestCachedRendererEvictsLeastRecentlyUsed(t *testing.T) {
	next := &countingRenderer{}
	c := NewCachedRenderer(next, 10)
	ctx := context.Background()

	for page := 1; page <= 10; page++ {
		_, err := c.RenderPage(ctx, "doc.pdf", page, RenderOptions{Zoom: 1})
		require.NoError(t, err)
	}
	// Touch page 1 so page 2 becomes the oldest.
	_, _ = c.RenderPage(ctx, "doc.pdf", 1, RenderOptions{Zoom: 1})
	_, _ = c.RenderPage(ctx, "doc.pdf", 11, RenderOptions{Zoom: 1})
	assert.Equal(t, 10, c.Len())
	assert.Equal(t, int32(11), next.renders.Load())

	_, _ = c.RenderPage(ctx, "doc.pdf", 1, RenderOptions{Zoom: 1})
	assert.Equal(t, int32(11), next.renders.Load(), "page 1 is still cached")
	_, _ = c.RenderPage(ctx, "doc.pdf", 2, RenderOptions{Zoom: 1})
	assert.Equal(t, int32(12), next.renders.Load(), "page 2 was evicted")
}

func TestCachedRendererCoalescesConcurrentRequests(t *testing.T) {
	next := &countingRenderer{delay: 50 * time.Millisecond}
	c := NewCachedRenderer(next, 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.RenderPage(context.Background(), "doc.pdf", 3, RenderOptions{Zoom: 2})
			assert.NoError(t, err)
			assert.Equal(t, 3, p.Number)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), next.renders.Load())
}

func TestCachedRendererDoesNotCacheFailures(t *testing.T) {
	next := &countingRenderer{fail: true}
	c := NewCachedRenderer(next, 10)

	_, err := c.RenderPage(context.Background(), "doc.pdf", 1, RenderOptions{})
	require.Error(t, err)
	_, err = c.RenderPage(context.Background(), "doc.pdf", 1, RenderOptions{})
	require.Error(t, err)
	assert.Equal(t, int32(2), next.renders.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCachedRendererPageCount(t *testing.T) {
	next := &countingRenderer{}
	c := NewCachedRenderer(next, 0)

	for i := 0; i < 3; i++ {
		n, err := c.PageCount(context.Background(), "doc.pdf")
		require.NoError(t, err)
		assert.Equal(t, 900, n)
	}
	assert.Equal(t, int32(1), next.counts.Load())
}

func TestRenderOptionsNormalize(t *testing.T) {
	tests := []struct {
		in   RenderOptions
		want RenderOptions
	}{
		{RenderOptions{}, RenderOptions{Zoom: 1}},
		{RenderOptions{Zoom: 2, Rotation: 90}, RenderOptions{Zoom: 2, Rotation: 90}},
		{RenderOptions{Zoom: 1, Rotation: 360}, RenderOptions{Zoom: 1}},
		{RenderOptions{Zoom: 1, Rotation: -90}, RenderOptions{Zoom: 1, Rotation: 270}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Normalize())
	}
}

func TestLocator(t *testing.T) {
	assert.Equal(t, "/srv/bids/b1.pdf", Locator{Template: "/srv/bids/{bid}.pdf"}.URLFor("b1"))
	assert.Equal(t, "https://files.example/b1.pdf", Locator{Template: "https://files.example/"}.URLFor("b1"))
	assert.Equal(t, "", Locator{}.URLFor("b1"))
}

func TestSourcePageText(t *testing.T) {
	src := Source{Renderer: NewCachedRenderer(&countingRenderer{}, 10), URL: "doc.pdf"}
	text, err := src.PageText(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "page", text)
}

func TestTextRendererMissingLocalFile(t *testing.T) {
	r, err := NewTextRenderer(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = r.PageCount(context.Background(), "/does/not/exist.pdf")
	require.Error(t, err)
	_, err = r.PageCount(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoDocument)
}
