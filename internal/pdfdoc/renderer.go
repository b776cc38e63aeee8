// Package pdfdoc reads bid documents: page counts, per-page text, and a
// bounded cache in front of both.
package pdfdoc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrPageOutOfRange = eris.New("page is outside the document")
	ErrNoDocument     = eris.New("no document is configured for this bid")
)

// RenderOptions are the viewer parameters a page is rendered for.
type RenderOptions struct {
	Zoom     float64 `json:"zoom"`
	Rotation int     `json:"rotation"`
}

// Normalize clamps zoom to a positive value (default 1) and rotation to a
// quarter turn in [0, 360).
func (o RenderOptions) Normalize() RenderOptions {
	if o.Zoom <= 0 {
		o.Zoom = 1
	}
	o.Rotation = ((o.Rotation/90)%4 + 4) % 4 * 90
	return o
}

// Page is a rendered page. Text is the page's text layer.
type Page struct {
	Number   int     `json:"number"`
	Zoom     float64 `json:"zoom"`
	Rotation int     `json:"rotation"`
	Text     string  `json:"text"`
}

// Renderer reads pages of a document addressed by URL or local path.
// Page numbers are 1-indexed.
type Renderer interface {
	PageCount(ctx context.Context, url string) (int, error)
	RenderPage(ctx context.Context, url string, page int, opts RenderOptions) (*Page, error)
}

var extraneousWhitespace = regexp.MustCompile(`[ \t\f\r]+`)

// TextRenderer extracts page text with ledongthuc/pdf. Remote documents
// are downloaded into the cache directory once.
type TextRenderer struct {
	cacheDir  string
	client    *http.Client
	downloads singleflight.Group
}

func NewTextRenderer(cacheDir string, client *http.Client) (*TextRenderer, error) {
	if cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		cacheDir = filepath.Join(base, "bid-workbench", "documents")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "create document cache %s", cacheDir)
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &TextRenderer{cacheDir: cacheDir, client: client}, nil
}

func (r *TextRenderer) PageCount(ctx context.Context, url string) (int, error) {
	path, err := r.localPath(ctx, url)
	if err != nil {
		return 0, err
	}
	file, reader, err := pdf.Open(path)
	if err != nil {
		return 0, eris.Wrap(err, "failed to open pdf")
	}
	defer file.Close()
	return reader.NumPage(), nil
}

func (r *TextRenderer) RenderPage(ctx context.Context, url string, page int, opts RenderOptions) (*Page, error) {
	opts = opts.Normalize()
	path, err := r.localPath(ctx, url)
	if err != nil {
		return nil, err
	}
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "failed to open pdf")
	}
	defer file.Close()

	if page < 1 || page > reader.NumPage() {
		return nil, eris.Wrapf(ErrPageOutOfRange, "page %d of %d", page, reader.NumPage())
	}
	out := &Page{Number: page, Zoom: opts.Zoom, Rotation: opts.Rotation}
	p := reader.Page(page)
	if p.V.IsNull() {
		return out, nil
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to extract text of page %d", page)
	}
	out.Text = cleanText(text)
	return out, nil
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(extraneousWhitespace.ReplaceAllString(l, " "))
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

// localPath returns a path on disk for url, downloading remote documents
// into the cache on first use.
func (r *TextRenderer) localPath(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", ErrNoDocument
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		path := strings.TrimPrefix(url, "file://")
		if _, err := os.Stat(path); err != nil {
			return "", eris.Wrapf(err, "document %s", path)
		}
		return path, nil
	}

	sum := sha256.Sum256([]byte(url))
	path := filepath.Join(r.cacheDir, hex.EncodeToString(sum[:])+".pdf")
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return path, nil
	}
	_, err, _ := r.downloads.Do(path, func() (any, error) {
		return nil, r.download(ctx, url, path)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func (r *TextRenderer) download(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "build document request")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "download document")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("download document: HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(r.cacheDir, "download-*.partial")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return eris.Wrap(firstErr(copyErr, closeErr), "write document")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return eris.Wrap(err, "store document")
	}
	zap.L().Info("document cached", zap.String("url", url), zap.Int64("bytes", n))
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Locator maps a bid to its document. Template may hold "{bid}", e.g.
// "/srv/bids/{bid}.pdf" or "https://files.example/bids/{bid}.pdf".
type Locator struct {
	Template string
}

func (l Locator) URLFor(bidID string) string {
	if l.Template == "" {
		return ""
	}
	if !strings.Contains(l.Template, "{bid}") {
		return strings.TrimRight(l.Template, "/") + "/" + bidID + ".pdf"
	}
	return strings.ReplaceAll(l.Template, "{bid}", bidID)
}

// Source binds a renderer to one document so it can serve page text.
type Source struct {
	Renderer Renderer
	URL      string
}

func (s Source) PageText(ctx context.Context, page int) (string, error) {
	p, err := s.Renderer.RenderPage(ctx, s.URL, page, RenderOptions{Zoom: 1})
	if err != nil {
		return "", err
	}
	return p.Text, nil
}

func (s Source) String() string { return fmt.Sprintf("pdf:%s", s.URL) }
