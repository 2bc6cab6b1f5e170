package catalog

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/cache"
)

// DefaultTimeout bounds catalog and manifest requests when no client is
// supplied.
const DefaultTimeout = 30 * time.Second

// Validators are the response headers used to decide whether a cached
// download is still current.
type Validators struct {
	ETag         string
	LastModified string
	Size         int64 // -1 when the server sends no Content-Length
}

// Version returns the ETag, or Last-Modified when the server sends no ETag.
func (v Validators) Version() string {
	if v.ETag != "" {
		return v.ETag
	}
	return v.LastModified
}

// Client performs the HTTP side of the catalog: fetching the JSON documents,
// probing freshness and downloading archives.
//
// Timeout bounds a whole Get or Head. Downloads are not bounded as a whole;
// they fail when the server takes longer than Timeout to send headers or
// leaves the body idle for Timeout.
type Client struct {
	HTTP    *http.Client
	Timeout time.Duration
	Log     zerolog.Logger
}

// NewClient returns a client with the given timeout. Zero means
// DefaultTimeout.
func NewClient(timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = timeout
	return &Client{HTTP: &http.Client{Transport: tr}, Timeout: timeout, Log: log}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c *Client) do(ctx context.Context, method, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, &api.NetworkError{URL: u, Err: err}
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &api.NetworkError{URL: u, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &api.NetworkError{URL: u, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return resp, nil
}

// Get fetches u and returns the body.
func (c *Client) Get(ctx context.Context, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	resp, err := c.do(ctx, http.MethodGet, u)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &api.NetworkError{URL: u, Err: err}
	}
	return data, nil
}

// Head sends a HEAD request to u and returns its validators.
func (c *Client) Head(ctx context.Context, u string) (Validators, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	resp, err := c.do(ctx, http.MethodHead, u)
	if err != nil {
		return Validators{}, err
	}
	_ = resp.Body.Close()
	return validators(resp), nil
}

func validators(resp *http.Response) Validators {
	v := Validators{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		Size:         -1,
	}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		v.Size = n
	} else if resp.ContentLength >= 0 {
		v.Size = resp.ContentLength
	}
	return v
}

// Download fetches u into dir inside fs. A URL ending in .zip is extracted
// with its directory structure preserved; anything else is saved as a single
// file named after the last path segment. It returns the validators of the
// response and the slash-separated paths written, relative to fs.
func (c *Client) Download(ctx context.Context, u string, fs billy.Filesystem, dir string) (Validators, []string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	resp, err := c.do(ctx, http.MethodGet, u)
	if err != nil {
		return Validators{}, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	val := validators(resp)
	body := newIdleReader(resp.Body, c.timeout(), cancel)
	defer body.stop()

	name := fileName(u)
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		dst := path.Join(dir, name)
		if _, err := cache.CopyReader(fs, dst, body); err != nil {
			return val, nil, &api.NetworkError{URL: u, Err: err}
		}
		c.Log.Debug().Str("url", u).Str("file", dst).Msg("downloaded")
		return val, []string{dst}, nil
	}

	// The archive reader needs random access, so land the body in the
	// staging filesystem first.
	tmp := path.Join(dir, "."+name+".part")
	n, err := cache.CopyReader(fs, tmp, body)
	if err != nil {
		return val, nil, &api.NetworkError{URL: u, Err: err}
	}
	defer func() { _ = fs.Remove(tmp) }()

	files, err := extractZip(fs, tmp, n, dir)
	if err != nil {
		return val, nil, fmt.Errorf("extract %s: %w", u, err)
	}
	c.Log.Debug().Str("url", u).Int("files", len(files)).Msg("downloaded archive")
	return val, files, nil
}

// idleReader cancels the request when no Read completes within idle.
type idleReader struct {
	r     io.Reader
	idle  time.Duration
	timer *time.Timer
}

func newIdleReader(r io.Reader, idle time.Duration, cancel context.CancelFunc) *idleReader {
	return &idleReader{r: r, idle: idle, timer: time.AfterFunc(idle, cancel)}
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.idle)
	}
	return n, err
}

func (ir *idleReader) stop() { ir.timer.Stop() }

func extractZip(fs billy.Filesystem, archive string, size int64, dir string) ([]string, error) {
	f, err := fs.Open(archive)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	zr, err := zip.NewReader(f, size)
	if errors.Is(err, zip.ErrInsecurePath) {
		return nil, api.Invalid("extract archive", "%v", err)
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || strings.HasPrefix(zf.Name, "__MACOSX/") {
			continue
		}
		rel := path.Clean(strings.ReplaceAll(zf.Name, `\`, "/"))
		if path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
			return nil, api.Invalid("extract archive", "entry %q escapes the archive", zf.Name)
		}
		dst := path.Join(dir, rel)
		if err := extractOne(fs, zf, dst); err != nil {
			return nil, err
		}
		files = append(files, dst)
	}
	return files, nil
}

func extractOne(fs billy.Filesystem, zf *zip.File, dst string) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", zf.Name, err)
	}
	defer func() { _ = rc.Close() }()
	_, err = cache.CopyReader(fs, dst, rc)
	return err
}

func fileName(u string) string {
	p := u
	if parsed, err := url.Parse(u); err == nil && parsed.Path != "" {
		p = parsed.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" || name == "" {
		return "download"
	}
	return name
}
