// Package httpfs implements remotefs.Adapter over a plain HTTP file server
// exposing list/stat/read/write/rename/delete as simple verbs, using
// hashicorp/go-retryablehttp for automatic retry on transient failures
// (grounded on the retryablehttp.Client construction in the API client this
// codebase was adapted from: fixed RetryMax, RetryWaitMin/Max, and a custom
// LeveledLogger bridged to the structured logger).
package httpfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/sharkoder/sharkoder/internal/remotefs"
)

const adapterName = "httpfs"

// leveledLogger bridges retryablehttp's logging interface to a plain sink so
// retries are visible without pulling zerolog into this package's API.
type leveledLogger struct {
	warnf func(format string, args ...interface{})
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log("ERROR", msg, keysAndValues)
}
func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log("INFO", msg, keysAndValues)
}
func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log("WARN", msg, keysAndValues)
}
func (l *leveledLogger) log(level, msg string, kv []interface{}) {
	if l.warnf != nil {
		l.warnf("httpfs %s: %s %v", level, msg, kv)
	}
}

// Config describes the HTTP file server endpoint.
type Config struct {
	BaseURL      string
	AuthToken    string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Warnf        func(format string, args ...interface{})
}

// Adapter is an HTTP-backed remotefs.Adapter. It has no partial-upload
// resume: uploads stream the full file to a temp sibling and rename on
// success (spec §9 open question: "range-resume on write is not part of the
// contract").
type Adapter struct {
	cfg    Config
	client *http.Client
}

// New builds an Adapter with an eagerly constructed retryablehttp client
// (spec §9: "eager adapter construction at connect time").
func New(cfg Config) *Adapter {
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 10
	}
	if cfg.RetryWaitMin == 0 {
		cfg.RetryWaitMin = 1 * time.Second
	}
	if cfg.RetryWaitMax == 0 {
		cfg.RetryWaitMax = 30 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Logger = &leveledLogger{warnf: cfg.Warnf}

	return &Adapter{cfg: cfg, client: rc.StandardClient()}
}

func (a *Adapter) Name() string { return adapterName }

func (a *Adapter) url(p string) string {
	return a.cfg.BaseURL + p
}

func (a *Adapter) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.url(p), body)
	if err != nil {
		return nil, err
	}
	if a.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.AuthToken)
	}
	return req, nil
}

func classify(statusCode int, err error) remotefs.ErrKind {
	if err != nil {
		return remotefs.KindTransient
	}
	switch {
	case statusCode == http.StatusNotFound:
		return remotefs.KindNotFound
	case statusCode == http.StatusForbidden || statusCode == http.StatusUnauthorized:
		return remotefs.KindForbidden
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return remotefs.KindTimeout
	case statusCode >= 500:
		return remotefs.KindTransient
	case statusCode >= 400:
		return remotefs.KindFatal
	default:
		return remotefs.KindUnknown
	}
}

func (a *Adapter) wrapErr(op, p string, statusCode int, err error) error {
	kind := classify(statusCode, err)
	if kind == remotefs.KindUnknown {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("http status %d", statusCode)
	}
	return remotefs.NewError(kind, adapterName, op, p, err)
}

type listEntry struct {
	Name    string `json:"name"`
	IsDir   bool   `json:"is_dir"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime"` // unix seconds
}

func (a *Adapter) List(ctx context.Context, p string) ([]remotefs.Entry, error) {
	req, err := a.newRequest(ctx, http.MethodGet, "/list?path="+p, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.wrapErr("list", p, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, a.wrapErr("list", p, resp.StatusCode, nil)
	}
	var raw []listEntry
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, remotefs.NewError(remotefs.KindCorrupt, adapterName, "list", p, err)
	}
	entries := make([]remotefs.Entry, 0, len(raw))
	for _, e := range raw {
		t := remotefs.TypeFile
		if e.IsDir {
			t = remotefs.TypeDir
		}
		entries = append(entries, remotefs.Entry{
			Name:    e.Name,
			Type:    t,
			Size:    e.Size,
			ModTime: time.Unix(e.ModTime, 0),
		})
	}
	return entries, nil
}

func (a *Adapter) Stat(ctx context.Context, p string) (remotefs.Stat, error) {
	req, err := a.newRequest(ctx, http.MethodHead, "/file?path="+p, nil)
	if err != nil {
		return remotefs.Stat{}, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return remotefs.Stat{}, a.wrapErr("stat", p, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return remotefs.Stat{Exists: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return remotefs.Stat{}, a.wrapErr("stat", p, resp.StatusCode, nil)
	}
	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	var mtime time.Time
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		mtime, _ = time.Parse(http.TimeFormat, lm)
	}
	return remotefs.Stat{Size: size, ModTime: mtime, Exists: true}, nil
}

type httpReadStream struct {
	body io.ReadCloser
}

func (r *httpReadStream) Read(b []byte) (int, error) { return r.body.Read(b) }
func (r *httpReadStream) Close() error                { return r.body.Close() }

func (a *Adapter) OpenRead(ctx context.Context, p string, offset int64) (remotefs.ReadStream, error) {
	req, err := a.newRequest(ctx, http.MethodGet, "/file?path="+p, nil)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.wrapErr("open-read", p, 0, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, a.wrapErr("open-read", p, resp.StatusCode, nil)
	}
	return &httpReadStream{body: resp.Body}, nil
}

// httpWriteStream buffers into a pipe and streams the request body as it is
// written, so OpenWrite returns before the upload completes; Close blocks
// until the server has acknowledged the full body (spec §4.1: "uploads
// stream full-file to a temp sibling then rename on success").
type httpWriteStream struct {
	pw     *io.PipeWriter
	done   chan error
}

func (w *httpWriteStream) Write(b []byte) (int, error) { return w.pw.Write(b) }

func (w *httpWriteStream) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

func (a *Adapter) OpenWrite(ctx context.Context, p string, offset int64, overwrite bool) (remotefs.WriteStream, error) {
	if !overwrite {
		if exists, err := a.Exists(ctx, p); err != nil {
			return nil, err
		} else if exists {
			return nil, remotefs.NewError(remotefs.KindForbidden, adapterName, "open-write", p, fmt.Errorf("exists"))
		}
	}

	tempPath := p + ".upload.tmp"
	pr, pw := io.Pipe()
	req, err := a.newRequest(ctx, http.MethodPut, "/file?path="+tempPath, pr)
	if err != nil {
		pw.Close()
		return nil, err
	}
	req.ContentLength = -1

	ws := &httpWriteStream{pw: pw, done: make(chan error, 1)}
	go func() {
		resp, err := a.client.Do(req)
		if err != nil {
			ws.done <- a.wrapErr("write", tempPath, 0, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			ws.done <- a.wrapErr("write", tempPath, resp.StatusCode, nil)
			return
		}
		ws.done <- a.Rename(context.Background(), tempPath, p)
	}()
	return ws, nil
}

func (a *Adapter) Rename(ctx context.Context, src, dst string) error {
	req, err := a.newRequest(ctx, http.MethodPost, "/rename?src="+src+"&dst="+dst, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return a.wrapErr("rename", src+" -> "+dst, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return a.wrapErr("rename", src+" -> "+dst, resp.StatusCode, nil)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, p string) error {
	req, err := a.newRequest(ctx, http.MethodDelete, "/file?path="+p, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return a.wrapErr("delete", p, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return a.wrapErr("delete", p, resp.StatusCode, nil)
	}
	return nil
}

func (a *Adapter) Exists(ctx context.Context, p string) (bool, error) {
	st, err := a.Stat(ctx, p)
	if err != nil {
		return false, err
	}
	return st.Exists, nil
}

// Close is a no-op: the underlying *http.Client holds no dedicated
// connection that needs explicit teardown.
func (a *Adapter) Close() error { return nil }
