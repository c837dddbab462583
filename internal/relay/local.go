package relay

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/storage"
)

const maxDownloadSize = 512 << 20

// Local is an in-process relay. It resolves data: URIs itself, fetches
// http(s) URLs, writes into a store and reports success once the file is
// observed on disk.
type Local struct {
	store   storage.Provider
	http    *http.Client
	log     *slog.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	expected map[string]string // absolute path -> download id

	results chan Result
	stop    chan struct{}
	closed  sync.Once
}

// NewLocal creates a relay writing into store. Call Run to start
// observing completions.
func NewLocal(store storage.Provider, hc *http.Client, log *slog.Logger) (*Local, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("relay: watcher: %w", err)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Local{
		store:    store,
		http:     hc,
		log:      log,
		watcher:  w,
		expected: make(map[string]string),
		results:  make(chan Result, 64),
		stop:     make(chan struct{}),
	}, nil
}

// Results implements Transport.
func (l *Local) Results() <-chan Result { return l.results }

// Send implements Transport. The folder is watched before the write starts.
func (l *Local) Send(ctx context.Context, req Request) error {
	if req.DownloadID == "" || req.Filename == "" {
		return fmt.Errorf("relay: download id and filename are required")
	}
	rel := path.Join(req.Folder, req.Filename)
	abs, err := l.store.Abs(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("relay: mkdir: %w", err)
	}
	if err := l.watcher.Add(dir); err != nil {
		return fmt.Errorf("relay: watch %s: %w", dir, err)
	}

	l.mu.Lock()
	if _, busy := l.expected[abs]; busy {
		l.mu.Unlock()
		return fmt.Errorf("relay: %s already in progress", rel)
	}
	l.expected[abs] = req.DownloadID
	l.mu.Unlock()

	go l.deliver(context.WithoutCancel(ctx), req, rel, abs)
	return nil
}

func (l *Local) deliver(ctx context.Context, req Request, rel, abs string) {
	data, err := l.fetch(ctx, req)
	if err == nil {
		err = l.store.Write(rel, data)
	}
	if err == nil {
		return
	}
	l.mu.Lock()
	_, still := l.expected[abs]
	delete(l.expected, abs)
	l.mu.Unlock()
	if still {
		l.log.Warn("relay: download failed", slog.String("file", rel), slog.String("error", err.Error()))
		l.emit(Result{DownloadID: req.DownloadID, Error: err.Error()})
	}
}

func (l *Local) fetch(ctx context.Context, req Request) ([]byte, error) {
	if strings.HasPrefix(req.URL, "data:") {
		return decodeDataURI(req.URL)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s (only http/https/data)", u.Scheme)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, err
	}
	if req.Authorization != "" {
		hreq.Header.Set("Authorization", req.Authorization)
	}
	resp, err := l.http.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.NewHTTPError(req.URL, resp.StatusCode, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("file too large: exceeds %d bytes", maxDownloadSize)
	}
	return data, nil
}

// decodeDataURI parses a data:[<mediatype>][;base64],<data> URI.
func decodeDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}
	meta, payload := rest[:commaIdx], rest[commaIdx+1:]

	if !strings.HasSuffix(meta, ";base64") {
		text, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid data URI payload: %w", err)
		}
		return []byte(text), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	return data, nil
}

// Run reports completions from file-system events until ctx is cancelled.
func (l *Local) Run(ctx context.Context) error {
	defer l.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			l.mu.Lock()
			id, ok := l.expected[ev.Name]
			delete(l.expected, ev.Name)
			l.mu.Unlock()
			if !ok {
				continue
			}
			l.log.Debug("relay: saved", slog.String("path", ev.Name))
			l.emit(Result{DownloadID: id, Success: true})
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Error("relay: watcher error", slog.String("error", err.Error()))
		}
	}
}

func (l *Local) emit(r Result) {
	select {
	case l.results <- r:
	case <-l.stop:
	}
}

// Close stops the watcher. Pending requests never complete.
func (l *Local) Close() {
	l.closed.Do(func() {
		close(l.stop)
		_ = l.watcher.Close()
	})
}

var _ Transport = (*Local)(nil)
