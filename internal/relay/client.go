// Package relay delivers downloaded artifacts to disk through an
// asynchronous transport and matches completions to requests.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/studiopack/internal/apperr"
)

// DefaultTimeout bounds one relay round trip.
const DefaultTimeout = 30 * time.Second

// Request asks the relay to save URL as Folder/Filename.
type Request struct {
	URL           string `json:"url"`
	Authorization string `json:"authorization,omitempty"`
	Folder        string `json:"folder"`
	Filename      string `json:"filename"`
	DownloadID    string `json:"downloadId"`
}

// Result reports the outcome of a request.
type Result struct {
	DownloadID string `json:"downloadId"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// Transport sends requests and reports results asynchronously. Results
// may arrive in any order.
type Transport interface {
	Send(ctx context.Context, req Request) error
	Results() <-chan Result
}

// Client correlates requests with results and applies the timeout.
type Client struct {
	transport Transport
	timeout   time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Result
	once    sync.Once
}

// NewClient creates a Client. A zero timeout means DefaultTimeout.
func NewClient(t Transport, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{transport: t, timeout: timeout, log: log, pending: make(map[string]chan Result)}
}

func (c *Client) dispatch() {
	for r := range c.transport.Results() {
		c.mu.Lock()
		ch, ok := c.pending[r.DownloadID]
		delete(c.pending, r.DownloadID)
		c.mu.Unlock()
		if !ok {
			c.log.Debug("relay: late result dropped", slog.String("download_id", r.DownloadID))
			continue
		}
		ch <- r
	}
}

// Download saves url as folder/filename and waits for the result. It fails
// with apperr.ErrTimeout when no result arrives in time; there is no retry.
func (c *Client) Download(ctx context.Context, url, authorization, folder, filename string) error {
	c.once.Do(func() { go c.dispatch() })

	id := uuid.NewString()
	ch := make(chan Result, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := Request{URL: url, Authorization: authorization, Folder: folder, Filename: filename, DownloadID: id}
	if err := c.transport.Send(ctx, req); err != nil {
		return fmt.Errorf("relay: send %s: %w", filename, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if !r.Success {
			if r.Error == "" {
				r.Error = "download failed"
			}
			return errors.New(r.Error)
		}
		return nil
	case <-timer.C:
		c.log.Warn("relay: timeout", slog.String("file", filename), slog.String("download_id", id))
		return apperr.ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
