package relay

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/storage"
)

// FakeTransport answers requests through Respond.
type FakeTransport struct {
	Respond func(req Request) (Result, bool)
	results chan Result
	sent    []Request
}

func newFakeTransport(respond func(Request) (Result, bool)) *FakeTransport {
	return &FakeTransport{Respond: respond, results: make(chan Result, 8)}
}

func (f *FakeTransport) Send(_ context.Context, req Request) error {
	f.sent = append(f.sent, req)
	if r, ok := f.Respond(req); ok {
		f.results <- r
	}
	return nil
}

func (f *FakeTransport) Results() <-chan Result { return f.results }

func TestClient_Success(t *testing.T) {
	ft := newFakeTransport(func(req Request) (Result, bool) {
		return Result{DownloadID: req.DownloadID, Success: true}, true
	})
	c := NewClient(ft, time.Second, nil)
	require.NoError(t, c.Download(context.Background(), "https://x/y", "Bearer t", "pkg", "a.json"))
	require.Len(t, ft.sent, 1)
	assert.NotEmpty(t, ft.sent[0].DownloadID)
	assert.Equal(t, "Bearer t", ft.sent[0].Authorization)
}

func TestClient_Failure(t *testing.T) {
	ft := newFakeTransport(func(req Request) (Result, bool) {
		return Result{DownloadID: req.DownloadID, Error: "disk full"}, true
	})
	err := NewClient(ft, time.Second, nil).Download(context.Background(), "u", "", "pkg", "a.json")
	assert.EqualError(t, err, "disk full")
}

func TestClient_IgnoresForeignResults(t *testing.T) {
	ft := newFakeTransport(func(req Request) (Result, bool) {
		return Result{DownloadID: "someone-else", Success: true}, true
	})
	err := NewClient(ft, 50*time.Millisecond, nil).Download(context.Background(), "u", "", "pkg", "a.json")
	assert.ErrorIs(t, err, apperr.ErrTimeout)
	assert.EqualError(t, err, "request timeout")
}

func TestClient_ContextCancel(t *testing.T) {
	ft := newFakeTransport(func(Request) (Result, bool) { return Result{}, false })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewClient(ft, time.Minute, nil).Download(ctx, "u", "", "pkg", "a.json")
	assert.ErrorIs(t, err, context.Canceled)
}

func newLocalRelay(t *testing.T) (*Local, *Client, storage.Provider) {
	t.Helper()
	store, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	l, err := NewLocal(store, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l, NewClient(l, 5*time.Second, nil), store
}

func TestLocal_DataURI(t *testing.T) {
	_, c, store := newLocalRelay(t)
	uri := "data:application/json;base64," + base64.StdEncoding.EncodeToString([]byte(`{"id":"d"}`))
	require.NoError(t, c.Download(context.Background(), uri, "", "My Folder", "d.json"))

	got, err := store.Read("My Folder/d.json")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"d"}`, string(got))
}

func TestLocal_PlainDataURI(t *testing.T) {
	_, c, store := newLocalRelay(t)
	require.NoError(t, c.Download(context.Background(), "data:text/plain,hello%20world", "", "f", "a.txt"))
	got, _ := store.Read("f/a.txt")
	assert.Equal(t, "hello world", string(got))
}

func TestLocal_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("font-bytes"))
	}))
	defer srv.Close()

	_, c, store := newLocalRelay(t)
	require.NoError(t, c.Download(context.Background(), srv.URL+"/font", "Bearer ok", "pkg", "Arial.ttf"))
	got, _ := store.Read("pkg/Arial.ttf")
	assert.Equal(t, "font-bytes", string(got))

	err := c.Download(context.Background(), srv.URL+"/font", "Bearer bad", "pkg", "Other.ttf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestLocal_RejectsTraversal(t *testing.T) {
	l, _, _ := newLocalRelay(t)
	err := l.Send(context.Background(), Request{URL: "data:,x", Folder: "../..", Filename: "x", DownloadID: "1"})
	assert.Error(t, err)
}

func TestDecodeDataURI(t *testing.T) {
	_, err := decodeDataURI("data:nocomma")
	assert.Error(t, err)
	_, err = decodeDataURI("data:;base64,***")
	assert.Error(t, err)
	got, err := decodeDataURI("data:;base64," + base64.RawStdEncoding.EncodeToString([]byte("ab")))
	require.NoError(t, err)
	assert.Equal(t, "ab", string(got))
}
