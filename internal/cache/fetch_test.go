package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// upstream 记录每次请求的头部，便于断言 Range/Cache-Control。
type upstream struct {
	mu       sync.Mutex
	requests []http.Header
	handler  http.HandlerFunc
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.requests = append(u.requests, r.Header.Clone())
	handler := u.handler
	u.mu.Unlock()
	handler(w, r)
}

func (u *upstream) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests)
}

func (u *upstream) last() http.Header {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.requests) == 0 {
		return nil
	}
	return u.requests[len(u.requests)-1]
}

func (u *upstream) set(handler http.HandlerFunc) {
	u.mu.Lock()
	u.handler = handler
	u.mu.Unlock()
}

func newUpstream(t *testing.T, handler http.HandlerFunc) (*upstream, *httptest.Server) {
	t.Helper()
	up := &upstream{handler: handler}
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)
	return up, srv
}

func serveContent(body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "tile", time.Time{}, bytes.NewReader(body))
	}
}

// queueScheduler 缓存投递的回调，由测试显式执行，模拟消费方的 mailbox。
type queueScheduler struct {
	mu  sync.Mutex
	fns []func()
}

func (q *queueScheduler) Post(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

func (q *queueScheduler) drain() int {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func newTestClient(t *testing.T, scheduler Scheduler) *Client {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	client, err := NewClient(Options{
		StoragePath: t.TempDir(),
		Prefix:      "sat",
		UserAgent:   "any-globe-test",
		Scheduler:   scheduler,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func TestFetchOnceDownloadsOnlyOnce(t *testing.T) {
	body := []byte("tile-bytes")
	up, srv := newUpstream(t, serveContent(body))
	client := newTestClient(t, nil)

	for i := 0; i < 3; i++ {
		path, err := client.Fetch(context.Background(), srv.URL+"/0/0/0.png", "root..png", FetchOnceIfAbsent, nil)
		if err != nil {
			t.Fatalf("fetch #%d: %v", i, err)
		}
		if got := readFile(t, path); !bytes.Equal(got, body) {
			t.Fatalf("unexpected body %q", got)
		}
	}
	if up.count() != 1 {
		t.Fatalf("expected a single upstream request, got %d", up.count())
	}
	if ua := up.last().Get("User-Agent"); ua != "any-globe-test" {
		t.Fatalf("unexpected user agent %q", ua)
	}
	if up.last().Get("Range") != "" {
		t.Fatalf("fresh download must not send Range")
	}
}

func TestFetchLocalOnlyNeverTouchesNetwork(t *testing.T) {
	up, srv := newUpstream(t, serveContent([]byte("x")))
	client := newTestClient(t, nil)

	path, err := client.Fetch(context.Background(), srv.URL, "00.01.png", LocalOnly, nil)
	if err != nil {
		t.Fatalf("local only: %v", err)
	}
	if path != filepath.Join(client.Root(), "00.01.png") {
		t.Fatalf("unexpected path %s", path)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("local only must not create the file")
	}
	if up.count() != 0 {
		t.Fatalf("local only issued %d requests", up.count())
	}
}

func TestFetchResumesFromPartial(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789"), 10000)
	up, srv := newUpstream(t, serveContent(body))
	client := newTestClient(t, nil)

	final, _ := client.Path("00.png")
	const have = 12345
	if err := os.WriteFile(final+partialSuffix, body[:have], 0o644); err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	path, err := client.Fetch(context.Background(), srv.URL, "00.png", FetchOnceIfAbsent, nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := readFile(t, path); !bytes.Equal(got, body) {
		t.Fatalf("resumed file length %d, want %d", len(got), len(body))
	}
	if rng := up.last().Get("Range"); rng != fmt.Sprintf("bytes=%d-", have) {
		t.Fatalf("unexpected range header %q", rng)
	}
	if _, err := os.Stat(final + partialSuffix); !os.IsNotExist(err) {
		t.Fatalf("partial should be renamed away")
	}
}

func TestFetchRestartsWhenRangeIgnored(t *testing.T) {
	body := []byte("complete-object")
	_, srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	})
	client := newTestClient(t, nil)

	final, _ := client.Path("10.png")
	if err := os.WriteFile(final+partialSuffix, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed partial: %v", err)
	}
	path, err := client.Fetch(context.Background(), srv.URL, "10.png", FetchOnceIfAbsent, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := readFile(t, path); !bytes.Equal(got, body) {
		t.Fatalf("200 answer must replace the partial, got %q", got)
	}
}

func TestFetchRangeNotSatisfiableCommitsPartial(t *testing.T) {
	body := []byte("already-complete")
	_, srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	})
	client := newTestClient(t, nil)

	final, _ := client.Path("11.png")
	if err := os.WriteFile(final+partialSuffix, body, 0o644); err != nil {
		t.Fatalf("seed partial: %v", err)
	}
	path, err := client.Fetch(context.Background(), srv.URL, "11.png", FetchOnceIfAbsent, nil)
	if err != nil {
		t.Fatalf("416 should count as success: %v", err)
	}
	if got := readFile(t, path); !bytes.Equal(got, body) {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestFetchRangeNotSatisfiableWithoutPartialFails(t *testing.T) {
	up, srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	})
	client := newTestClient(t, nil)

	_, err := client.Fetch(context.Background(), srv.URL, "10.png", FetchOnceIfAbsent, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("416 without a range request should fail, got %v", err)
	}
	if up.last().Get("Range") != "" {
		t.Fatalf("empty partial must not send Range, got %q", up.last().Get("Range"))
	}
	if client.Exists("10.png") {
		t.Fatalf("no final file should be committed")
	}
}

func TestFetchAlwaysRefreshReplacesOnlyOnSuccess(t *testing.T) {
	up, srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := newTestClient(t, nil)

	final, _ := client.Path("01.png")
	if err := os.WriteFile(final, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed final: %v", err)
	}

	_, err := client.Fetch(context.Background(), srv.URL, "01.png", AlwaysRefresh, nil)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected status error, got %v", err)
	}
	if got := readFile(t, final); string(got) != "old" {
		t.Fatalf("failed refresh must keep the old file, got %q", got)
	}
	if up.count() != 1 || up.last().Get("Cache-Control") != "max-age=0" {
		t.Fatalf("refresh should bypass caches, headers %v", up.last())
	}

	up.set(serveContent([]byte("new")))
	path, err := client.Fetch(context.Background(), srv.URL, "01.png", AlwaysRefresh, nil)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := readFile(t, path); string(got) != "new" {
		t.Fatalf("refresh should replace the file, got %q", got)
	}
	if up.count() != 2 {
		t.Fatalf("refresh must always request, got %d", up.count())
	}
}

func TestFetchAfterAbortPerformsNoRequests(t *testing.T) {
	up, srv := newUpstream(t, serveContent([]byte("x")))
	client := newTestClient(t, nil)

	client.Abort()
	client.Abort()
	if !client.Aborted() {
		t.Fatalf("abort flag should be set")
	}
	for _, mode := range []Mode{LocalOnly, FetchOnceIfAbsent, AlwaysRefresh} {
		if _, err := client.Fetch(context.Background(), srv.URL, "00.png", mode, nil); !errors.Is(err, ErrCancelled) {
			t.Fatalf("%s after abort: expected ErrCancelled, got %v", mode, err)
		}
	}
	if _, err := client.Available(context.Background(), AvailableOptions{Cache: ".", Index: srv.URL}); !errors.Is(err, ErrCancelled) {
		t.Fatalf("available after abort: %v", err)
	}
	if up.count() != 0 {
		t.Fatalf("aborted client issued %d requests", up.count())
	}
}

func TestAbortCancelsInFlightTransfer(t *testing.T) {
	started := make(chan struct{})
	_, srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(http.StatusOK)
		w.Write(bytes.Repeat([]byte("a"), 1024))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	})
	client := newTestClient(t, nil)

	done := make(chan error, 1)
	go func() {
		_, err := client.Fetch(context.Background(), srv.URL, "slow.png", FetchOnceIfAbsent, nil)
		done <- err
	}()

	<-started
	client.Abort()
	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("abort did not cancel the transfer")
	}

	final, _ := client.Path("slow.png")
	if _, err := os.Stat(final + partialSuffix); err != nil {
		t.Fatalf("partial must be kept for resume: %v", err)
	}
	if _, err := os.Stat(final); !os.IsNotExist(err) {
		t.Fatalf("final file must not exist after cancellation")
	}
}

func TestFetchProgressRunsOnScheduler(t *testing.T) {
	body := bytes.Repeat([]byte("z"), 100*1024)
	_, srv := newUpstream(t, serveContent(body))
	scheduler := &queueScheduler{}
	client := newTestClient(t, scheduler)

	var calls int
	var lastDone, lastTotal int64
	progress := func(path string, downloaded, total int64) {
		calls++
		lastDone, lastTotal = downloaded, total
		if !strings.HasSuffix(path, "prog.png") {
			t.Errorf("unexpected progress path %s", path)
		}
	}
	if _, err := client.Fetch(context.Background(), srv.URL, "prog.png", FetchOnceIfAbsent, progress); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 0 {
		t.Fatalf("progress ran outside the scheduler")
	}
	if posted := scheduler.drain(); posted == 0 {
		t.Fatalf("expected progress messages")
	}
	if lastDone != int64(len(body)) || lastTotal != int64(len(body)) {
		t.Fatalf("unexpected final progress %d/%d", lastDone, lastTotal)
	}
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := newTestClient(t, nil)
	_, err := client.Fetch(context.Background(), url, "gone.png", FetchOnceIfAbsent, nil)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestRemoveKeepsPartial(t *testing.T) {
	client := newTestClient(t, nil)
	final, _ := client.Path("bad.bil")
	os.WriteFile(final, []byte("x"), 0o644)
	os.WriteFile(final+partialSuffix, []byte("y"), 0o644)

	if err := client.Remove("bad.bil"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if client.Exists("bad.bil") {
		t.Fatalf("final file should be gone")
	}
	if _, err := os.Stat(final + partialSuffix); err != nil {
		t.Fatalf("partial should survive remove")
	}
	if err := client.Remove("bad.bil"); err != nil {
		t.Fatalf("removing a missing entry should succeed: %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Options{Prefix: "x"}); err == nil {
		t.Fatalf("missing storage path should fail")
	}
	if _, err := NewClient(Options{StoragePath: t.TempDir()}); err == nil {
		t.Fatalf("missing prefix should fail")
	}
	if _, err := NewClient(Options{StoragePath: t.TempDir(), Prefix: "/"}); err == nil {
		t.Fatalf("prefix resolving to the storage root should fail")
	}
}
