package download

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursecast/coursecast-dl/internal/errs"
)

// rangeHandler serves a byte slice with Range support, recording every Range
// header it sees. failuresLeft transfer attempts are aborted mid-stream after
// partialBytes have been flushed.
type rangeHandler struct {
	content      []byte
	failuresLeft int
	partialBytes int

	mu     sync.Mutex
	ranges []string
}

func (h *rangeHandler) recordedRanges() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ranges...)
}

func (h *rangeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rangeHdr := r.Header.Get("Range")
	h.mu.Lock()
	h.ranges = append(h.ranges, rangeHdr)
	h.mu.Unlock()

	start, end, ok := parseRangeHeader(rangeHdr, int64(len(h.content)))
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(h.content)))
	w.WriteHeader(http.StatusPartialContent)

	isProbe := start == 0 && end == 0
	if !isProbe {
		h.mu.Lock()
		fail := h.failuresLeft > 0
		if fail {
			h.failuresLeft--
		}
		h.mu.Unlock()
		if fail {
			limit := min(h.partialBytes, int(end-start)+1)
			w.Write(h.content[start : start+int64(limit)])
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
	}
	w.Write(h.content[start : end+1])
}

func parseRangeHeader(hdr string, size int64) (start, end int64, ok bool) {
	rangeSpec, found := strings.CutPrefix(hdr, "bytes=")
	if !found {
		return 0, 0, false
	}
	parts := strings.SplitN(rangeSpec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false
		}
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true
}

func testContent(n int) []byte {
	content := make([]byte, n)
	for i := range content {
		content[i] = byte(i % 251)
	}
	return content
}

func testOptions() Options {
	return Options{
		MaxAttempts:      5,
		RetryWait:        time.Millisecond,
		BufferSize:       64,
		ProgressInterval: time.Millisecond,
	}
}

func TestDownloadFresh(t *testing.T) {
	content := testContent(4096)
	handler := &rangeHandler{content: content}
	server := httptest.NewServer(handler)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	res, err := New(http.DefaultClient, testOptions()).Download(context.Background(), server.URL, dest, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))

	assert.Equal(t, int64(len(content)), res.TotalBytes)
	assert.Equal(t, int64(len(content)), res.BytesTransferred)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{"bytes=0-0", fmt.Sprintf("bytes=0-%d", len(content)-1)}, handler.recordedRanges())
}

func TestDownloadResumesFromExistingPrefix(t *testing.T) {
	content := testContent(4096)
	handler := &rangeHandler{content: content}
	server := httptest.NewServer(handler)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(dest, content[:1500], 0644))

	res, err := New(http.DefaultClient, testOptions()).Download(context.Background(), server.URL, dest, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))

	// The transfer request must start exactly at the on-disk size.
	assert.Equal(t, []string{"bytes=0-0", fmt.Sprintf("bytes=1500-%d", len(content)-1)}, handler.recordedRanges())
	assert.Equal(t, int64(len(content)-1500), res.BytesTransferred)
}

func TestDownloadAlreadyComplete(t *testing.T) {
	content := testContent(2048)
	handler := &rangeHandler{content: content}
	server := httptest.NewServer(handler)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(dest, content, 0644))

	res, err := New(http.DefaultClient, testOptions()).Download(context.Background(), server.URL, dest, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got), "file contents must be untouched")

	assert.Equal(t, int64(0), res.BytesTransferred)
	// Only the size probe goes over the wire.
	assert.Equal(t, []string{"bytes=0-0"}, handler.recordedRanges())
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	content := testContent(8192)
	handler := &rangeHandler{content: content, failuresLeft: 2, partialBytes: 1024}
	server := httptest.NewServer(handler)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	res, err := New(http.DefaultClient, testOptions()).Download(context.Background(), server.URL, dest, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
	assert.Equal(t, 3, res.Attempts)

	// Resume offsets never move backwards across attempts.
	var lastStart int64 = -1
	for _, hdr := range handler.recordedRanges()[1:] {
		start, _, ok := parseRangeHeader(hdr, int64(len(content)))
		require.True(t, ok)
		assert.GreaterOrEqual(t, start, lastStart)
		lastStart = start
	}
}

func TestDownloadAttemptCapExceeded(t *testing.T) {
	content := testContent(4096)
	handler := &rangeHandler{content: content, failuresLeft: 100, partialBytes: 16}
	server := httptest.NewServer(handler)
	defer server.Close()

	opts := testOptions()
	opts.MaxAttempts = 3
	dest := filepath.Join(t.TempDir(), "out.mp4")
	_, err := New(http.DefaultClient, opts).Download(context.Background(), server.URL, dest, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestDownloadProbeWithoutContentRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "full body, no range support")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	_, err := New(http.DefaultClient, testOptions()).Download(context.Background(), server.URL, dest, nil)
	assert.ErrorIs(t, err, errs.ErrSizeProbe)
}

func TestDownloadRangeMismatchIsFatal(t *testing.T) {
	content := testContent(2048)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", len(content)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(content[:1])
			return
		}
		// Wrong start offset relative to the request.
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 100-%d/%d", len(content)-1, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[100:])
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	res, err := New(http.DefaultClient, testOptions()).Download(context.Background(), server.URL, dest, nil)
	assert.ErrorIs(t, err, errs.ErrRangeMismatch)
	assert.Nil(t, res)

	// Nothing may be appended once the mismatch is detected.
	info, statErr := os.Stat(dest)
	if statErr == nil {
		assert.Equal(t, int64(0), info.Size())
	}
}

func TestDownloadIgnoredRangeIsFatal(t *testing.T) {
	content := testContent(2048)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", len(content)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(content[:1])
			return
		}
		// Server ignores the Range header entirely.
		w.Write(content)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(dest, content[:500], 0644))
	_, err := New(http.DefaultClient, testOptions()).Download(context.Background(), server.URL, dest, nil)
	assert.ErrorIs(t, err, errs.ErrRangeMismatch)
}

func TestDownloadCancellationNotRetried(t *testing.T) {
	content := testContent(16384)
	var streaming sync.Once
	started := make(chan struct{})
	var mu sync.Mutex
	transferCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", len(content)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(content[:1])
			return
		}
		mu.Lock()
		transferCount++
		mu.Unlock()
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(content)-1, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[:4096])
		w.(http.Flusher).Flush()
		streaming.Do(func() { close(started) })
		// Hold the rest of the body until the client gives up.
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	res, err := New(http.DefaultClient, testOptions()).Download(ctx, server.URL, dest, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)

	// Cancellation is terminal: exactly one transfer attempt, no retry.
	mu.Lock()
	assert.Equal(t, 1, transferCount)
	mu.Unlock()

	// Whatever landed on disk is a byte-correct prefix, so a later run can
	// resume from it.
	got, readErr := os.ReadFile(dest)
	require.NoError(t, readErr)
	assert.Less(t, int64(len(got)), int64(len(content)))
	assert.True(t, bytes.Equal(content[:len(got)], got))
}

func TestDownloadPastDeclaredTotalIsFatal(t *testing.T) {
	declared := 2048
	oversized := testContent(4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", declared))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(oversized[:1])
			return
		}
		// Declares the requested range but keeps streaming past its end.
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", declared-1, declared))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(oversized)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	res, err := New(http.DefaultClient, testOptions()).Download(context.Background(), server.URL, dest, nil)
	assert.ErrorIs(t, err, errs.ErrRangeMismatch)
	assert.Nil(t, res)

	// The file never grows past the declared size.
	info, statErr := os.Stat(dest)
	require.NoError(t, statErr)
	assert.LessOrEqual(t, info.Size(), int64(declared))
}

func TestDownloadProgressSamples(t *testing.T) {
	content := testContent(16384)
	handler := &rangeHandler{content: content}
	server := httptest.NewServer(handler)
	defer server.Close()

	var samples []Progress
	dest := filepath.Join(t.TempDir(), "out.mp4")
	opts := testOptions()
	opts.ProgressInterval = 0 // default interval still ends with a final flush
	_, err := New(http.DefaultClient, opts).Download(context.Background(), server.URL, dest, func(p Progress) {
		samples = append(samples, p)
	})
	require.NoError(t, err)

	require.NotEmpty(t, samples)
	last := samples[len(samples)-1]
	assert.Equal(t, int64(len(content)), last.Total)
	assert.Equal(t, last.Total, last.Current)
	for _, s := range samples {
		assert.LessOrEqual(t, s.Current, s.Total)
		assert.NotEmpty(t, s.JobID)
	}
}
