// Package download implements the resumable, retryable transfer of one URL
// to one destination file. Writes are append-only and the destination's
// on-disk size is the sole checkpoint, so a partial file is always in a
// consistent, resumable state.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coursecast/coursecast-dl/internal/errs"
)

const defaultBufferSize = 32 * 1024

// HTTPDoer is the transport surface the downloader needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tune the retry state machine.
type Options struct {
	// MaxAttempts caps transfer attempts; 0 means retry transport failures
	// until success.
	MaxAttempts int
	// RetryWait is the fixed delay between attempts.
	RetryWait time.Duration
	// BufferSize for the stream copy loop.
	BufferSize int
	// ProgressInterval throttles progress callbacks.
	ProgressInterval time.Duration
}

// Progress is one throttled sample of an in-flight transfer.
type Progress struct {
	JobID   string
	Current int64 // bytes on disk so far
	Total   int64
}

// ProgressFunc receives throttled progress samples. It runs on the transfer
// goroutine and must be cheap.
type ProgressFunc func(Progress)

// Result reports a completed transfer.
type Result struct {
	JobID            string
	BytesTransferred int64 // bytes downloaded this run, across attempts
	TotalBytes       int64
	Elapsed          time.Duration
	Attempts         int
}

// Downloader transfers URLs to files with range-based resume.
type Downloader struct {
	client HTTPDoer
	opts   Options
}

// New creates a Downloader over the given transport.
func New(client HTTPDoer, opts Options) *Downloader {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 100 * time.Millisecond
	}
	return &Downloader{client: client, opts: opts}
}

// Download transfers url to dest, resuming from whatever is already on
// disk. Transport failures are retried per Options; storage failures and
// range mismatches are terminal. onProgress may be nil.
func (d *Downloader) Download(ctx context.Context, url, dest string, onProgress ProgressFunc) (*Result, error) {
	jobID := uuid.NewString()
	start := time.Now()

	total, err := d.probeSize(ctx, url)
	if err != nil {
		return nil, err
	}

	var transferred int64
	attempts := 0
	for {
		attempts++

		// Resume point comes from the file's actual size, not an in-memory
		// counter, so bytes flushed by a crashed attempt still count.
		offset, err := destSize(dest)
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", errs.ErrStorage, dest, err)
		}
		if offset > total {
			return nil, fmt.Errorf("%w: local file %d bytes exceeds remote size %d", errs.ErrRangeMismatch, offset, total)
		}
		if offset == total {
			break
		}

		written, err := d.attempt(ctx, jobID, url, dest, offset, total, onProgress)
		transferred += written
		if err == nil {
			break
		}
		if !retryable(err) {
			return nil, err
		}
		if d.opts.MaxAttempts > 0 && attempts >= d.opts.MaxAttempts {
			return nil, fmt.Errorf("download failed after %d attempts: %w", attempts, err)
		}

		log.Warn().Str("op", "download").Str("job", jobID).Err(err).Msgf("Retrying transfer (attempt %d)", attempts+1)
		if d.opts.RetryWait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.opts.RetryWait):
			}
		}
	}

	res := &Result{
		JobID:            jobID,
		BytesTransferred: transferred,
		TotalBytes:       total,
		Elapsed:          time.Since(start),
		Attempts:         attempts,
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log.Debug().Str("op", "download").Str("job", jobID).
		Dur("elapsed", res.Elapsed).Uint64("heapAlloc", mem.HeapAlloc).
		Int("attempts", attempts).Msg("transfer complete")
	return res, nil
}

// probeSize issues a single-byte range request and reads the authoritative
// total size from the Content-Range header.
func (d *Downloader) probeSize(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("size probe request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 2))

	contentRange := resp.Header.Get("Content-Range")
	if contentRange == "" {
		return 0, fmt.Errorf("%w: missing Content-Range (status %d)", errs.ErrSizeProbe, resp.StatusCode)
	}
	total, err := parseTotal(contentRange)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrSizeProbe, err)
	}
	return total, nil
}

// attempt streams one ranged GET into dest opened for append. Returns the
// byte count written regardless of error.
func (d *Downloader) attempt(ctx context.Context, jobID, url, dest string, offset, total int64, onProgress ProgressFunc) (int64, error) {
	outFile, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("%w: opening %s: %v", errs.ErrStorage, dest, err)
	}
	defer outFile.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, total-1))
	if offset > 0 {
		log.Debug().Str("op", "download").Str("job", jobID).Msgf("Resuming from offset %d", offset)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("range request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		if resp.StatusCode >= 500 {
			return 0, fmt.Errorf("server error %d", resp.StatusCode)
		}
		// A 200 here means the server ignored the Range header; appending
		// the full body would corrupt the file.
		return 0, fmt.Errorf("%w: status %d for ranged request", errs.ErrRangeMismatch, resp.StatusCode)
	}
	if err := checkContentRange(resp.Header.Get("Content-Range"), offset, total); err != nil {
		return 0, err
	}

	var written int64
	lastEmit := time.Time{}
	buffer := make([]byte, d.opts.BufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if offset+written+int64(bytesRead) > total {
				return written, fmt.Errorf("%w: server sent bytes past %d", errs.ErrRangeMismatch, total)
			}
			if _, writeErr := outFile.Write(buffer[:bytesRead]); writeErr != nil {
				return written, fmt.Errorf("%w: writing %s: %v", errs.ErrStorage, dest, writeErr)
			}
			written += int64(bytesRead)

			if onProgress != nil && time.Since(lastEmit) >= d.opts.ProgressInterval {
				onProgress(Progress{JobID: jobID, Current: offset + written, Total: total})
				lastEmit = time.Now()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return written, fmt.Errorf("reading response body: %w", readErr)
		}
	}

	if offset+written < total {
		return written, fmt.Errorf("short read: got %d of %d bytes", offset+written, total-offset)
	}

	if err := outFile.Sync(); err != nil {
		return written, fmt.Errorf("%w: sync %s: %v", errs.ErrStorage, dest, err)
	}
	if onProgress != nil {
		onProgress(Progress{JobID: jobID, Current: offset + written, Total: total})
	}
	return written, nil
}

// retryable reports whether the attempt error is a transient transport
// failure. Storage failures, range mismatches and cancellation are terminal.
func retryable(err error) bool {
	switch {
	case errors.Is(err, errs.ErrStorage),
		errors.Is(err, errs.ErrRangeMismatch),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func destSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// parseTotal reads the total size out of a Content-Range header value
// ("bytes 0-0/12345").
func parseTotal(contentRange string) (int64, error) {
	parts := strings.Split(contentRange, "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed Content-Range %q", contentRange)
	}
	total, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || total <= 0 {
		return 0, fmt.Errorf("malformed Content-Range total %q", parts[1])
	}
	return total, nil
}

// checkContentRange verifies the server honored the requested range.
func checkContentRange(contentRange string, offset, total int64) error {
	if contentRange == "" {
		return fmt.Errorf("%w: missing Content-Range on 206", errs.ErrRangeMismatch)
	}
	rangeSpec := strings.TrimPrefix(contentRange, "bytes ")
	slash := strings.IndexByte(rangeSpec, '/')
	dash := strings.IndexByte(rangeSpec, '-')
	if slash < 0 || dash < 0 || dash > slash {
		return fmt.Errorf("%w: malformed Content-Range %q", errs.ErrRangeMismatch, contentRange)
	}
	start, err := strconv.ParseInt(rangeSpec[:dash], 10, 64)
	if err != nil || start != offset {
		return fmt.Errorf("%w: server range starts at %q, requested %d", errs.ErrRangeMismatch, rangeSpec[:dash], offset)
	}
	gotTotal, err := strconv.ParseInt(strings.TrimSpace(rangeSpec[slash+1:]), 10, 64)
	if err != nil || gotTotal != total {
		return fmt.Errorf("%w: server total %q, probed %d", errs.ErrRangeMismatch, rangeSpec[slash+1:], total)
	}
	return nil
}
