package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/metalfistbot/metalfist/internal/logging"
)

const (
	httpChunkErrorBackoff = 1 * time.Second
	httpErrorBackoff      = 2 * time.Second
	decoderIdleBackoff    = 50 * time.Millisecond
)

// Decoder drives one external transcoder subprocess: an HTTP
// range-fetcher feeds encoded bytes into the process's stdin, and
// 48kHz/stereo/s16le PCM is read back from its stdout.
type Decoder struct {
	logger logging.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu      sync.Mutex
	exited  bool
	exitErr error

	cancel context.CancelFunc
}

// SpawnDecoder starts binaryPath configured to read an arbitrary
// encoded stream from stdin and emit raw PCM on stdout, and begins
// fetching mediaURL in chunkBytes-sized ranges to feed it.
func SpawnDecoder(ctx context.Context, logger logging.Logger, binaryPath, mediaURL string, chunkBytes, channelDepth int) (*Decoder, error) {
	cctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(cctx, binaryPath,
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", fmt.Sprintf("%d", Channels),
		"pipe:1",
	)
	cmd.Stderr = nil

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decoder: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decoder: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("decoder: start %s: %w", binaryPath, err)
	}

	d := &Decoder{
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		cancel: cancel,
	}

	go d.waitForExit()

	chunks := make(chan []byte, channelDepth)
	go fetchToChannel(cctx, logger, mediaURL, chunkBytes, chunks)
	go feedStdin(logger, stdin, chunks)

	return d, nil
}

func (d *Decoder) waitForExit() {
	err := d.cmd.Wait()
	d.mu.Lock()
	d.exited = true
	d.exitErr = err
	d.mu.Unlock()
}

// Alive reports whether the subprocess has not yet exited.
func (d *Decoder) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.exited
}

// Read proxies the decoder's stdout, yielding raw PCM bytes.
func (d *Decoder) Read(p []byte) (int, error) {
	return d.stdout.Read(p)
}

// Kill forcefully terminates the subprocess with no grace period.
func (d *Decoder) Kill() {
	d.cancel()
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
}

// IdleBackoff is the fixed sleep applied by the producer when the
// decoder is alive but currently has no bytes available.
const IdleBackoff = decoderIdleBackoff

// chunkReadError marks a failure reading the body of an already-200'd
// range response, as distinct from a failure making the HTTP request
// itself; the two cases back off for different durations.
type chunkReadError struct{ err error }

func (e *chunkReadError) Error() string { return e.err.Error() }
func (e *chunkReadError) Unwrap() error { return e.err }

// fetchToChannel issues a HEAD to learn the resource length, then
// sequential range GETs in chunkBytes pieces, pushing each response
// chunk onto out. On a read error mid-chunk it backs off briefly and
// re-requests the same range; on an HTTP-level error it backs off
// longer and retries. It closes out when done (start >= total) or when
// ctx is cancelled.
func fetchToChannel(ctx context.Context, logger logging.Logger, url string, chunkBytes int, out chan<- []byte) {
	defer close(out)

	total, err := contentLength(ctx, url)
	if err != nil {
		logger.Warnw("decoder fetch: HEAD failed, treating as empty stream", "url", url, "error", err)
		return
	}
	if total <= 0 {
		return
	}

	start := 0
	for start < total {
		end := start + chunkBytes - 1
		if end > total-1 {
			end = total - 1
		}

		if err := fetchRangeInto(ctx, url, start, end, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			backoff := httpErrorBackoff
			var chunkErr *chunkReadError
			if errors.As(err, &chunkErr) {
				backoff = httpChunkErrorBackoff
			}
			logger.Warnw("decoder fetch: range request failed, retrying", "start", start, "end", end, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		start = end + 1
	}
}

func contentLength(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build HEAD request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("HEAD request: status %d", resp.StatusCode)
	}
	return int(resp.ContentLength), nil
}

// fetchRangeInto issues one ranged GET and streams its body in
// chunkReadSize pieces onto out, returning an error to trigger a
// caller-side retry of the same [start, end] range on any read
// failure.
func fetchRangeInto(ctx context.Context, url string, start, end int, out chan<- []byte) error {
	const chunkReadSize = 32 * 1024

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build GET request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("GET request: status %d", resp.StatusCode)
	}

	buf := make([]byte, chunkReadSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			case <-ctx.Done():
				return nil
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return &chunkReadError{err: fmt.Errorf("body read: %w", readErr)}
		}
	}
}

// feedStdin drains chunks into the decoder's stdin until the channel
// closes, then shuts stdin down so the subprocess sees EOF.
func feedStdin(logger logging.Logger, stdin io.WriteCloser, chunks <-chan []byte) {
	defer stdin.Close()
	for chunk := range chunks {
		if _, err := stdin.Write(chunk); err != nil {
			logger.Debugw("decoder feeder: stdin write failed, stopping", "error", err)
			return
		}
	}
}
