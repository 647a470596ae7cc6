package audio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metalfistbot/metalfist/internal/logging"
)

// TestFetchToChannel_ChunkReadErrorBacksOffOnlyByChunkBackoff covers the
// distinction between a body-read failure on an already-successful
// response and a request-level HTTP failure: the former should retry
// after httpChunkErrorBackoff alone, not that plus httpErrorBackoff.
func TestFetchToChannel_ChunkReadErrorBacksOffOnlyByChunkBackoff(t *testing.T) {
	const body = "0123456789"
	var attempt int32
	var firstAttemptAt, secondAttemptAt time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			return
		}

		n := atomic.AddInt32(&attempt, 1)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		if n == 1 {
			firstAttemptAt = time.Now()
			// Shorter than the declared Content-Length: the server
			// forces the connection closed, so the client sees a body
			// read error rather than a clean EOF.
			_, _ = w.Write([]byte(body[:3]))
			return
		}
		secondAttemptAt = time.Now()
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	out := make(chan []byte, 16)
	fetchToChannel(context.Background(), logging.NewNop(), srv.URL, len(body), out)

	require.Equal(t, int32(2), atomic.LoadInt32(&attempt))
	elapsed := secondAttemptAt.Sub(firstAttemptAt)

	require.GreaterOrEqual(t, elapsed, httpChunkErrorBackoff)
	require.Less(t, elapsed, httpChunkErrorBackoff+httpErrorBackoff)
}

// TestFetchToChannel_HTTPLevelErrorBacksOffByHTTPBackoff covers the
// other side of the same distinction: a request that never gets a
// usable response (here, a 500) retries after the longer
// httpErrorBackoff.
func TestFetchToChannel_HTTPLevelErrorBacksOffByHTTPBackoff(t *testing.T) {
	const body = "0123456789"
	var attempt int32
	var firstAttemptAt, secondAttemptAt time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			return
		}

		n := atomic.AddInt32(&attempt, 1)
		if n == 1 {
			firstAttemptAt = time.Now()
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		secondAttemptAt = time.Now()
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	out := make(chan []byte, 16)
	fetchToChannel(context.Background(), logging.NewNop(), srv.URL, len(body), out)

	require.Equal(t, int32(2), atomic.LoadInt32(&attempt))
	elapsed := secondAttemptAt.Sub(firstAttemptAt)

	require.GreaterOrEqual(t, elapsed, httpErrorBackoff)
}
