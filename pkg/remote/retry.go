package remote

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// retryPolicy retries requests that failed in transit or were answered
// with 429 or a 5xx status. Backoff starts at base and doubles; a
// Retry-After header in seconds replaces the computed wait. No single wait
// exceeds maxWait.
type retryPolicy struct {
	attempts int
	base     time.Duration
	maxWait  time.Duration
}

func defaultRetryPolicy(attempts int) retryPolicy {
	return retryPolicy{attempts: attempts, base: time.Second, maxWait: 30 * time.Second}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// wait returns the delay before attempt n (n >= 1) given the response that
// ended the previous attempt, which may be nil.
func (p retryPolicy) wait(n int, prev *http.Response) time.Duration {
	d := p.base << (n - 1)
	if prev != nil {
		if secs, err := strconv.Atoi(prev.Header.Get("Retry-After")); err == nil && secs >= 0 {
			d = time.Duration(secs) * time.Second
		}
	}
	if p.maxWait > 0 && d > p.maxWait {
		d = p.maxWait
	}
	return d
}

// do sends req until it gets a final answer or runs out of attempts. The
// last retryable response is returned as is. A body is buffered so it can
// be replayed.
func (p retryPolicy) do(client *http.Client, req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return nil, err
		}
		req.Body.Close()
	}
	ctx := req.Context()
	attempts := max(p.attempts, 1)

	var (
		prev    *http.Response
		lastErr error
	)
	for n := 0; n < attempts; n++ {
		if n > 0 {
			t := time.NewTimer(p.wait(n, prev))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			prev, lastErr = nil, err
			continue
		}
		if !retryable(resp.StatusCode) || n == attempts-1 {
			return resp, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		prev, lastErr = resp, nil
	}
	return nil, lastErr
}
