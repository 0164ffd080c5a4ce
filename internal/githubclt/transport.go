package githubclt

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultMinRequestInterval is the minimal time between the start of 2
// requests sent to the GitHub API.
const DefaultMinRequestInterval = time.Second

// throttledTransport is a http.RoundTripper that allows only 1 request to be
// in-flight and enforces a minimal interval between the start of requests.
// A request counts as in-flight until its response body is closed.
// The request timeout starts when the request was admitted, time spent
// waiting for a slot does not count.
type throttledTransport struct {
	next           http.RoundTripper
	inflight       *semaphore.Weighted
	limiter        *rate.Limiter
	requestTimeout time.Duration
}

func newThrottledTransport(next http.RoundTripper, minInterval, requestTimeout time.Duration) *throttledTransport {
	var limit rate.Limit
	if minInterval <= 0 {
		limit = rate.Inf
	} else {
		limit = rate.Every(minInterval)
	}

	return &throttledTransport{
		next:           next,
		inflight:       semaphore.NewWeighted(1),
		limiter:        rate.NewLimiter(limit, 1),
		requestTimeout: requestTimeout,
	}
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if err := t.inflight.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { t.inflight.Release(1) }) }

	if err := t.limiter.Wait(ctx); err != nil {
		release()
		return nil, err
	}

	cancel := context.CancelFunc(func() {})
	if t.requestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.requestTimeout)
		req = req.WithContext(ctx)
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		cancel()
		release()
		return nil, err
	}

	resp.Body = &releasingBody{
		ReadCloser: resp.Body,
		onClose: func() {
			cancel()
			release()
		},
	}

	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	onClose func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.onClose)
	return err
}
