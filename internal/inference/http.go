// Package inference holds the HTTP plumbing shared by the hosted AI clients:
// per-call deadlines, retry with backoff, and status classification.
package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LyricSync/internal/model"
)

// maxErrorBody caps how much of an error response ends up in error_message.
const maxErrorBody = 512

// maxResponseBody caps successful response bodies read into memory.
const maxResponseBody = 32 << 20

// RequestFunc builds a fresh request for each attempt, since request bodies
// are consumed by the transport.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Caller executes requests against one hosted service.
type Caller struct {
	Service string
	HTTP    *http.Client
	Retries int
	Log     *logrus.Entry
}

// WithDeadline derives the context bounding one logical call, retries
// included. A zero timeout means no extra bound.
func WithDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// TranslateTimeout maps err to model.ErrTimeout when the call context hit its
// own deadline while the parent was still live. Parent cancellation is
// reported as the parent's error.
func TranslateTimeout(parent, call context.Context, err error) error {
	if err == nil {
		return nil
	}
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return model.ErrTimeout
	}
	return err
}

// Execute sends the request built by newReq, retrying transport failures and
// retryable statuses with exponential backoff, and returns the response body
// of the first 2xx answer.
func (c *Caller) Execute(ctx context.Context, newReq RequestFunc) ([]byte, error) {
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		req, err := newReq(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			uerr := &model.UpstreamError{
				Service:    c.Service,
				StatusCode: resp.StatusCode,
				Body:       truncate(strings.TrimSpace(string(data)), maxErrorBody),
			}
			if uerr.Temporary() {
				return uerr
			}
			return backoff.Permanent(uerr)
		}
		body = data
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if c.Log != nil {
			c.Log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"wait_ms": wait.Milliseconds(),
			}).Warn("retrying upstream call")
		}
	}
	if err := backoff.RetryNotify(op, c.policy(ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Caller) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 250 * time.Millisecond
	exp.MaxInterval = 5 * time.Second
	retries := c.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Sleep waits for d or until ctx is done. Mock clients use it to simulate
// latency.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
