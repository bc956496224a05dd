package channel

import (
	"context"
	"fmt"
	"time"
)

// Fetch calls a.FetchMessages under a deadline. A panic or a timeout comes
// back as an ordinary error so one misbehaving vendor cannot take down the
// caller. Some vendor SDKs ignore ctx, so the call runs in its own goroutine
// and is abandoned on timeout.
func Fetch(ctx context.Context, a Adapter, limit int, timeout time.Duration) ([]InboundMessage, error) {
	type result struct {
		msgs []InboundMessage
		err  error
	}
	ctx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("%s adapter panicked: %v", a.Channel().Label(), p)}
			}
		}()
		msgs, err := a.FetchMessages(ctx, limit)
		done <- result{msgs: msgs, err: err}
	}()

	select {
	case r := <-done:
		return r.msgs, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s: %w", a.Channel().Label(), ctx.Err())
	}
}

// Send calls a.Send under a deadline with the same panic and timeout
// handling as Fetch. Media URLs are validated before the vendor is called.
func Send(ctx context.Context, a Adapter, p SendParams, timeout time.Duration) SendResult {
	if err := ValidateMediaURLs(p.MediaURLs); err != nil {
		return Failed(err.Error())
	}
	return guardSend(ctx, a.Channel().Label(), timeout, func(ctx context.Context) SendResult {
		return a.Send(ctx, p)
	})
}

// Call places a voice call with the same guarantees as Send.
func Call(ctx context.Context, c Caller, to, text string, timeout time.Duration) SendResult {
	return guardSend(ctx, "Voice", timeout, func(ctx context.Context) SendResult {
		return c.Call(ctx, to, text)
	})
}

func guardSend(ctx context.Context, label string, timeout time.Duration, fn func(context.Context) SendResult) SendResult {
	ctx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()

	done := make(chan SendResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Failed(fmt.Sprintf("%s adapter panicked: %v", label, p))
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return Failed(fmt.Sprintf("%s send timed out: %v", label, ctx.Err()))
	}
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
