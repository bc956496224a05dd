// Package channeltest provides a scriptable channel.Adapter for tests.
package channeltest

import (
	"context"
	"strconv"
	"sync"

	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/models"
)

// Fake records every send and returns canned fetch results.
type Fake struct {
	Ch           models.Channel
	Unconfigured bool
	Messages     []channel.InboundMessage
	FetchErr     error
	// SendFunc decides the result of Send. Nil means success with id "fake-<n>".
	SendFunc func(p channel.SendParams) channel.SendResult

	mu    sync.Mutex
	sent  []channel.SendParams
	calls []string
}

func New(ch models.Channel) *Fake {
	return &Fake{Ch: ch}
}

func (f *Fake) Channel() models.Channel { return f.Ch }

func (f *Fake) Configured() bool { return !f.Unconfigured }

func (f *Fake) FetchMessages(ctx context.Context, limit int) ([]channel.InboundMessage, error) {
	if f.Unconfigured {
		return nil, channel.ErrNotConfigured
	}
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	msgs := f.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *Fake) Send(ctx context.Context, p channel.SendParams) channel.SendResult {
	f.mu.Lock()
	f.sent = append(f.sent, p)
	n := len(f.sent)
	f.mu.Unlock()

	if f.SendFunc != nil {
		return f.SendFunc(p)
	}
	return channel.Sent("fake-" + strconv.Itoa(n))
}

// Call makes Fake usable as a channel.Caller too.
func (f *Fake) Call(ctx context.Context, to, text string) channel.SendResult {
	f.mu.Lock()
	f.calls = append(f.calls, to+"|"+text)
	f.mu.Unlock()
	if f.SendFunc != nil {
		return f.SendFunc(channel.SendParams{To: to, Content: text})
	}
	return channel.Sent("CA-fake")
}

func (f *Fake) Sent() []channel.SendParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channel.SendParams(nil), f.sent...)
}

func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
