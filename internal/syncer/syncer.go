// Package syncer pulls message history from every configured channel and
// feeds it through the ingestion pipeline. Re-running it is always safe;
// the guard only exists to save vendor quota.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lalith-99/unifiedinbox/internal/auth"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/ingest"
	"github.com/lalith-99/unifiedinbox/internal/lock"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/observ"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrTooSoon        = errors.New("sync ran too recently")
)

const (
	DefaultLimit       = 10000
	DefaultMinInterval = 30 * time.Second
	DefaultTimeout     = 2 * time.Minute

	autoGateKey = "sync:auto"
)

type Config struct {
	// DefaultLimit is the per-channel fetch limit when a request names none.
	DefaultLimit int
	// MinInterval spaces automatic runs, across instances when the locker
	// is Redis-backed.
	MinInterval time.Duration
	// Timeout bounds one channel's fetch.
	Timeout time.Duration
}

type Request struct {
	// Channels restricts the run. Empty means every registered channel.
	Channels []models.Channel `json:"channels"`
	Limit    int              `json:"limit"`
	// Automatic marks client timer triggers, which are subject to MinInterval.
	Automatic bool `json:"automatic"`
}

type ChannelResult struct {
	Channel    models.Channel `json:"channel"`
	Fetched    int            `json:"fetched"`
	Ingested   int            `json:"ingested"`
	Duplicates int            `json:"duplicates"`
	Skipped    bool           `json:"skipped,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

type Result struct {
	Synced     int             `json:"synced"`
	Errors     []string        `json:"errors,omitempty"`
	Channels   []ChannelResult `json:"channels"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

type Syncer struct {
	registry *channel.Registry
	pipeline *ingest.Pipeline
	locker   lock.Locker
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	running atomic.Bool

	mu       sync.RWMutex
	last     *Result
	lastAuto time.Time
}

func New(registry *channel.Registry, pipeline *ingest.Pipeline, locker lock.Locker, cfg Config, logger *zap.Logger) *Syncer {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Syncer{
		registry: registry,
		pipeline: pipeline,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Last returns the result of the most recent completed run, or nil.
func (s *Syncer) Last() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run fetches every requested channel concurrently and ingests what comes
// back through the pipeline.
//
// Channel selection:
//   - An empty req.Channels means every registered channel. Channels that
//     are registered but have no credentials are skipped silently.
//   - An explicit req.Channels is honoured as given. A requested channel
//     that is not registered or not configured is still skipped, but it
//     also gets an error line so the caller sees why nothing came back.
//
// One channel failing never affects the others: its error string is
// added to Result.Errors in the form "<Label> sync error: <cause>" and
// the rest of the counts stand. Only one Run executes at a time per
// Syncer; an overlapping call gets ErrSyncInProgress. Automatic runs are
// additionally throttled by cfg.MinInterval and return ErrTooSoon.
func (s *Syncer) Run(ctx context.Context, ac auth.AuthContext, req Request) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.running.Store(false)

	if req.Automatic {
		if err := s.admitAutomatic(ctx); err != nil {
			return nil, err
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	channels := s.selectChannels(req.Channels)
	explicit := len(req.Channels) > 0

	res := &Result{StartedAt: s.now(), Channels: make([]ChannelResult, len(channels))}

	var g errgroup.Group
	for i, ch := range channels {
		g.Go(func() error {
			res.Channels[i] = s.syncChannel(ctx, ac, ch, limit, explicit)
			return nil
		})
	}
	_ = g.Wait()

	for _, cr := range res.Channels {
		res.Synced += cr.Ingested
		if cr.Error != "" {
			res.Errors = append(res.Errors, cr.Error)
		}
	}
	res.FinishedAt = s.now()

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	s.logger.Info("sync finished",
		zap.Int("channels", len(channels)),
		zap.Int("synced", res.Synced),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("took", res.FinishedAt.Sub(res.StartedAt)))
	return res, nil
}

// admitAutomatic applies the minimum interval, locally and then through the
// shared locker. The gate key is never released; it expires after
// MinInterval.
func (s *Syncer) admitAutomatic(ctx context.Context) error {
	now := s.now()
	s.mu.Lock()
	if !s.lastAuto.IsZero() && now.Sub(s.lastAuto) < s.cfg.MinInterval {
		s.mu.Unlock()
		return ErrTooSoon
	}
	s.mu.Unlock()

	if _, err := s.locker.Acquire(ctx, autoGateKey, s.cfg.MinInterval); err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return ErrTooSoon
		}
		// A broken gate only costs quota; run anyway.
		s.logger.Warn("sync gate unavailable", zap.Error(err))
	}

	s.mu.Lock()
	s.lastAuto = now
	s.mu.Unlock()
	return nil
}

func (s *Syncer) selectChannels(requested []models.Channel) []models.Channel {
	registered := s.registry.Channels()
	if len(requested) == 0 {
		return registered
	}
	want := make(map[models.Channel]bool, len(requested))
	for _, ch := range requested {
		want[ch] = true
	}
	out := make([]models.Channel, 0, len(want))
	for _, ch := range registered {
		if want[ch] {
			out = append(out, ch)
			delete(want, ch)
		}
	}
	// Requested but unregistered channels stay in the run so they are
	// reported rather than silently dropped.
	for _, ch := range requested {
		if want[ch] {
			out = append(out, ch)
			delete(want, ch)
		}
	}
	return out
}

// syncChannel fetches and ingests one channel. A channel without credentials
// is skipped quietly on a full run, but when the caller named it explicitly
// the skip is also reported as an error so the caller learns why nothing came
// back.
func (s *Syncer) syncChannel(ctx context.Context, ac auth.AuthContext, ch models.Channel, limit int, explicit bool) ChannelResult {
	start := s.now()
	cr := ChannelResult{Channel: ch}
	defer func() {
		took := s.now().Sub(start)
		cr.DurationMs = took.Milliseconds()
		observ.SyncDuration.WithLabelValues(string(ch)).Observe(took.Seconds())
	}()

	adapter, ok := s.registry.Get(ch)
	if !ok {
		cr.Skipped = true
		if explicit {
			cr.Error = fmt.Sprintf("%s sync error: %v", ch.Label(), channel.ErrNotConfigured)
		}
		return cr
	}

	msgs, err := channel.Fetch(ctx, adapter, limit, s.cfg.Timeout)
	if errors.Is(err, channel.ErrNotConfigured) {
		cr.Skipped = true
		if explicit {
			cr.Error = fmt.Sprintf("%s sync error: %v", ch.Label(), err)
		}
		return cr
	}
	if err != nil {
		observ.AdapterErrors.WithLabelValues(string(ch), "fetch").Inc()
		s.logger.Warn("channel fetch failed", zap.String("channel", string(ch)), zap.Error(err))
		cr.Error = fmt.Sprintf("%s sync error: %v", ch.Label(), err)
		return cr
	}
	cr.Fetched = len(msgs)

	ir, err := s.pipeline.Ingest(ctx, ac, ch, ingest.SourceSync, msgs)
	cr.Ingested = ir.Ingested
	cr.Duplicates = ir.Duplicates
	if err != nil {
		s.logger.Warn("channel ingest had failures", zap.String("channel", string(ch)), zap.Int("failed", ir.Failed), zap.Error(err))
		cr.Error = fmt.Sprintf("%s sync error: %d of %d messages failed to store: %v", ch.Label(), ir.Failed, len(msgs), err)
	}
	return cr
}
