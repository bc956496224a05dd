// Package dispatch sends scheduled messages and voice calls once they are due.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/lock"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/observ"
	"github.com/lalith-99/unifiedinbox/internal/realtime"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("dispatcher already running")

const (
	DefaultInterval    = time.Minute
	DefaultBatchSize   = 100
	DefaultLockTTL     = 5 * time.Minute
	DefaultSendTimeout = 30 * time.Second

	runLockKey = "dispatch:run"
)

// Failure reasons recorded in message metadata.
const (
	ReasonNoRecipient     = "No recipient found"
	ReasonContactMissing  = "Contact not found"
	ReasonVoiceDisabled   = "Voice calling is not configured"
	reasonNoAdapterSuffix = " channel is not available"
)

type Config struct {
	Interval    time.Duration
	BatchSize   int
	LockTTL     time.Duration
	SendTimeout time.Duration
}

// Summary counts one run.
type Summary struct {
	Claimed int
	Sent    int
	Failed  int
	// Skipped is true when another instance held the run lock.
	Skipped bool
}

type Dispatcher struct {
	store    repository.Store
	registry *channel.Registry
	caller   channel.Caller
	locker   lock.Locker
	pub      realtime.Publisher
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.Mutex
}

func New(
	store repository.Store,
	registry *channel.Registry,
	caller channel.Caller,
	locker lock.Locker,
	pub realtime.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if pub == nil {
		pub = realtime.Nop{}
	}
	return &Dispatcher{
		store:    store,
		registry: registry,
		caller:   caller,
		locker:   locker,
		pub:      pub,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs the poll loop in the background until Stop or until ctx is
// cancelled. The first run happens immediately, then once per
// cfg.Interval.
//
// Each run claims at most cfg.BatchSize due SCHEDULED messages and sends
// them one by one:
//   - The claim moves a message to PENDING inside the store, so two
//     dispatchers never pick the same row.
//   - The run itself is guarded by the shared locker for cfg.LockTTL.
//     When another instance holds it, the run is skipped. When the
//     locker is unreachable the run goes ahead on the claim alone.
//   - A send that fails or exceeds cfg.SendTimeout marks the message
//     FAILED with the vendor error in its metadata. It is not retried.
//
// Calling Start twice returns ErrAlreadyRunning.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrAlreadyRunning
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.stoppedC = make(chan struct{})

	d.logger.Info("starting dispatcher",
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("batch_size", d.cfg.BatchSize))
	go d.pollLoop(ctx, d.stopCh, d.stoppedC)
	return nil
}

// Stop waits for an in-flight run to finish or for ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stopCh)
	stopped := d.stoppedC
	d.mu.Unlock()

	select {
	case <-stopped:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown timed out")
		return ctx.Err()
	}
}

func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// pollLoop never overlaps runs: the next tick is only read after RunOnce
// returns.
func (d *Dispatcher) pollLoop(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.tick(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	if _, err := d.RunOnce(ctx); err != nil {
		d.logger.Error("dispatch run failed", zap.Error(err))
	}
}

// RunOnce claims every due message and dispatches it. Claiming moves a
// message from SCHEDULED to PENDING atomically, so no message is sent twice
// even when runs on different instances overlap. Per-message failures are
// recorded on the message and do not stop the run.
func (d *Dispatcher) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary

	held, err := d.locker.Acquire(ctx, runLockKey, d.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		sum.Skipped = true
		return sum, nil
	}
	if err != nil {
		// The claim alone keeps sends unique; the lock only saves work.
		d.logger.Warn("dispatch lock unavailable, continuing", zap.Error(err))
	} else {
		defer func() {
			if err := held.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lock.ErrNotHeld) {
				d.logger.Warn("release dispatch lock", zap.Error(err))
			}
		}()
	}

	due, err := d.store.Messages().ClaimDue(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("claim due messages: %w", err)
	}
	sum.Claimed = len(due)
	if len(due) == 0 {
		return sum, nil
	}

	for i := range due {
		if d.dispatchOne(ctx, &due[i]) {
			sum.Sent++
		} else {
			sum.Failed++
		}
	}

	d.logger.Info("dispatch run completed",
		zap.Int("claimed", sum.Claimed),
		zap.Int("sent", sum.Sent),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, m *models.Message) bool {
	res := d.deliver(ctx, m)

	now := d.now()
	upd := repository.MessageUpdate{}
	action := models.ActivityMessageSent
	if res.Success {
		sent := models.StatusSent
		upd.Status = &sent
		upd.SentAt = &now
		upd.Metadata = models.Metadata{"dispatchedAt": now.Format(time.RFC3339)}
		if res.MessageID != "" {
			ref := models.NewExternalRef(m.Channel, res.MessageID)
			upd.ExternalRef = &ref
			upd.Metadata[ref.MetadataKey()] = ref.Value
		}
		observ.DispatchOutcomes.WithLabelValues("sent").Inc()
	} else {
		failed := models.StatusFailed
		upd.Status = &failed
		upd.Metadata = models.Metadata{models.MetaError: res.Error, "failedAt": now.Format(time.RFC3339)}
		action = models.ActivityMessageFailed
		observ.DispatchOutcomes.WithLabelValues("failed").Inc()
		d.logger.Warn("scheduled message failed",
			zap.Int64("message_id", m.ID),
			zap.String("channel", string(m.Channel)),
			zap.String("error", res.Error))
	}

	updated, err := d.store.Messages().Update(ctx, m.ID, upd)
	if errors.Is(err, repository.ErrDuplicate) {
		// The vendor id is already on another row; keep the outcome anyway.
		upd.ExternalRef = nil
		updated, err = d.store.Messages().Update(ctx, m.ID, upd)
	}
	if err != nil {
		d.logger.Error("record dispatch outcome", zap.Int64("message_id", m.ID), zap.Error(err))
		return false
	}

	contactID := m.ContactID
	if err := d.store.Activity().Append(ctx, &models.ActivityLog{
		UserID:    m.UserID,
		ContactID: &contactID,
		Action:    action,
		Details: models.Metadata{
			"channel":   string(m.Channel),
			"messageId": m.ID,
			"scheduled": true,
			"voiceCall": m.IsVoiceCall(),
		},
	}); err != nil {
		d.logger.Warn("append activity", zap.Error(err))
	}
	d.pub.Publish(updated.UserID, realtime.Event{Type: realtime.MessageUpdated, Message: updated})
	return res.Success
}

// deliver re-reads the contact so the current address is used, not the one
// known when the message was scheduled.
func (d *Dispatcher) deliver(ctx context.Context, m *models.Message) channel.SendResult {
	contact, err := d.store.Contacts().GetByID(ctx, m.ContactID)
	if err != nil {
		return channel.Failed(fmt.Sprintf("load contact: %v", err))
	}
	if contact == nil {
		return channel.Failed(ReasonContactMissing)
	}

	if m.IsVoiceCall() {
		to := contact.PrimaryPhone()
		if to == "" {
			return channel.Failed(ReasonNoRecipient)
		}
		if d.caller == nil || !d.caller.Configured() {
			return channel.Failed(ReasonVoiceDisabled)
		}
		return channel.Call(ctx, d.caller, to, m.Content, d.cfg.SendTimeout)
	}

	to := contact.Recipient(m.Channel)
	if to == "" {
		return channel.Failed(ReasonNoRecipient)
	}
	adapter, ok := d.registry.Get(m.Channel)
	if !ok {
		return channel.Failed(m.Channel.Label() + reasonNoAdapterSuffix)
	}
	res := channel.Send(ctx, adapter, channel.SendParams{
		To:        to,
		Content:   m.Content,
		MediaURLs: m.MediaURLs,
		Subject:   m.Metadata.String(models.MetaEmailSubject),
		ReplyTo:   m.Metadata.String(models.MetaEmailInReplyTo),
	}, d.cfg.SendTimeout)
	if !res.Success {
		observ.AdapterErrors.WithLabelValues(string(m.Channel), "send").Inc()
	}
	return res
}
