// Package ingest turns normalized vendor events into Message rows. Webhooks
// and sync both go through Pipeline.Ingest, so dedup and contact
// resolution behave the same on either path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/auth"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/identity"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/observ"
	"github.com/lalith-99/unifiedinbox/internal/realtime"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"github.com/lalith-99/unifiedinbox/internal/status"
	"go.uber.org/zap"
)

// Source labels where a batch came from.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourceSync    Source = "sync"
)

// Result counts what happened to one batch.
type Result struct {
	Ingested   int `json:"ingested"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func (r *Result) add(o Result) {
	r.Ingested += o.Ingested
	r.Duplicates += o.Duplicates
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

type Pipeline struct {
	store    repository.Store
	resolver *identity.Resolver
	pub      realtime.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

func New(store repository.Store, resolver *identity.Resolver, pub realtime.Publisher, logger *zap.Logger) *Pipeline {
	if pub == nil {
		pub = realtime.Nop{}
	}
	return &Pipeline{store: store, resolver: resolver, pub: pub, logger: logger, now: time.Now}
}

// Exists reports whether the message identified by ref was already stored
// for the contact on ch.
func (p *Pipeline) Exists(ctx context.Context, contactID uuid.UUID, ch models.Channel, ref models.ExternalRef) (bool, error) {
	return p.store.Messages().ExistsByExternalRef(ctx, contactID, ch, ref)
}

// Ingest stores every event of the batch that is not already known, in
// vendor timestamp order.
//
// For each event:
//  1. The sender is resolved to a contact, creating one on first contact.
//     Events without a sender, or with a sender that is not a valid
//     identifier for ch, are counted as Skipped.
//  2. The dedup key is the vendor id. When the vendor gives none, a hash
//     of sender, text and timestamp stands in for it.
//  3. A known key counts as a Duplicate. A new one is stored and
//     published to the contact's realtime subscribers.
//
// Webhooks and sync both end up here, so an event seen by both paths is
// stored once. A failing event is counted and reported; it does not stop
// the rest of the batch. The returned error joins the per-event failures.
// A cancelled ctx stops the batch and counts what is left as Failed.
func (p *Pipeline) Ingest(ctx context.Context, ac auth.AuthContext, ch models.Channel, src Source, events []channel.InboundMessage) (Result, error) {
	var res Result
	if len(events) == 0 {
		return res, nil
	}

	ordered := make([]channel.InboundMessage, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var errs []error
	for i := range ordered {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			res.Failed += len(ordered) - i
			break
		}
		one, err := p.ingestOne(ctx, ac, ch, src, &ordered[i])
		res.add(one)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if res.Ingested > 0 || res.Failed > 0 {
		p.logger.Info("ingested batch",
			zap.String("channel", string(ch)),
			zap.String("source", string(src)),
			zap.Int("ingested", res.Ingested),
			zap.Int("duplicates", res.Duplicates),
			zap.Int("failed", res.Failed))
	}
	return res, errors.Join(errs...)
}

func (p *Pipeline) ingestOne(ctx context.Context, ac auth.AuthContext, ch models.Channel, src Source, ev *channel.InboundMessage) (Result, error) {
	if ev.SenderID == "" {
		p.logger.Debug("skipping event without sender", zap.String("channel", string(ch)), zap.String("external_id", ev.ExternalID))
		return Result{Skipped: 1}, nil
	}

	dir := ev.Direction
	if dir == "" {
		dir = models.DirectionInbound
	}
	// Vendor names only describe the sender of inbound messages.
	displayName := ""
	if dir == models.DirectionInbound {
		displayName = ev.SenderName
	}

	contact, _, err := p.resolver.Resolve(ctx, ac, ch, ev.SenderID, displayName)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidIdentifier) {
			return Result{Skipped: 1}, nil
		}
		return Result{Failed: 1}, fmt.Errorf("resolve %s sender %s: %w", ch.Label(), ev.SenderID, err)
	}

	ref := models.NewExternalRef(ch, ev.ExternalID)
	if ev.ExternalID == "" {
		ref = models.ContentHashRef(ch, ev.SenderID, ev.Text, ev.Timestamp)
	}

	exists, err := p.Exists(ctx, contact.ID, ch, ref)
	if err != nil {
		return Result{Failed: 1}, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		observ.DuplicatesAbsorbed.WithLabelValues(string(ch)).Inc()
		return Result{Duplicates: 1}, nil
	}

	msg := p.buildMessage(ac, contact, ch, dir, ref, ev)
	created, err := p.store.Messages().Create(ctx, msg)
	if errors.Is(err, repository.ErrDuplicate) {
		// Lost a race with a concurrent delivery of the same event.
		observ.DuplicatesAbsorbed.WithLabelValues(string(ch)).Inc()
		return Result{Duplicates: 1}, nil
	}
	if err != nil {
		return Result{Failed: 1}, fmt.Errorf("store %s message: %w", ch.Label(), err)
	}

	action := models.ActivityMessageReceived
	if dir == models.DirectionOutbound {
		action = models.ActivityMessageSent
	}
	contactID := contact.ID
	if err := p.store.Activity().Append(ctx, &models.ActivityLog{
		UserID:    ac.UserID,
		ContactID: &contactID,
		Action:    action,
		Details: models.Metadata{
			"channel":   string(ch),
			"messageId": created.ID,
			"source":    string(src),
		},
	}); err != nil {
		p.logger.Warn("append activity", zap.Int64("message_id", created.ID), zap.Error(err))
	}

	observ.MessagesIngested.WithLabelValues(string(ch), string(src)).Inc()
	p.pub.Publish(created.UserID, realtime.Event{Type: realtime.MessageCreated, Message: created})
	return Result{Ingested: 1}, nil
}

func (p *Pipeline) buildMessage(ac auth.AuthContext, contact *models.Contact, ch models.Channel, dir models.Direction, ref models.ExternalRef, ev *channel.InboundMessage) *models.Message {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}

	meta := models.Metadata{}.Merge(ev.Metadata)
	meta[ref.MetadataKey()] = ref.Value
	if ev.SenderName != "" && dir == models.DirectionInbound {
		meta[models.MetaSenderName] = ev.SenderName
	}
	if ev.VendorStatus != "" {
		meta[models.MetaVendorStatus] = ev.VendorStatus
	}

	userID := ac.UserID
	if userID == uuid.Nil {
		userID = contact.UserID
	}

	m := &models.Message{
		ContactID:   contact.ID,
		UserID:      userID,
		Channel:     ch,
		Direction:   dir,
		Content:     ev.Text,
		MediaURLs:   ev.MediaURLs,
		Status:      status.Normalize(ch, dir, ev.VendorStatus),
		ExternalRef: &ref,
		Metadata:    meta,
		SentAt:      &ts,
	}
	if m.Status == models.StatusDelivered || m.Status == models.StatusRead {
		delivered := ts
		m.DeliveredAt = &delivered
	}
	return m
}
