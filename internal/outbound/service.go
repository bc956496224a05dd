// Package outbound is the request-driven send path: it stores the message,
// calls the vendor synchronously, and returns the final state to the caller.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/auth"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/channel/email"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/observ"
	"github.com/lalith-99/unifiedinbox/internal/realtime"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrContactNotFound = errors.New("contact not found")
	ErrNoRecipient     = errors.New("contact has no address for this channel")
	ErrEmptyContent    = errors.New("content or media is required")
	ErrReplyNotFound   = errors.New("message being replied to not found")
	ErrVoiceDisabled   = errors.New("voice calling is not configured")
)

// Call types recorded under models.MetaCallType.
const (
	CallScheduled = "SCHEDULED"
	CallImmediate = "IMMEDIATE"
)

// SendFailedError carries the stored FAILED message so handlers can return
// both the row and the vendor reason.
type SendFailedError struct {
	Message *models.Message
	Reason  string
}

func (e *SendFailedError) Error() string {
	return "send failed: " + e.Reason
}

type Request struct {
	ContactID        uuid.UUID      `json:"contactId"`
	Channel          models.Channel `json:"channel"`
	Content          string         `json:"content"`
	MediaURLs        []string       `json:"mediaUrls"`
	Subject          string         `json:"subject"`
	ScheduledFor     *time.Time     `json:"scheduledFor"`
	ReplyToMessageID *int64         `json:"replyToMessageId"`
}

type Service struct {
	store    repository.Store
	registry *channel.Registry
	caller   channel.Caller
	pub      realtime.Publisher
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	// mediaBase is the public origin that root-relative media paths
	// (our own uploads) are served from.
	mediaBase string
}

func New(store repository.Store, registry *channel.Registry, caller channel.Caller, pub realtime.Publisher, timeout time.Duration, logger *zap.Logger) *Service {
	if pub == nil {
		pub = realtime.Nop{}
	}
	return &Service{
		store:    store,
		registry: registry,
		caller:   caller,
		pub:      pub,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// WithMediaBase resolves root-relative media URLs against base before they
// are stored or sent.
func (s *Service) WithMediaBase(base string) *Service {
	s.mediaBase = base
	return s
}

// Send stores the message and, unless it is scheduled for later, sends it
// before returning. A vendor failure is persisted on the row and returned
// as *SendFailedError alongside it.
func (s *Service) Send(ctx context.Context, ac auth.AuthContext, req Request) (*models.Message, error) {
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("unknown channel %q", req.Channel)
	}
	if strings.TrimSpace(req.Content) == "" && len(req.MediaURLs) == 0 {
		return nil, ErrEmptyContent
	}
	media, err := channel.ResolveMediaURLs(s.mediaBase, req.MediaURLs)
	if err != nil {
		return nil, err
	}
	req.MediaURLs = media

	contact, err := s.store.Contacts().GetByID(ctx, req.ContactID)
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	if contact == nil {
		return nil, ErrContactNotFound
	}
	to := contact.Recipient(req.Channel)
	if to == "" {
		return nil, fmt.Errorf("%w: %s has no %s address", ErrNoRecipient, contact.Name, req.Channel.Label())
	}

	meta := models.Metadata{}
	params := channel.SendParams{To: to, Content: req.Content, MediaURLs: req.MediaURLs}
	if req.Channel == models.ChannelEmail {
		if err := s.threadEmail(ctx, contact.ID, req, &params); err != nil {
			return nil, err
		}
		meta[models.MetaEmailSubject] = params.Subject
		if params.ReplyTo != "" {
			meta[models.MetaEmailInReplyTo] = params.ReplyTo
		}
	}

	msg := &models.Message{
		ContactID: contact.ID,
		UserID:    ac.UserID,
		Channel:   req.Channel,
		Direction: models.DirectionOutbound,
		Content:   req.Content,
		MediaURLs: req.MediaURLs,
		Status:    models.StatusPending,
		Metadata:  meta,
	}
	if req.ScheduledFor != nil && req.ScheduledFor.After(s.now()) {
		at := req.ScheduledFor.UTC()
		msg.Status = models.StatusScheduled
		msg.ScheduledFor = &at
	}

	created, err := s.store.Messages().Create(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if created.Status == models.StatusScheduled {
		s.logger.Info("message scheduled",
			zap.Int64("message_id", created.ID),
			zap.String("channel", string(created.Channel)),
			zap.Time("scheduled_for", *created.ScheduledFor))
		s.pub.Publish(created.UserID, realtime.Event{Type: realtime.MessageCreated, Message: created})
		return created, nil
	}

	var res channel.SendResult
	if adapter, ok := s.registry.Get(req.Channel); ok {
		res = channel.Send(ctx, adapter, params, s.timeout)
	} else {
		res = channel.Failed(req.Channel.Label() + " channel is not available")
	}
	return s.record(ctx, created, res)
}

// threadEmail fills subject and reply headers. Replying to an inbound email
// reuses its subject with a single "Re: " and points In-Reply-To at its
// Message-ID.
func (s *Service) threadEmail(ctx context.Context, contactID uuid.UUID, req Request, p *channel.SendParams) error {
	p.Subject = strings.TrimSpace(req.Subject)
	if req.ReplyToMessageID == nil {
		if p.Subject == "" {
			p.Subject = email.DefaultSubject
		}
		return nil
	}

	orig, err := s.store.Messages().GetByID(ctx, *req.ReplyToMessageID)
	if err != nil {
		return fmt.Errorf("get replied message: %w", err)
	}
	if orig == nil || orig.ContactID != contactID || orig.Channel != models.ChannelEmail {
		return ErrReplyNotFound
	}
	if p.Subject == "" {
		p.Subject = orig.Metadata.String(models.MetaEmailSubject)
	}
	if p.Subject == "" {
		p.Subject = email.NoSubject
	}
	p.Subject = email.ReplySubject(p.Subject)
	if orig.ExternalRef != nil && orig.ExternalRef.Kind == models.RefEmailMessageID {
		p.ReplyTo = orig.ExternalRef.Value
	}
	return nil
}

// ScheduleCall stores a voice call for the dispatcher. Calls ride on the SMS
// channel because they go to the contact's primary phone.
func (s *Service) ScheduleCall(ctx context.Context, ac auth.AuthContext, contactID uuid.UUID, text string, at time.Time) (*models.Message, error) {
	contact, err := s.callTarget(ctx, contactID, text)
	if err != nil {
		return nil, err
	}
	at = at.UTC()
	created, err := s.store.Messages().Create(ctx, &models.Message{
		ContactID:    contact.ID,
		UserID:       ac.UserID,
		Channel:      models.ChannelSMS,
		Direction:    models.DirectionOutbound,
		Content:      text,
		Status:       models.StatusScheduled,
		ScheduledFor: &at,
		Metadata:     models.Metadata{models.MetaVoiceCall: true, models.MetaCallType: CallScheduled},
	})
	if err != nil {
		return nil, fmt.Errorf("create scheduled call: %w", err)
	}
	s.pub.Publish(created.UserID, realtime.Event{Type: realtime.MessageCreated, Message: created})
	return created, nil
}

// CallNow places a text-to-speech call and records it as a message.
func (s *Service) CallNow(ctx context.Context, ac auth.AuthContext, contactID uuid.UUID, text string) (*models.Message, error) {
	if s.caller == nil || !s.caller.Configured() {
		return nil, ErrVoiceDisabled
	}
	contact, err := s.callTarget(ctx, contactID, text)
	if err != nil {
		return nil, err
	}
	created, err := s.store.Messages().Create(ctx, &models.Message{
		ContactID: contact.ID,
		UserID:    ac.UserID,
		Channel:   models.ChannelSMS,
		Direction: models.DirectionOutbound,
		Content:   text,
		Status:    models.StatusPending,
		Metadata:  models.Metadata{models.MetaVoiceCall: true, models.MetaCallType: CallImmediate},
	})
	if err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	res := channel.Call(ctx, s.caller, contact.PrimaryPhone(), text, s.timeout)
	return s.record(ctx, created, res)
}

func (s *Service) callTarget(ctx context.Context, contactID uuid.UUID, text string) (*models.Contact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}
	contact, err := s.store.Contacts().GetByID(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	if contact == nil {
		return nil, ErrContactNotFound
	}
	if contact.PrimaryPhone() == "" {
		return nil, fmt.Errorf("%w: %s has no phone number", ErrNoRecipient, contact.Name)
	}
	return contact, nil
}

// record writes the send outcome onto msg and returns the updated row.
func (s *Service) record(ctx context.Context, msg *models.Message, res channel.SendResult) (*models.Message, error) {
	now := s.now()
	upd := repository.MessageUpdate{}
	action := models.ActivityMessageSent
	if res.Success {
		st := models.StatusSent
		upd.Status = &st
		upd.SentAt = &now
		if res.MessageID != "" {
			ref := models.NewExternalRef(msg.Channel, res.MessageID)
			upd.ExternalRef = &ref
			upd.Metadata = models.Metadata{ref.MetadataKey(): ref.Value}
		}
		observ.OutboundSends.WithLabelValues(string(msg.Channel), "sent").Inc()
	} else {
		st := models.StatusFailed
		upd.Status = &st
		upd.Metadata = models.Metadata{models.MetaError: res.Error}
		action = models.ActivityMessageFailed
		observ.OutboundSends.WithLabelValues(string(msg.Channel), "failed").Inc()
		observ.AdapterErrors.WithLabelValues(string(msg.Channel), "send").Inc()
	}

	updated, err := s.store.Messages().Update(ctx, msg.ID, upd)
	if errors.Is(err, repository.ErrDuplicate) {
		upd.ExternalRef = nil
		updated, err = s.store.Messages().Update(ctx, msg.ID, upd)
	}
	if err != nil {
		return nil, fmt.Errorf("record send result: %w", err)
	}

	contactID := msg.ContactID
	if err := s.store.Activity().Append(ctx, &models.ActivityLog{
		UserID:    msg.UserID,
		ContactID: &contactID,
		Action:    action,
		Details: models.Metadata{
			"channel":   string(msg.Channel),
			"messageId": msg.ID,
			"voiceCall": msg.IsVoiceCall(),
		},
	}); err != nil {
		s.logger.Warn("append activity", zap.Error(err))
	}
	s.pub.Publish(updated.UserID, realtime.Event{Type: realtime.MessageCreated, Message: updated})

	if !res.Success {
		s.logger.Warn("outbound send failed",
			zap.Int64("message_id", msg.ID),
			zap.String("channel", string(msg.Channel)),
			zap.String("error", res.Error))
		return updated, &SendFailedError{Message: updated, Reason: res.Error}
	}
	return updated, nil
}
