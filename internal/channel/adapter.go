// Package channel defines the contract every messaging vendor adapter
// implements, plus the registry the ingestion, sync, dispatch and send paths
// use to look adapters up by channel.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/lalith-99/unifiedinbox/internal/models"
)

var (
	// ErrNotConfigured is returned by FetchMessages when the vendor
	// credentials are absent. Sync treats it as "skip", not as a failure.
	ErrNotConfigured = errors.New("channel not configured")

	// ErrInlineMedia rejects data: URIs and base64 payloads, which every
	// supported vendor refuses.
	ErrInlineMedia = errors.New("media attachments must be public http(s) URLs; inline data or base64 payloads are not supported")

	ErrInvalidMediaURL = errors.New("invalid media URL: must be a public http(s) URL")
)

// InboundMessage is the vendor-neutral shape adapters and webhooks produce.
//
// SenderID identifies the external party: the sender of an inbound message,
// or the recipient of an outbound one found in vendor history.
type InboundMessage struct {
	ExternalID   string
	SenderID     string
	SenderName   string
	Text         string
	MediaURLs    []string
	Timestamp    time.Time
	VendorStatus string
	Direction    models.Direction
	Metadata     models.Metadata
}

// SendParams is identical for every channel. Subject and ReplyTo are only
// meaningful for email.
type SendParams struct {
	To        string
	Content   string
	MediaURLs []string
	Subject   string
	ReplyTo   string
}

type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func Failed(msg string) SendResult {
	return SendResult{Success: false, Error: msg}
}

func Sent(messageID string) SendResult {
	return SendResult{Success: true, MessageID: messageID}
}

// Adapter is implemented once per channel.
//
// FetchMessages pages through the vendor history up to limit items. It
// returns ErrNotConfigured without credentials and never touches the store.
// Send never returns an error: vendor and network failures come back as
// SendResult{Success: false}.
type Adapter interface {
	Channel() models.Channel
	Configured() bool
	FetchMessages(ctx context.Context, limit int) ([]InboundMessage, error)
	Send(ctx context.Context, p SendParams) SendResult
}

// Caller places text-to-speech voice calls.
type Caller interface {
	Configured() bool
	Call(ctx context.Context, to, text string) SendResult
}
