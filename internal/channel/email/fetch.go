package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"
)

// Fetched is one mailbox message with its UID.
type Fetched struct {
	UID    uint32
	Parsed *Parsed
}

// Fetcher reads the most recent messages of a mailbox.
type Fetcher interface {
	Fetch(ctx context.Context, limit int) ([]Fetched, error)
}

type IMAPFetcher struct {
	addr     string
	username string
	password string
	insecure bool
	logger   *zap.Logger
}

func NewIMAPFetcher(host string, port int, username, password string, insecure bool, logger *zap.Logger) *IMAPFetcher {
	return &IMAPFetcher{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		username: username,
		password: password,
		insecure: insecure,
		logger:   logger,
	}
}

// Fetch reads the last limit messages of INBOX without marking them seen.
// A message that fails to parse is logged and skipped.
func (f *IMAPFetcher) Fetch(ctx context.Context, limit int) ([]Fetched, error) {
	host, _, _ := net.SplitHostPort(f.addr)
	c, err := imapclient.DialTLS(f.addr, &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: host, InsecureSkipVerify: f.insecure},
	})
	if err != nil {
		return nil, fmt.Errorf("dial imap: %w", err)
	}
	defer c.Close()

	// The client has no context support; closing the connection unblocks
	// any pending command.
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if err := c.Login(f.username, f.password).Wait(); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	mbox, err := c.Select("INBOX", &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("select inbox: %w", err)
	}
	if mbox.NumMessages == 0 {
		return nil, nil
	}

	first := uint32(1)
	if limit > 0 && mbox.NumMessages > uint32(limit) {
		first = mbox.NumMessages - uint32(limit) + 1
	}
	var seq imap.SeqSet
	seq.AddRange(first, mbox.NumMessages)

	section := &imap.FetchItemBodySection{Peek: true}
	msgs, err := c.Fetch(seq, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	out := make([]Fetched, 0, len(msgs))
	for _, m := range msgs {
		raw := m.FindBodySection(section)
		if raw == nil {
			continue
		}
		parsed, err := Parse(bytes.NewReader(raw))
		if err != nil {
			f.logger.Warn("skip unparsable email", zap.Uint32("uid", uint32(m.UID)), zap.Error(err))
			continue
		}
		out = append(out, Fetched{UID: uint32(m.UID), Parsed: parsed})
	}

	if err := c.Logout().Wait(); err != nil {
		f.logger.Debug("imap logout", zap.Error(err))
	}
	return out, nil
}
