package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/config"
)

// IMAPConnector reads an IMAP mailbox by UID. The mailbox is selected
// read-only and bodies are fetched with BODY.PEEK[], so the server state is
// untouched unless the inbox sets mark_seen.
type IMAPConnector struct {
	logger    *slog.Logger
	dialer    *net.Dialer
	tlsConfig *tls.Config
	now       func() time.Time
}

func NewIMAPConnector(logger *slog.Logger) *IMAPConnector {
	return &IMAPConnector{
		logger: logger,
		dialer: &net.Dialer{Timeout: 30 * time.Second},
		now:    time.Now,
	}
}

func (c *IMAPConnector) Fetch(ctx context.Context, inbox config.Inbox, cursor string) (Batch, error) {
	const op = "mailbox.IMAP.Fetch"

	client, err := c.connect(ctx, inbox)
	if err != nil {
		return Batch{}, err
	}
	defer client.Close()

	if err := client.Login(inbox.Username, inbox.Password).Wait(); err != nil {
		return Batch{}, apperr.Connection(op, fmt.Errorf("login as %s: %w", inbox.Username, err))
	}
	defer func() {
		if err := client.Logout().Wait(); err != nil {
			c.logger.Debug("imap logout failed", "inbox", inbox.ID, "error", err)
		}
	}()

	selected, err := client.Select(inbox.Mailbox, &imap.SelectOptions{ReadOnly: !inbox.MarkSeen}).Wait()
	if err != nil {
		return Batch{}, classifyIMAPError(ctx, op, fmt.Errorf("select %s: %w", inbox.Mailbox, err))
	}

	validity, lastUID, ok := parseIMAPCursor(cursor)
	criteria := &imap.SearchCriteria{}
	if ok && validity == selected.UIDValidity {
		var uidSet imap.UIDSet
		uidSet.AddRange(imap.UID(lastUID+1), 0)
		criteria.UID = []imap.UIDSet{uidSet}
	} else {
		if ok {
			c.logger.Warn("uidvalidity changed, restarting from backfill window",
				"inbox", inbox.ID, "previous", validity, "current", selected.UIDValidity)
		}
		lastUID = 0
		criteria.Since = backfillSince(c.now(), inbox)
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return Batch{}, classifyIMAPError(ctx, op, fmt.Errorf("search: %w", err))
	}

	// "n:*" always matches the highest UID, even when it is below n.
	var uids []imap.UID
	for _, uid := range searchData.AllUIDs() {
		if uint32(uid) > lastUID {
			uids = append(uids, uid)
		}
	}
	if len(uids) == 0 {
		return Batch{Cursor: cursor}, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit := limitFor(inbox); len(uids) > limit {
		uids = uids[:limit]
	}

	section := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	})
	buffers, err := fetchCmd.Collect()
	if err != nil {
		return Batch{}, classifyIMAPError(ctx, op, fmt.Errorf("fetch: %w", err))
	}
	sort.Slice(buffers, func(i, j int) bool { return buffers[i].UID < buffers[j].UID })

	batch := Batch{Messages: make([]RawMessage, 0, len(buffers))}
	var highest uint32
	for _, buf := range buffers {
		raw := buf.FindBodySection(section)
		if raw == nil {
			return Batch{}, apperr.Protocol(op, fmt.Errorf("uid %d: server returned no body", buf.UID))
		}
		batch.Messages = append(batch.Messages, RawMessage{
			UID:          strconv.FormatUint(uint64(buf.UID), 10),
			Raw:          raw,
			InternalDate: buf.InternalDate,
		})
		if uint32(buf.UID) > highest {
			highest = uint32(buf.UID)
		}
	}
	if highest == 0 {
		return Batch{Cursor: cursor}, nil
	}
	batch.Cursor = formatIMAPCursor(selected.UIDValidity, highest)

	if inbox.MarkSeen {
		err := client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil).Close()
		if err != nil {
			return Batch{}, classifyIMAPError(ctx, op, fmt.Errorf("mark seen: %w", err))
		}
	}

	return batch, nil
}

// connect dials the server and ties the connection to ctx: the context
// deadline becomes the socket deadline and cancellation closes the socket.
func (c *IMAPConnector) connect(ctx context.Context, inbox config.Inbox) (*imapclient.Client, error) {
	const op = "mailbox.IMAP.connect"

	addr := net.JoinHostPort(inbox.Host, strconv.Itoa(inbox.Port))
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apperr.Connection(op, fmt.Errorf("dial %s: %w", addr, err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	tlsConfig := c.tlsConfigFor(inbox.Host)
	var client *imapclient.Client
	switch inbox.TLS {
	case config.TLSStart:
		client, err = imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: tlsConfig})
		if err != nil {
			stop()
			_ = conn.Close()
			return nil, apperr.Connection(op, fmt.Errorf("starttls %s: %w", addr, err))
		}
	case config.TLSNone:
		client = imapclient.New(conn, nil)
	default:
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			stop()
			_ = conn.Close()
			return nil, apperr.Connection(op, fmt.Errorf("tls handshake %s: %w", addr, err))
		}
		client = imapclient.New(tlsConn, nil)
	}

	if err := client.WaitGreeting(); err != nil {
		stop()
		_ = client.Close()
		return nil, classifyIMAPError(ctx, op, fmt.Errorf("greeting from %s: %w", addr, err))
	}
	return client, nil
}

func (c *IMAPConnector) tlsConfigFor(host string) *tls.Config {
	if c.tlsConfig != nil {
		cfg := c.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// classifyIMAPError separates transport failures from the server answering
// NO or BAD or otherwise misbehaving.
func classifyIMAPError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return apperr.Connection(op, fmt.Errorf("%w: %w", ctx.Err(), err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, net.ErrClosed) {
		return apperr.Connection(op, err)
	}
	return apperr.Protocol(op, err)
}
