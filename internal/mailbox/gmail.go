package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/config"
)

const gmailCursorPrefix = "gmail"

var gmailScopes = []string{gmail.GmailReadonlyScope}

// GmailConnector reads a Gmail mailbox through the Gmail API. The cursor is
// the internal date, in milliseconds, and id of the last message returned.
type GmailConnector struct {
	logger *slog.Logger
	// newService is replaced in tests to point at a local server.
	newService func(ctx context.Context, inbox config.Inbox) (*gmail.Service, error)
	now        func() time.Time
}

func NewGmailConnector(logger *slog.Logger) *GmailConnector {
	c := &GmailConnector{logger: logger, now: time.Now}
	c.newService = c.oauthService
	return c
}

type gmailCandidate struct {
	id           string
	internalDate int64
}

func (c *GmailConnector) Fetch(ctx context.Context, inbox config.Inbox, cursor string) (Batch, error) {
	const op = "mailbox.Gmail.Fetch"

	svc, err := c.newService(ctx, inbox)
	if err != nil {
		return Batch{}, err
	}

	afterMillis, afterID, ok := parsePositionCursor(gmailCursorPrefix, cursor)
	if !ok {
		afterMillis, afterID = backfillSince(c.now(), inbox).UnixMilli(), ""
	}
	// after: has second granularity; the exact cut is on (internalDate, id).
	query := "after:" + strconv.FormatInt(afterMillis/1000-1, 10)

	var candidates []gmailCandidate
	pageToken := ""
	for {
		call := svc.Users.Messages.List("me").Q(query).MaxResults(500).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return Batch{}, classifyGmailError(ctx, op, fmt.Errorf("list messages: %w", err))
		}
		for _, m := range resp.Messages {
			meta, err := svc.Users.Messages.Get("me", m.Id).Format("minimal").Context(ctx).Do()
			if err != nil {
				return Batch{}, classifyGmailError(ctx, op, fmt.Errorf("get message %s: %w", m.Id, err))
			}
			if positionAfter(meta.InternalDate, m.Id, afterMillis, afterID) {
				candidates = append(candidates, gmailCandidate{id: m.Id, internalDate: meta.InternalDate})
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(candidates) == 0 {
		return Batch{Cursor: cursor}, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].internalDate != candidates[j].internalDate {
			return candidates[i].internalDate < candidates[j].internalDate
		}
		return candidates[i].id < candidates[j].id
	})
	if limit := limitFor(inbox); len(candidates) > limit {
		candidates = candidates[:limit]
	}

	batch := Batch{Messages: make([]RawMessage, 0, len(candidates))}
	for _, cand := range candidates {
		msg, err := svc.Users.Messages.Get("me", cand.id).Format("raw").Context(ctx).Do()
		if err != nil {
			return Batch{}, classifyGmailError(ctx, op, fmt.Errorf("get raw message %s: %w", cand.id, err))
		}
		raw, err := decodeGmailRaw(msg.Raw)
		if err != nil {
			return Batch{}, apperr.Protocol(op, fmt.Errorf("decode message %s: %w", cand.id, err))
		}
		batch.Messages = append(batch.Messages, RawMessage{
			UID:          cand.id,
			Raw:          raw,
			InternalDate: millisToTime(cand.internalDate),
		})
	}
	last := candidates[len(candidates)-1]
	batch.Cursor = formatPositionCursor(gmailCursorPrefix, last.internalDate, last.id)
	return batch, nil
}

// oauthService builds an authorized Gmail client from the inbox's OAuth
// client credentials and stored token. A refreshed token is written back.
func (c *GmailConnector) oauthService(ctx context.Context, inbox config.Inbox) (*gmail.Service, error) {
	const op = "mailbox.Gmail.auth"

	data, err := os.ReadFile(inbox.CredentialsFile)
	if err != nil {
		return nil, apperr.Connection(op, fmt.Errorf("read credentials from %s: %w", inbox.CredentialsFile, err))
	}
	oauthConfig, err := google.ConfigFromJSON(data, gmailScopes...)
	if err != nil {
		return nil, apperr.Connection(op, fmt.Errorf("parse credentials: %w", err))
	}

	token, err := loadToken(inbox.TokenFile)
	if err != nil {
		return nil, apperr.Connection(op, err)
	}

	ts := oauthConfig.TokenSource(ctx, token)
	fresh, err := ts.Token()
	if err != nil {
		return nil, apperr.Connection(op, fmt.Errorf("refresh token: %w", err))
	}
	if fresh.AccessToken != token.AccessToken {
		if err := saveToken(inbox.TokenFile, fresh); err != nil {
			c.logger.Warn("could not save refreshed gmail token", "inbox", inbox.ID, "error", err)
		}
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	if err != nil {
		return nil, apperr.Connection(op, fmt.Errorf("create gmail service: %w", err))
	}
	return svc, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token from %s: %w", path, err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", path, err)
	}
	return &token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func decodeGmailRaw(raw string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
}

func classifyGmailError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return apperr.Connection(op, fmt.Errorf("%w: %w", ctx.Err(), err))
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.Connection(op, err)
		}
		if apiErr.Code >= 500 {
			return apperr.Connection(op, err)
		}
		return apperr.Protocol(op, err)
	}
	var retrieveErr *oauth2.RetrieveError
	var netErr net.Error
	if errors.As(err, &retrieveErr) || errors.As(err, &netErr) {
		return apperr.Connection(op, err)
	}
	return apperr.Protocol(op, err)
}
