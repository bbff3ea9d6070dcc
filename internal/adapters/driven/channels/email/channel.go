// Package email implements the EMAIL intake channel over the Gmail API.
// Each poll lists matching messages and emits one intake event per
// attachment; message bodies without attachments are ingested as plain
// text so classification still sees them.
package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
	"github.com/custodia-labs/docdispatch/internal/logger"
)

// pageSize caps how many message IDs one poll considers.
const pageSize = 50

var _ driven.Channel = (*Channel)(nil)

// messagesAPI is the slice of the Gmail client the channel uses, kept
// narrow so tests can stub it.
type messagesAPI interface {
	list(ctx context.Context, query string, labelIDs []string, max int64) ([]*gmail.Message, error)
	get(ctx context.Context, id string) (*gmail.Message, error)
	attachment(ctx context.Context, msgID, attachmentID string) (*gmail.MessagePartBody, error)
	profile(ctx context.Context) error
}

// Options configures the email channel.
type Options struct {
	// Query is a Gmail search query selecting which messages to ingest.
	Query string

	// LabelIDs restricts ingestion to messages carrying any of these
	// labels. Empty means no label restriction.
	LabelIDs []string

	// TokenFile is the path of the OAuth token JSON.
	TokenFile string

	// RequestsPerSecond and Burst bound Gmail API usage.
	RequestsPerSecond float64
	Burst             int
}

// Channel ingests email attachments from a Gmail account.
type Channel struct {
	api      messagesAPI
	query    string
	labelIDs []string
	limiter  *rateLimiter

	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates an email channel authenticated from the token file.
func New(ctx context.Context, opts Options) (*Channel, error) {
	token, err := loadToken(opts.TokenFile)
	if err != nil {
		return nil, err
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	c := newWithAPI(&gmailAPI{svc: svc}, opts)
	return c, nil
}

func newWithAPI(api messagesAPI, opts Options) *Channel {
	return &Channel{
		api:      api,
		query:    opts.Query,
		labelIDs: append([]string(nil), opts.LabelIDs...),
		limiter:  newRateLimiter(opts.RequestsPerSecond, opts.Burst),
		seen:     make(map[string]struct{}),
	}
}

// Name implements driven.Channel.
func (c *Channel) Name() domain.SourceChannel {
	return domain.ChannelEmail
}

// Check verifies the credentials resolve to a usable account.
func (c *Channel) Check(ctx context.Context) error {
	if err := c.limiter.wait(ctx); err != nil {
		return err
	}
	return c.api.profile(ctx)
}

// Poll lists matching messages and emits events for attachments and
// bodies of messages not seen before.
func (c *Channel) Poll(ctx context.Context) ([]domain.IntakeEvent, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}
	msgs, err := c.api.list(ctx, c.query, c.labelIDs, pageSize)
	if err != nil {
		c.noteRateLimit(err)
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	var events []domain.IntakeEvent
	for _, stub := range msgs {
		if c.alreadySeen(stub.Id) {
			continue
		}

		if err := c.limiter.wait(ctx); err != nil {
			return events, err
		}
		msg, err := c.api.get(ctx, stub.Id)
		if err != nil {
			c.noteRateLimit(err)
			logger.Warn("fetching message %s: %v", stub.Id, err)
			continue
		}

		msgEvents, err := c.messageEvents(ctx, msg)
		if err != nil {
			logger.Warn("reading message %s: %v", stub.Id, err)
			continue
		}
		events = append(events, msgEvents...)
		c.markSeen(stub.Id)
	}
	return events, nil
}

// messageEvents converts one message into intake events: one per
// attachment, or the text body when there are none.
func (c *Channel) messageEvents(ctx context.Context, msg *gmail.Message) ([]domain.IntakeEvent, error) {
	received := time.UnixMilli(msg.InternalDate).UTC()
	meta := map[string]string{
		"message_id": msg.Id,
		"thread_id":  msg.ThreadId,
		"subject":    headerValue(msg, "Subject"),
		"from":       headerValue(msg, "From"),
	}

	var events []domain.IntakeEvent
	for _, part := range attachmentParts(msg.Payload) {
		data, err := c.partData(ctx, msg.Id, part)
		if err != nil {
			return nil, err
		}
		events = append(events, intakeEvent(part.Filename, data, received, meta))
	}
	if len(events) > 0 {
		return events, nil
	}

	// No attachments: ingest the text body under a synthetic name so
	// the message itself still flows through classification.
	body := textBody(msg.Payload)
	if body == "" {
		return nil, nil
	}
	name := headerValue(msg, "Subject")
	if name == "" {
		name = "message-" + msg.Id
	}
	return []domain.IntakeEvent{intakeEvent(name+".txt", []byte(body), received, meta)}, nil
}

// partData resolves an attachment part's bytes, fetching the attachment
// body when it is not inlined.
func (c *Channel) partData(ctx context.Context, msgID string, part *gmail.MessagePart) ([]byte, error) {
	if part.Body == nil {
		return nil, fmt.Errorf("attachment %s has no body", part.Filename)
	}
	if part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}

	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}
	body, err := c.api.attachment(ctx, msgID, part.Body.AttachmentId)
	if err != nil {
		c.noteRateLimit(err)
		return nil, fmt.Errorf("fetching attachment %s: %w", part.Filename, err)
	}
	return decodeBody(body.Data)
}

func (c *Channel) alreadySeen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[id]
	return ok
}

func (c *Channel) markSeen(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[id] = struct{}{}
}

// noteRateLimit opens the limiter's backoff window on 429 responses.
func (c *Channel) noteRateLimit(err error) {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		retryAfter := 0
		if v := apiErr.Header.Get("Retry-After"); v != "" {
			retryAfter, _ = strconv.Atoi(v)
		}
		c.limiter.recordRateLimitError(retryAfter)
	}
}

func intakeEvent(name string, data []byte, received time.Time, meta map[string]string) domain.IntakeEvent {
	eventMeta := make(map[string]string, len(meta))
	for k, v := range meta {
		eventMeta[k] = v
	}
	return domain.IntakeEvent{
		SourceChannel:   domain.ChannelEmail,
		OriginalName:    name,
		SizeBytes:       int64(len(data)),
		ReceivedAt:      received,
		ChannelMetadata: eventMeta,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// attachmentParts collects every part in the payload tree that carries a
// filename, depth first.
func attachmentParts(payload *gmail.MessagePart) []*gmail.MessagePart {
	if payload == nil {
		return nil
	}
	var parts []*gmail.MessagePart
	if payload.Filename != "" {
		parts = append(parts, payload)
	}
	for _, child := range payload.Parts {
		parts = append(parts, attachmentParts(child)...)
	}
	return parts
}

// textBody finds the first text/plain part and decodes it.
func textBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if payload.MimeType == "text/plain" && payload.Filename == "" &&
		payload.Body != nil && payload.Body.Data != "" {
		if data, err := decodeBody(payload.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, child := range payload.Parts {
		if body := textBody(child); body != "" {
			return body
		}
	}
	return ""
}

func headerValue(msg *gmail.Message, name string) string {
	if msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// decodeBody decodes Gmail's base64url message data, with and without
// padding.
func decodeBody(data string) ([]byte, error) {
	if out, err := base64.URLEncoding.DecodeString(data); err == nil {
		return out, nil
	}
	out, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decoding message data: %w", err)
	}
	return out, nil
}

// loadToken reads an oauth2 token from its JSON file.
func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	return &token, nil
}

// gmailAPI is the production messagesAPI over *gmail.Service.
type gmailAPI struct {
	svc *gmail.Service
}

func (g *gmailAPI) list(ctx context.Context, query string, labelIDs []string, max int64) ([]*gmail.Message, error) {
	call := g.svc.Users.Messages.List("me").MaxResults(max).Context(ctx)
	if query != "" {
		call = call.Q(query)
	}
	if len(labelIDs) > 0 {
		call = call.LabelIds(labelIDs...)
	}
	res, err := call.Do()
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

func (g *gmailAPI) get(ctx context.Context, id string) (*gmail.Message, error) {
	return g.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
}

func (g *gmailAPI) attachment(ctx context.Context, msgID, attachmentID string) (*gmail.MessagePartBody, error) {
	return g.svc.Users.Messages.Attachments.Get("me", msgID, attachmentID).Context(ctx).Do()
}

func (g *gmailAPI) profile(ctx context.Context) error {
	_, err := g.svc.Users.GetProfile("me").Context(ctx).Do()
	return err
}
