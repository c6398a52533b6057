package mailingress

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

// ErrMessageGone marks a message that was deleted between the notification
// and the fetch; the ingress skips it without failing the batch.
var ErrMessageGone = errors.New("message no longer exists")

// Provider is the mail backend the ingress runs against.
type Provider interface {
	CurrentHistoryID(ctx context.Context) (uint64, error)
	MessagesAdded(ctx context.Context, sinceHistoryID uint64) (ids []string, maxHistoryID uint64, err error)
	FetchMessage(ctx context.Context, id string) (*domain.NormalizedMessage, error)
}

// GmailProvider implements Provider on the Gmail API.
type GmailProvider struct {
	svc    *gmail.Service
	userID string
}

// NewGmailProvider wraps an authenticated Gmail service.
func NewGmailProvider(svc *gmail.Service, userID string) *GmailProvider {
	if userID == "" {
		userID = "me"
	}
	return &GmailProvider{svc: svc, userID: userID}
}

// CurrentHistoryID returns the mailbox's present history position.
func (g *GmailProvider) CurrentHistoryID(ctx context.Context) (uint64, error) {
	profile, err := g.svc.Users.GetProfile(g.userID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get mailbox profile: %w", err)
	}
	return profile.HistoryId, nil
}

// MessagesAdded expands the history delta since a checkpoint into the new
// message ids, in delta order, along with the highest history id seen.
func (g *GmailProvider) MessagesAdded(ctx context.Context, sinceHistoryID uint64) ([]string, uint64, error) {
	var ids []string
	seen := map[string]bool{}
	maxID := sinceHistoryID

	call := g.svc.Users.History.List(g.userID).
		StartHistoryId(sinceHistoryID).
		HistoryTypes("messageAdded")
	err := call.Pages(ctx, func(page *gmail.ListHistoryResponse) error {
		if page.HistoryId > maxID {
			maxID = page.HistoryId
		}
		for _, h := range page.History {
			if h.Id > maxID {
				maxID = h.Id
			}
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				ids = append(ids, added.Message.Id)
			}
		}
		return nil
	})
	if err != nil {
		// A 404 here means the checkpoint is too old for Gmail's history
		// window; the caller restarts from the current position.
		if isNotFound(err) {
			return nil, 0, fmt.Errorf("history window expired: %w", err)
		}
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	return ids, maxID, nil
}

// FetchMessage downloads one message with headers, body text, and
// attachment bytes.
func (g *GmailProvider) FetchMessage(ctx context.Context, id string) (*domain.NormalizedMessage, error) {
	msg, err := g.svc.Users.Messages.Get(g.userID, id).Format("full").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, ErrMessageGone
		}
		return nil, fmt.Errorf("fetch message %s: %w", id, err)
	}

	nm := &domain.NormalizedMessage{
		ProviderID: msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	for _, h := range headersOf(msg.Payload) {
		switch strings.ToLower(h.Name) {
		case "subject":
			nm.Subject = h.Value
		case "from":
			nm.FromEmail, nm.FromName = parseFrom(h.Value)
		}
	}

	var bodyParts []string
	g.walkPart(ctx, id, msg.Payload, &bodyParts, &nm.Attachments)
	nm.BodyText = strings.TrimSpace(strings.Join(bodyParts, "\n"))
	return nm, nil
}

// walkPart recurses through the MIME tree collecting body text and
// downloading attachments. text/plain is preferred; HTML is stripped only
// when it is the sole body representation.
func (g *GmailProvider) walkPart(ctx context.Context, msgID string, part *gmail.MessagePart, body *[]string, atts *[]domain.Attachment) {
	if part == nil {
		return
	}

	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		data, err := g.downloadAttachment(ctx, msgID, part.Body.AttachmentId)
		if err != nil {
			logger.Warn("attachment download failed",
				"message_id", msgID, "filename", part.Filename, "error", err.Error())
			return
		}
		*atts = append(*atts, domain.Attachment{
			Filename: part.Filename,
			MIMEType: part.MimeType,
			Data:     data,
		})
		return
	}

	switch {
	case strings.HasPrefix(part.MimeType, "text/plain"):
		if text := decodeBody(part.Body); text != "" {
			*body = append(*body, text)
		}
	case strings.HasPrefix(part.MimeType, "text/html"):
		// multipart/alternative carries both; only fall back to HTML when
		// no plain part contributed yet.
		if len(*body) == 0 {
			if raw := decodeBody(part.Body); raw != "" {
				*body = append(*body, htmlToText(raw))
			}
		}
	}

	for _, child := range part.Parts {
		g.walkPart(ctx, msgID, child, body, atts)
	}
}

func (g *GmailProvider) downloadAttachment(ctx context.Context, msgID, attachmentID string) ([]byte, error) {
	att, err := g.svc.Users.Messages.Attachments.Get(g.userID, msgID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(att.Data, "="))
}

func headersOf(p *gmail.MessagePart) []*gmail.MessagePartHeader {
	if p == nil {
		return nil
	}
	return p.Headers
}

func decodeBody(b *gmail.MessagePartBody) string {
	if b == nil || b.Data == "" {
		return ""
	}
	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(b.Data, "="))
	if err != nil {
		return ""
	}
	return string(raw)
}

// parseFrom extracts the lowercased address and display name from an RFC
// 5322 From header. Unparseable headers fall back to the raw value.
func parseFrom(raw string) (email, name string) {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw)), ""
	}
	return strings.ToLower(addr.Address), addr.Name
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}
