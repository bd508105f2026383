package notifier

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
)

// SignatureRequest carries everything the recipient's signature-request
// notification needs. The signing URL embeds the recipient's token and
// must never be shared between recipients.
type SignatureRequest struct {
	RecipientName  string
	RecipientEmail string
	DocumentTitle  string
	SigningURL     string
	SenderName     string
}

func (r *SignatureRequest) Validate() error {
	if strings.TrimSpace(r.RecipientEmail) == "" {
		return fmt.Errorf("recipient email is required")
	}
	if _, err := mail.ParseAddress(r.RecipientEmail); err != nil {
		return fmt.Errorf("invalid recipient email %q: %w", r.RecipientEmail, err)
	}
	if strings.TrimSpace(r.SigningURL) == "" {
		return fmt.Errorf("signing url is required")
	}
	return nil
}

// Notifier is the outbound signature-request delivery port.
type Notifier interface {
	SendSignatureRequest(ctx context.Context, req SignatureRequest) (*Response, error)
}

// Response stores delivery call metadata for audit and persistence.
type Response struct {
	StatusCode int
	Body       string
	MessageID  string
}
