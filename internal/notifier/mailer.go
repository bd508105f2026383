package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultMailerTimeout = 10 * time.Second

type mailerRequest struct {
	ToName   string `json:"to_name"`
	ToEmail  string `json:"to_email"`
	Subject  string `json:"subject"`
	Template string `json:"template"`

	Variables mailerVariables `json:"variables"`
}

type mailerVariables struct {
	DocumentTitle string `json:"document_title"`
	SigningURL    string `json:"signing_url"`
	SenderName    string `json:"sender_name"`
}

// MailerProvider delivers signature requests through a transactional
// mail REST endpoint. Template rendering happens on the mail service
// side; this process only supplies the variables.
type MailerProvider struct {
	client   *resty.Client
	endpoint string
	apiKey   string
}

func NewMailerProvider(endpoint, apiKey string) (*MailerProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultMailerTimeout)
	client.SetRetryCount(0)

	return NewMailerProviderWithClient(endpoint, apiKey, client)
}

func NewMailerProviderWithClient(endpoint, apiKey string, client *resty.Client) (*MailerProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("mailer endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid mailer endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultMailerTimeout)
	}
	client.SetRetryCount(0)

	return &MailerProvider{
		client:   client,
		endpoint: trimmedEndpoint,
		apiKey:   apiKey,
	}, nil
}

func (p *MailerProvider) SendSignatureRequest(ctx context.Context, req SignatureRequest) (*Response, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("mailer is not initialized")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signature request: %w", err)
	}

	reqBody := mailerRequest{
		ToName:   req.RecipientName,
		ToEmail:  req.RecipientEmail,
		Subject:  fmt.Sprintf("%s sent you a document to sign", req.SenderName),
		Template: "signature_request",
		Variables: mailerVariables{
			DocumentTitle: req.DocumentTitle,
			SigningURL:    req.SigningURL,
			SenderName:    req.SenderName,
		},
	}

	request := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody)
	if p.apiKey != "" {
		request.SetAuthToken(p.apiKey)
	}

	response, err := request.Post(p.endpoint)
	if err != nil {
		return nil, &DeliveryError{
			Message:   "mailer request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Response{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  mailerMessageID(response),
		}, nil
	}

	return nil, &DeliveryError{
		StatusCode: statusCode,
		Message:    mailerErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func mailerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("mailer returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func mailerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
