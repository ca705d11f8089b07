package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/brojonat/owfn/service/chat"
	"github.com/brojonat/owfn/service/metrics"
	"github.com/brojonat/owfn/service/upstream"
)

// DefaultAPIURL is the Resend API base.
const DefaultAPIURL = "https://api.resend.com"

// Email is one outgoing message.
type Email struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Sender delivers an Email and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, e Email) (string, error)
}

// Resend sends mail through the Resend HTTP API.
type Resend struct {
	apiKey  string
	baseURL string
	http    *upstream.Client
}

// NewResend creates a Resend sender. An empty baseURL uses DefaultAPIURL.
func NewResend(apiKey, baseURL string, httpClient *upstream.Client) *Resend {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Resend{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Configured reports whether an API key is present.
func (r *Resend) Configured() bool { return r.apiKey != "" }

// Send posts e to /emails.
func (r *Resend) Send(ctx context.Context, e Email) (string, error) {
	if !r.Configured() {
		return "", upstream.ErrNotConfigured
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.apiKey)

	var resp struct {
		ID string `json:"id"`
	}
	if err := r.http.PostJSON(ctx, r.baseURL+"/emails", "send_email", header, e, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Service renders and sends chat transcripts.
type Service struct {
	composer *Composer
	sender   Sender
	from     string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewService creates a transcript mailer sending as from.
func NewService(composer *Composer, sender Sender, from string, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{composer: composer, sender: sender, from: from, logger: logger, metrics: m}
}

// InvalidRecipientError is returned for an unusable recipient address.
type InvalidRecipientError struct {
	Address string
}

func (e *InvalidRecipientError) Error() string {
	return fmt.Sprintf("invalid recipient email %q", e.Address)
}

// ValidateRecipient checks that address is a single bare email address.
func ValidateRecipient(address string) error {
	addr, err := mail.ParseAddress(address)
	if err != nil || addr.Address != strings.TrimSpace(address) {
		return &InvalidRecipientError{Address: address}
	}
	return nil
}

// SendTranscript emails messages to recipient and returns the message id.
func (s *Service) SendTranscript(ctx context.Context, recipient string, messages []chat.Message, lang string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if err := ValidateRecipient(recipient); err != nil {
		return "", err
	}
	if err := chat.ValidateMessages(messages); err != nil {
		return "", err
	}

	subject, html, err := s.composer.Render(messages, lang)
	if err != nil {
		return "", err
	}

	id, err := s.sender.Send(ctx, Email{
		From:    s.from,
		To:      []string{recipient},
		Subject: subject,
		HTML:    html,
	})
	if s.metrics != nil {
		s.metrics.RecordEmailSent(err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to send transcript: %w", err)
	}

	s.logger.InfoContext(ctx, "transcript sent",
		"message_id", id,
		"messages", len(messages),
		"lang", lang,
	)
	return id, nil
}
