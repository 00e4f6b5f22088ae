package mail

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
	"golang.org/x/time/rate"
)

// Sender delivers a rendered email and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, email Email) (string, error)
}

// ResendSender sends through the Resend API, throttled to the account's
// request rate.
type ResendSender struct {
	client  *resend.Client
	limiter *rate.Limiter
}

// NewResendSender creates a sender allowing perSecond requests per second.
func NewResendSender(apiKey string, perSecond float64) *ResendSender {
	if perSecond <= 0 {
		perSecond = 2
	}
	return &ResendSender{
		client:  resend.NewClient(apiKey),
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (s *ResendSender) Send(ctx context.Context, email Email) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("mail rate limit: %w", err)
	}
	sent, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    email.From,
		To:      email.To,
		Subject: email.Subject,
		Html:    email.HTML,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return sent.Id, nil
}
