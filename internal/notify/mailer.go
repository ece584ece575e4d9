package notify

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"printshop-checkout/internal/domain"
)

type Mailer interface {
	SendPaymentConfirmation(ctx context.Context, order domain.Order) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type smtpMailer struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPMailer(cfg SMTPConfig) Mailer {
	return &smtpMailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (m *smtpMailer) SendPaymentConfirmation(ctx context.Context, order domain.Order) error {
	if order.CustomerEmail == "" {
		return nil
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", order.CustomerEmail)
	msg.SetHeader("Subject", fmt.Sprintf("Payment received for order %s", order.ID))
	msg.SetBody("text/plain", confirmationBody(order))

	done := make(chan error, 1)
	go func() { done <- m.dialer.DialAndSend(msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send confirmation email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func confirmationBody(order domain.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you! We received your payment of %s EUR for order %s.\n", order.Amount.StringFixed(2), order.ID)
	if order.PaidAt != nil {
		fmt.Fprintf(&b, "Paid at: %s\n", order.PaidAt.Format("2006-01-02 15:04"))
	}
	b.WriteString("Your order is now going to production. We will let you know when it ships.\n")
	return b.String()
}

type noopMailer struct{}

// NoopMailer is used when SMTP is not configured.
func NoopMailer() Mailer { return noopMailer{} }

func (noopMailer) SendPaymentConfirmation(context.Context, domain.Order) error { return nil }
