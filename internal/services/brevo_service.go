package services

import (
	"context"
	"fmt"
	"html"
	"strings"

	"channel-gate/pkg/logging"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// BrevoService sends operator alert emails through Brevo
type BrevoService struct {
	client    *brevo.APIClient
	FromEmail string
	FromName  string
	To        string
}

// NewBrevoService creates a new Brevo service instance
func NewBrevoService(apiKey, fromEmail, fromName, to string) *BrevoService {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	return &BrevoService{
		client:    brevo.NewAPIClient(cfg),
		FromEmail: fromEmail,
		FromName:  fromName,
		To:        to,
	}
}

// WithBasePath points the client at another API root
func (s *BrevoService) WithBasePath(basePath string) *BrevoService {
	s.client.ChangeBasePath(basePath)
	return s
}

// Alert emails subject and body to the operator address
func (s *BrevoService) Alert(ctx context.Context, subject, body string) error {
	htmlContent := fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head>
			<meta charset="UTF-8">
			<title>%s</title>
		</head>
		<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<div style="background-color: #f8f9fa; padding: 30px; border-radius: 10px;">
				<h1 style="color: #c0392b; margin-bottom: 20px;">%s</h1>
				<p style="color: #333; font-size: 15px; white-space: pre-wrap;">%s</p>
				<p style="color: #999; font-size: 12px; margin-top: 30px;">Sent by %s</p>
			</div>
		</body>
		</html>
	`, html.EscapeString(subject), html.EscapeString(subject), html.EscapeString(body), html.EscapeString(s.FromName))

	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  s.FromName,
			Email: s.FromEmail,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: s.To},
		},
		Subject:     "[" + s.FromName + "] " + subject,
		HtmlContent: strings.TrimSpace(htmlContent),
		TextContent: subject + "\n\n" + body,
	}

	_, resp, err := s.client.TransactionalEmailsApi.SendTransacEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	if resp != nil && resp.StatusCode != 200 && resp.StatusCode != 201 {
		return fmt.Errorf("brevo API error: status %d", resp.StatusCode)
	}

	logging.Infof("Alert email sent - to: %s, subject: %s", s.To, subject)
	return nil
}
