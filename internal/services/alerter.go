package services

import (
	"context"

	"channel-gate/internal/config"
	"channel-gate/pkg/logging"
)

// Alerter notifies operators about conditions that need a human
type Alerter interface {
	Alert(ctx context.Context, subject, body string) error
}

// LogAlerter writes alerts to the error log only
type LogAlerter struct{}

// Alert logs subject and body
func (LogAlerter) Alert(_ context.Context, subject, body string) error {
	logging.Errorf("ALERT %s: %s", subject, body)
	return nil
}

// NewAlerter returns a Brevo email alerter when configured, else a LogAlerter
func NewAlerter(cfg *config.Config) Alerter {
	if !cfg.AlertsEnabled() {
		logging.Infof("Operator alerts go to the log only")
		return LogAlerter{}
	}
	logging.Infof("Operator alerts are emailed to %s", cfg.AlertEmail)
	return NewBrevoService(cfg.BrevoAPIKey, cfg.BrevoFromEmail, cfg.BrevoFromName, cfg.AlertEmail)
}
