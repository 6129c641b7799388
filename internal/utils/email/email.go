package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/csmith1188/FormBank/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender mails the operator when a compensation write fails and local state
// needs manual reconciliation against the Formbar ledger. Sending is best
// effort and never retried.
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// Enabled reports whether an alert recipient is configured
func (s *Sender) Enabled() bool {
	return s.cfg.AlertEmail != "" && s.cfg.SMTPHost != ""
}

// SendReconciliationAlert notifies the operator about local state that could
// not be rolled back after a failed external step.
func (s *Sender) SendReconciliationAlert(subject, detail string) error {
	if !s.Enabled() {
		s.logger.Warnf("Reconciliation alert not sent (SMTP not configured): %s", subject)
		return nil
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{s.cfg.AlertEmail}
	e.Subject = fmt.Sprintf("FormBank reconciliation needed: %s", subject)

	body := fmt.Sprintf(
		"Manual reconciliation is required.\n\n"+
			"Time: %s\n"+
			"Detail: %s\n\n"+
			"Local ledger state and the Formbar ledger may have diverged.\n",
		time.Now().Format("2006-01-02 15:04:05"), detail,
	)
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send reconciliation alert: %v", err)
		return fmt.Errorf("failed to send reconciliation alert: %w", err)
	}

	s.logger.Infof("Reconciliation alert sent: %s", e.Subject)
	return nil
}
