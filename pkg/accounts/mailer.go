package accounts

import (
	"context"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Mailer delivers account codes to their owners
type Mailer interface {
	SendVerification(ctx context.Context, email, name, code string) error
	SendPasswordReset(ctx context.Context, email, code string) error
}

// LogMailer writes codes to the structured log instead of sending mail.
// Use it in development or behind a log-shipping mail relay.
type LogMailer struct {
	logger *observability.Logger
}

// NewLogMailer creates a LogMailer. A nil logger uses the context logger.
func NewLogMailer(logger *observability.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) log(ctx context.Context) *observability.Logger {
	if m.logger != nil {
		return m.logger
	}
	return observability.FromContext(ctx)
}

func (m *LogMailer) SendVerification(ctx context.Context, email, name, code string) error {
	m.log(ctx).WithFields(map[string]interface{}{
		"to":   email,
		"name": name,
		"code": code,
	}).Info("Verification code issued")
	return nil
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, code string) error {
	m.log(ctx).WithFields(map[string]interface{}{
		"to":   email,
		"code": code,
	}).Info("Password reset code issued")
	return nil
}
