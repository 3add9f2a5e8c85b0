package auth

import (
	"context"
	"sync"
)

// LogMailer writes outgoing messages to a Logger. It stands in for a
// delivery provider in development and tests.
type LogMailer struct {
	logger Logger
	mu     sync.Mutex
	sent   []SentMail
}

// SentMail is a message captured by LogMailer
type SentMail struct {
	Kind string
	To   string
	Link string
}

func NewLogMailer(logger Logger) *LogMailer {
	return &LogMailer{logger: normalizeLogger(logger)}
}

func (m *LogMailer) SendVerificationEmail(_ context.Context, to, name, link string) error {
	m.logger.Info("sending verification email", "to", to, "name", name, "link", link)
	m.record(SentMail{Kind: "verification", To: to, Link: link})
	return nil
}

func (m *LogMailer) SendPasswordResetEmail(_ context.Context, to, link string) error {
	m.logger.Info("sending password reset email", "to", to, "link", link)
	m.record(SentMail{Kind: "password_reset", To: to, Link: link})
	return nil
}

func (m *LogMailer) record(mail SentMail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
}

// Sent returns a copy of the captured messages
func (m *LogMailer) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMail, len(m.sent))
	copy(out, m.sent)
	return out
}
