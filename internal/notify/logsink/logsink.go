// Package logsink delivers patient alerts as structured log lines. It is the
// default sender when no external notification channel is configured.
package logsink

import (
	"context"

	"github.com/linnemanlabs/go-core/log"
)

// Sender writes each alert to the logger at warn level.
type Sender struct {
	logger log.Logger
}

// New creates a log sender.
func New(logger log.Logger) *Sender {
	if logger == nil {
		logger = log.Nop()
	}
	return &Sender{logger: logger.With("sender", "log")}
}

// Send logs message. It never fails.
func (s *Sender) Send(ctx context.Context, message string) error {
	s.logger.Warn(ctx, "patient alert", "message", message)
	return nil
}
