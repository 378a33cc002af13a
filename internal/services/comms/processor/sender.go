package processor

import (
	"context"
	"fmt"
	"log"

	"github.com/classpulse/classpulse/internal/platform/id"
	"github.com/classpulse/classpulse/internal/services/comms/domain"
)

// LogSender is a development sender: it logs each send instead of calling a
// provider and fabricates a provider message ID. Production deployments wire
// real channel providers behind the domain.Sender interface.
type LogSender struct {
	newID func() (string, error)
}

// NewLogSender returns a logging sender.
func NewLogSender() *LogSender {
	return &LogSender{newID: id.NewID}
}

// Send logs the attempt and acknowledges it.
func (s *LogSender) Send(ctx context.Context, channel domain.Channel, address string, body string) (domain.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.SendResult{}, err
	}
	providerID, err := s.newID()
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("provider message id: %w", err)
	}
	log.Printf("send %s to %s (%d bytes)", channel, address, len(body))
	return domain.SendResult{ProviderMessageID: providerID}, nil
}

var _ domain.Sender = (*LogSender)(nil)
