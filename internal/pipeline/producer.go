package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
)

// Producer is called by the voice session when a reply is complete.
type Producer struct {
	pub Publisher
	log zerolog.Logger
	now func() time.Time
}

func NewProducer(pub Publisher, logger zerolog.Logger) *Producer {
	return &Producer{
		pub: pub,
		log: logger.With().Str("component", "producer").Logger(),
		now: time.Now,
	}
}

// OnTranscriptComplete queues the transcript of one assistant reply.
func (p *Producer) OnTranscriptComplete(ctx context.Context, callID, transcript string, metadata map[string]any) error {
	return p.Publish(ctx, TranscriptEvent{
		CallID:       callID,
		ResponseType: ResponseTypeAI,
		Data: TranscriptData{
			RawText:   transcript,
			Timestamp: p.now().UTC().Format(time.RFC3339Nano),
		},
		Metadata: metadata,
	})
}

func (p *Producer) Publish(ctx context.Context, ev TranscriptEvent) error {
	ev.CallID = strings.TrimSpace(ev.CallID)
	if ev.CallID == "" {
		return fmt.Errorf("%w: call_id is required", apperr.ErrInvalid)
	}
	if ev.ResponseType == "" {
		ev.ResponseType = ResponseTypeAI
	}

	body, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encode transcript event: %w", err)
	}
	if err := p.pub.Publish(ctx, ev.Key(), body); err != nil {
		p.log.Error().Err(err).Str("call_id", ev.CallID).Msg("publish transcript event")
		return fmt.Errorf("%w: %v", apperr.ErrTransient, err)
	}

	p.log.Debug().Str("call_id", ev.CallID).Str("response_type", ev.ResponseType).Int("bytes", len(body)).Msg("transcript queued")
	return nil
}
