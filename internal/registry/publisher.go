package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher broadcasts settled market resolutions over NATS JetStream so
// downstream consumers (market registry, frontends) learn the outcome
// without polling our database. Subjects: range.registry.resolved.{market_id}
type Publisher struct {
	js     jetstream.JetStream
	logger zerolog.Logger
}

// resolvedMessage is the wire payload for a resolution broadcast.
type resolvedMessage struct {
	MarketID      string    `json:"market_id"`
	ResolvedValue int64     `json:"resolved_value"`
	SettledAt     time.Time `json:"settled_at"`
}

func NewPublisher(js jetstream.JetStream, logger zerolog.Logger) *Publisher {
	return &Publisher{js: js, logger: logger}
}

// NotifyResolved publishes the resolution. Best-effort by contract: callers
// log and move on when this fails.
func (p *Publisher) NotifyResolved(ctx context.Context, marketID string, resolvedValue int64) error {
	data, err := json.Marshal(resolvedMessage{
		MarketID:      marketID,
		ResolvedValue: resolvedValue,
		SettledAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal resolution message: %w", err)
	}

	subject := fmt.Sprintf("range.registry.resolved.%s", marketID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug().Str("market", marketID).Int64("resolved_value", resolvedValue).
		Msg("resolution broadcast")
	return nil
}

// EnsureStream creates the registry broadcast stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "RANGE_REGISTRY",
		Subjects:  []string{"range.registry.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create registry stream: %w", err)
	}
	return nil
}

// Connect establishes a NATS connection and returns a JetStream context.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
