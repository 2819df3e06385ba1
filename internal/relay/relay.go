// Package relay republishes session results on Redis pub/sub so other
// processes can drive the same character.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/normanking/cortexpuppet/internal/mapper"
	"github.com/normanking/cortexpuppet/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config holds configuration for the Redis connection
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Message is the JSON payload published per frame.
type Message struct {
	Type        string         `json:"type"` // "result" or "no_face"
	SessionID   string         `json:"sessionId"`
	CharacterID string         `json:"characterId"`
	TemplateID  string         `json:"templateId,omitempty"`
	Seq         uint64         `json:"seq"`
	Result      *mapper.Result `json:"result,omitempty"`
}

// publisher is the slice of the go-redis client the relay needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher is a session sink that publishes each delivery on
// "<prefix>:<session id>".
type Publisher struct {
	client publisher
	closer func() error
	prefix string
	log    zerolog.Logger
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	p := newPublisher(rdb, cfg.Prefix, log)
	p.closer = rdb.Close
	log.Info().Str("addr", cfg.Addr).Str("prefix", cfg.Prefix).Msg("relay connected")
	return p, nil
}

func newPublisher(client publisher, prefix string, log zerolog.Logger) *Publisher {
	return &Publisher{client: client, prefix: prefix, log: log}
}

// Channel returns the pub/sub channel for a session.
func (p *Publisher) Channel(sessionID string) string {
	return p.prefix + ":" + sessionID
}

// Name implements session.Sink.
func (p *Publisher) Name() string { return "relay" }

// Deliver implements session.Sink.
func (p *Publisher) Deliver(ctx context.Context, d session.Delivery) error {
	payload, err := Encode(d)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.Channel(d.SessionID), payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

// Encode renders a delivery as a relay message.
func Encode(d session.Delivery) ([]byte, error) {
	msg := Message{
		Type:        "result",
		SessionID:   d.SessionID,
		CharacterID: d.CharacterID,
		TemplateID:  d.TemplateID,
		Seq:         d.Seq,
		Result:      d.Result,
	}
	if d.Result == nil {
		msg.Type = "no_face"
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode relay message: %w", err)
	}
	return b, nil
}
