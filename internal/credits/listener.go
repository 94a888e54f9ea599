// Package credits consumes credit grants from the billing topic and applies
// them to user accounts through the ledger.
package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/observability"
	"github.com/litforge/bibliography-service/internal/repository"
)

// GrantIdempotencyKey derives the ledger idempotency key for one grant
// event. The billing topic is at-least-once, so redelivered events must map
// to the same key.
func GrantIdempotencyKey(eventID string) string {
	return fmt.Sprintf("credit:%s:grant", eventID)
}

// messageReader is the Kafka read surface used by the listener.
// Satisfied by *kafka.Reader.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Config holds the listener's Kafka settings.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the billing topic carrying credit.granted events.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// Listener consumes credit.granted events and applies them with AdjustCredits.
type Listener struct {
	reader  messageReader
	topic   string
	ledger  repository.LedgerRepository
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewListener creates a listener reading from the configured billing topic.
func NewListener(cfg Config, ledger repository.LedgerRepository, metrics *observability.Metrics, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newListener(reader, cfg.Topic, ledger, metrics, logger)
}

func newListener(reader messageReader, topic string, ledger repository.LedgerRepository, metrics *observability.Metrics, logger zerolog.Logger) *Listener {
	return &Listener{
		reader:  reader,
		topic:   topic,
		ledger:  ledger,
		metrics: metrics,
		logger:  logger.With().Str("component", "credits_listener").Logger(),
	}
}

// Run starts the consume loop. Blocks until the context is canceled; a
// failure handling one message never stops the loop.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Str("topic", l.topic).Msg("starting credits listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("credits listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received billing event")

		if err := l.handle(ctx, msg.Value); err != nil {
			if l.metrics != nil {
				l.metrics.RecordEventConsumeFailed(l.topic)
			}
			l.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to handle credit grant")
			continue
		}
		if l.metrics != nil {
			l.metrics.RecordEventConsumed(l.topic)
		}
	}
}

// handle applies one grant. The event-derived idempotency key makes
// redeliveries a no-op inside the ledger.
func (l *Listener) handle(ctx context.Context, raw []byte) error {
	var grant domain.CreditGrantPayload
	if err := json.Unmarshal(raw, &grant); err != nil {
		return fmt.Errorf("unmarshal credit grant: %w", err)
	}
	if grant.EventID == "" {
		return fmt.Errorf("credit grant has no event_id")
	}
	if grant.UserID == uuid.Nil {
		return fmt.Errorf("credit grant has no user_id")
	}
	if grant.Units <= 0 {
		return fmt.Errorf("credit grant units must be positive, got %d", grant.Units)
	}

	reason := grant.Reason
	if reason == "" {
		reason = domain.ReasonCreditGrant
	}
	balance, err := l.ledger.AdjustCredits(ctx, repository.AdjustParams{
		UserID:         grant.UserID,
		Delta:          grant.Units,
		Reason:         reason,
		IdempotencyKey: GrantIdempotencyKey(grant.EventID),
	})
	if err != nil {
		return fmt.Errorf("apply credit grant: %w", err)
	}
	if l.metrics != nil {
		l.metrics.RecordCreditsGranted(grant.Units)
	}

	l.logger.Info().
		Str("event_id", grant.EventID).
		Str("user_id", grant.UserID.String()).
		Int("units", grant.Units).
		Int("new_balance", balance).
		Msg("credit grant applied")
	return nil
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing credits listener")
	return l.reader.Close()
}
