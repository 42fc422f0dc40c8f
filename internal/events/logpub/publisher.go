// Package logpub is an EventPublisher that writes events to the log.
// Used when no Kafka brokers are configured.
package logpub

import (
	"context"
	"encoding/json"

	"github.com/finledger/finledger/internal/common"
	"github.com/finledger/finledger/internal/interfaces"
)

// Publisher logs each event at debug level.
type Publisher struct {
	log *common.Logger
}

// NewPublisher creates a log-backed publisher.
func NewPublisher(log *common.Logger) *Publisher {
	if log == nil {
		log = common.NewSilentLogger()
	}
	return &Publisher{log: log}
}

// Publish logs the event.
func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.log.Debug().Str("topic", topic).RawJSON("event", data).Msg("ledger event")
	return nil
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
