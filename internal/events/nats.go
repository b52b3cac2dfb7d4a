package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSPublisher mirrors room events onto a NATS subject per room, so the
// surrounding application can fan them out to websocket gateways on other
// hosts. Subjects are "<prefix>.<roomID>.execution".
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the given NATS URL.
func NewNATSPublisher(url, subjectPrefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("collabquest-execution-engine"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	if subjectPrefix == "" {
		subjectPrefix = "room"
	}
	log.Info().Str("url", url).Msg("connected to NATS")
	return &NATSPublisher{nc: nc, prefix: subjectPrefix}, nil
}

func (p *NATSPublisher) Publish(roomID string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", string(ev.Type)).Msg("marshalling room event")
		return
	}

	subject := fmt.Sprintf("%s.%s.execution", p.prefix, roomID)
	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("publishing room event to NATS")
	}
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("draining NATS connection")
	}
}
