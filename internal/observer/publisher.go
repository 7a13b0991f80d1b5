package observer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/heic-to-jpeg/internal/events"
)

const (
	// NatsConnectTimeoutSeconds defines the timeout for NATS connection attempts.
	NatsConnectTimeoutSeconds = 10
	// NatsMaxReconnectAttempts defines the maximum number of reconnect attempts for NATS.
	NatsMaxReconnectAttempts = 5
)

// Connection is the part of *nats.Conn the publisher needs.
type Connection interface {
	Publish(subject string, data []byte) error
}

// Connect opens the NATS connection used by the publisher.
func Connect(natsURL string, log *logger.Logger) (*nats.Conn, error) {
	natsConn, err := nats.Connect(
		natsURL,
		nats.Name("heic-to-jpeg"),
		nats.Timeout(NatsConnectTimeoutSeconds*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(NatsMaxReconnectAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info("Connected to NATS server at %s", natsURL)

	return natsConn, nil
}

// Publisher sends every event as a JSON envelope on "{prefix}.{kind}".
// Publish failures are logged and never interrupt the conversion.
type Publisher struct {
	connection    Connection
	logger        *logger.Logger
	now           func() time.Time
	runID         string
	subjectPrefix string
	failures      int
}

func NewPublisher(connection Connection, runID, subjectPrefix string, log *logger.Logger) *Publisher {
	return &Publisher{
		connection:    connection,
		logger:        log,
		now:           time.Now,
		runID:         runID,
		subjectPrefix: subjectPrefix,
		failures:      0,
	}
}

// Subject returns the subject an event of kind is published on.
func (p *Publisher) Subject(kind events.Kind) string {
	return p.subjectPrefix + "." + string(kind)
}

// Failures returns how many events could not be published.
func (p *Publisher) Failures() int {
	return p.failures
}

func (p *Publisher) Observe(event events.Event) {
	err := p.publish(event)
	if err != nil {
		p.failures++
		p.logger.Error("Failed to publish %s event for run %s: %v", event.Kind(), p.runID, err)
	}
}

func (p *Publisher) publish(event events.Event) error {
	envelope, err := events.NewEnvelope(p.runID, event, p.now().UTC())
	if err != nil {
		return err
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	err = p.connection.Publish(p.Subject(event.Kind()), data)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.Subject(event.Kind()), err)
	}

	return nil
}
