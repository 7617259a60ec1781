package shared

import (
	"encoding/json"

	"panic-button/data"

	nats "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// messageConn is the part of the broker connection the publisher uses.
type messageConn interface {
	Publish(subject string, payload []byte) error
	Close()
}

// Publisher sends alert records to other services through the message broker.
type Publisher struct {
	address string
	conn    messageConn
	logger  logrus.FieldLogger
	source  chan data.Measurement
	topic   string
	stop    chan chan struct{}
	exited  chan struct{}
}

// Connect establishes the connection with the message broker.
func (publisher *Publisher) Connect() error {
	conn, err := nats.Connect(publisher.address)
	publisher.handleConnectionError(err)

	if err != nil {
		return err
	}

	publisher.conn = conn

	return nil
}

// GetChannel returns a channel to send data to other services.
func (publisher *Publisher) GetChannel() chan<- data.Measurement {
	return publisher.source
}

// Start starts listening for incoming records to publish them.
func (publisher *Publisher) Start() {
	publisher.exited = make(chan struct{})

	go func() {
		defer close(publisher.exited)

		for {
			select {
			case measurement := <-publisher.source:
				publisher.Publish(measurement)

			case done := <-publisher.stop:
				close(done)

				return
			}
		}
	}()
}

// Publish serializes the measurement to JSON and sends it to the topic.
func (publisher *Publisher) Publish(measurement data.Measurement) error {
	payload, err := json.Marshal(measurement)
	publisher.handleJSONMarshalError(err)

	if err != nil {
		return err
	}

	err = publisher.conn.Publish(publisher.topic, payload)
	publisher.handlePublishError(err)

	return err
}

// Stop waits for the record being published and stops publishing.
// The channel is left open, records sent afterwards are never taken.
func (publisher *Publisher) Stop() {
	if publisher.exited == nil {
		return
	}

	done := make(chan struct{})

	select {
	case publisher.stop <- done:
		<-done

	case <-publisher.exited:
	}
}

// CloseConnection closes the connection with the message broker.
func (publisher *Publisher) CloseConnection() {
	if publisher.conn != nil {
		publisher.conn.Close()
	}
}

// NewPublisher creates a new publisher for the topic.
func NewPublisher(address, topic string, logger logrus.FieldLogger) *Publisher {
	return &Publisher{
		address: address,
		topic:   topic,
		logger:  logger,
		source:  make(chan data.Measurement),
		stop:    make(chan chan struct{}),
	}
}

func (publisher *Publisher) handleConnectionError(err error) {
	if err != nil {
		publisher.logger.WithError(err).Error("Couldn't connect to the NATS message broking service")
	}
}

func (publisher *Publisher) handleJSONMarshalError(err error) {
	if err != nil {
		publisher.logger.WithError(err).Error("Couldn't serialize the data to JSON")
	}
}

func (publisher *Publisher) handlePublishError(err error) {
	if err != nil {
		publisher.logger.WithError(err).Error("Couldn't send the message to subscribers")
	}
}
