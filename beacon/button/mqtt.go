package button

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Event is a physical button edge.
type Event int

const (
	Press Event = iota
	Release
)

func (event Event) String() string {
	if event == Press {
		return "press"
	}

	return "release"
}

// Gesture receives the button edges.
type Gesture interface {
	Press() bool
	Release() bool
}

// Listener forwards button events published on an MQTT topic to the gesture.
type Listener struct {
	broker   string
	clientID string
	topic    string
	qos      byte
	gesture  Gesture
	client   mqtt.Client
	logger   logrus.FieldLogger
}

type buttonMessage struct {
	Event string `json:"event"`
}

// Connect connects to the broker. The topic is subscribed again on every reconnect.
func (listener *Listener) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(listener.broker).
		SetClientID(listener.clientID).
		SetOrderMatters(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		token := client.Subscribe(listener.topic, listener.qos, listener.handleMessage)
		token.Wait()
		listener.handleSubscriptionError(token.Error())

		if token.Error() == nil {
			listener.logger.WithField("topic", listener.topic).Info("Listening for the button")
		}
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		listener.logger.WithError(err).Warn("Lost the connection to the MQTT broker")
	}

	listener.client = mqtt.NewClient(opts)
	token := listener.client.Connect()
	token.Wait()
	listener.handleConnectionError(token.Error())

	return token.Error()
}

// CloseConnection disconnects from the broker.
func (listener *Listener) CloseConnection() {
	if listener.client != nil && listener.client.IsConnected() {
		listener.client.Disconnect(250)
	}
}

func (listener *Listener) handleMessage(_ mqtt.Client, message mqtt.Message) {
	event, err := ParseEvent(message.Payload())

	if err != nil {
		listener.logger.WithError(err).WithField("topic", message.Topic()).Warn("Unknown button event")
		return
	}

	listener.Dispatch(event)
}

// Dispatch hands the event to the gesture.
func (listener *Listener) Dispatch(event Event) {
	var accepted bool

	switch event {
	case Press:
		accepted = listener.gesture.Press()

	case Release:
		accepted = listener.gesture.Release()
	}

	listener.logger.WithFields(logrus.Fields{
		"event":    event,
		"accepted": accepted,
	}).Debug("Button event")
}

// ParseEvent reads a button event from a plain text payload
// ("press", "down", "1", "release", "up", "0") or a JSON object
// with the same values in its "event" field.
func ParseEvent(payload []byte) (Event, error) {
	payload = bytes.TrimSpace(payload)
	value := string(payload)

	if len(payload) > 0 && payload[0] == '{' {
		var message buttonMessage

		if err := json.Unmarshal(payload, &message); err != nil {
			return 0, fmt.Errorf("couldn't parse the button message: %w", err)
		}

		value = message.Event
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "press", "down", "1":
		return Press, nil

	case "release", "up", "0":
		return Release, nil
	}

	return 0, fmt.Errorf("unknown button event %q", value)
}

func (listener *Listener) handleConnectionError(err error) {
	if err != nil {
		listener.logger.WithError(err).Error("Couldn't connect to the MQTT broker")
	}
}

func (listener *Listener) handleSubscriptionError(err error) {
	if err != nil {
		listener.logger.WithError(err).Error("Couldn't subscribe to the button topic")
	}
}

// NewListener creates a listener for the button topic.
func NewListener(broker, clientID, topic string, qos byte, gesture Gesture, logger logrus.FieldLogger) *Listener {
	return &Listener{
		broker:   broker,
		clientID: clientID,
		topic:    topic,
		qos:      qos,
		gesture:  gesture,
		logger:   logger,
	}
}
