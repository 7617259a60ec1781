package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"panic-button/data"
	"panic-button/sos"
	"panic-button/web-server/model"

	"github.com/gorilla/websocket"
	"github.com/mssola/user_agent"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

var errSessionClosed = errors.New("the browser session is closed")

// session connects one browser page to its own SOS control.
// The page is the telemetry source: position and battery are asked for
// over the socket when the hold threshold is reached.
type session struct {
	id         string
	conn       *websocket.Conn
	writeMutex sync.Mutex
	control    *sos.Control
	fallback   data.DeviceInfo
	logger     logrus.FieldLogger

	mutex   sync.Mutex
	nextID  uint64
	pending map[uint64]chan model.ClientMessage
	last    model.ClientMessage
	done    chan struct{}
}

// run reads the page messages until the connection closes.
func (session *session) run() {
	defer session.close()

	for {
		var message model.ClientMessage

		err := session.conn.ReadJSON(&message)

		if err != nil {
			session.handleReadError(err)
			return
		}

		switch message.Type {
		case model.TypePress:
			session.control.Press()

		case model.TypeRelease:
			session.control.Release()

		case model.TypeTelemetry:
			session.deliver(message)

		default:
			session.logger.WithField("type", message.Type).Warn("Unknown message type")
		}
	}
}

// close cancels a pending press and wakes up a pending telemetry request.
// An alert already being submitted runs to completion.
func (session *session) close() {
	session.control.Release()
	close(session.done)
	session.conn.Close()
}

// CurrentPosition asks the page for its position.
func (session *session) CurrentPosition(ctx context.Context, request sos.LocationRequest) (sos.Fix, error) {
	session.mutex.Lock()
	session.nextID++
	id := session.nextID
	reply := make(chan model.ClientMessage, 1)
	session.pending[id] = reply
	session.mutex.Unlock()

	defer func() {
		session.mutex.Lock()
		delete(session.pending, id)
		session.mutex.Unlock()
	}()

	err := session.send(model.TelemetryRequest{
		Type:         model.TypeTelemetryRequest,
		ID:           id,
		HighAccuracy: request.HighAccuracy,
		TimeoutMs:    request.Timeout.Milliseconds(),
		MaximumAgeMs: request.MaximumAge.Milliseconds(),
	})

	if err != nil {
		return sos.Fix{}, &sos.Failure{Kind: sos.LocationError, Err: err}
	}

	select {
	case message := <-reply:
		return fixFromReply(message)

	case <-ctx.Done():
		return sos.Fix{}, ctx.Err()

	case <-session.done:
		return sos.Fix{}, &sos.Failure{Kind: sos.LocationError, Err: errSessionClosed}
	}
}

// BatteryLevel returns the battery reported with the last telemetry reply.
func (session *session) BatteryLevel(ctx context.Context) (float64, error) {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	if session.last.Battery == nil {
		return 0, fmt.Errorf("the browser doesn't report the battery level")
	}

	return *session.last.Battery, nil
}

// DeviceInfo prefers what the page reported and falls back to the upgrade request.
func (session *session) DeviceInfo() data.DeviceInfo {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	info := session.fallback

	if session.last.Platform != "" {
		info.Platform = session.last.Platform
	}

	if session.last.Version != "" {
		info.Version = session.last.Version
	}

	if session.last.UserAgent != "" {
		info.UserAgent = session.last.UserAgent
	}

	return info
}

// Notify shows the outcome of the gesture as a toast.
func (session *session) Notify(outcome sos.Outcome) {
	notification := model.Notification{
		Type:        model.TypeNotification,
		Level:       "success",
		Title:       "SOS Triggered!",
		Description: "Authorities have been notified.",
	}

	if !outcome.Succeeded() {
		notification.Level = "failure"
		notification.Title = "Failed to send SOS"
		notification.Description = "Please try again or contact emergency services directly."
		notification.FailureKind = string(outcome.Kind())
	}

	session.send(notification)
}

// observeTransition mirrors the control state on the page.
func (session *session) observeTransition(from, to sos.State) {
	session.send(model.StateMessage{
		Type:  model.TypeState,
		State: to.String(),
	})
}

func (session *session) deliver(message model.ClientMessage) {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	reply, ok := session.pending[message.ID]

	if !ok {
		session.logger.WithField("id", message.ID).Debug("Late telemetry reply dropped")
		return
	}

	session.last = message
	delete(session.pending, message.ID)
	reply <- message
}

func (session *session) send(message interface{}) error {
	session.writeMutex.Lock()
	defer session.writeMutex.Unlock()

	session.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := session.conn.WriteJSON(message)
	session.handleWriteError(err)

	return err
}

func fixFromReply(message model.ClientMessage) (sos.Fix, error) {
	if message.Error == "" && message.Code != 0 {
		return sos.Fix{}, positionError(message)
	}

	switch message.Error {
	case "":

	case model.LocationErrorUnavailable:
		return sos.Fix{}, sos.ErrLocationUnavailable

	case model.LocationErrorTimeout:
		return sos.Fix{}, sos.ErrLocationTimeout

	case model.LocationErrorDenied:
		return sos.Fix{}, sos.ErrLocationDenied

	default:
		return sos.Fix{}, &sos.Failure{Kind: sos.LocationError, Err: errors.New(message.Message)}
	}

	if message.Latitude == nil || message.Longitude == nil {
		return sos.Fix{}, &sos.Failure{Kind: sos.LocationError, Err: errors.New("the reply carries no position")}
	}

	return sos.Fix{
		Latitude:  *message.Latitude,
		Longitude: *message.Longitude,
		Accuracy:  message.Accuracy,
		Timestamp: time.Now().UTC(),
	}, nil
}

// positionError classifies a failed browser position read. An unavailable
// position is a sensor failure: only a browser without geolocation has no location.
func positionError(message model.ClientMessage) error {
	switch message.Code {
	case model.PositionPermissionDenied:
		return &sos.Failure{Kind: sos.LocationDenied, Err: errors.New(message.Message)}

	case model.PositionTimeout:
		return &sos.Failure{Kind: sos.LocationTimeout, Err: errors.New(message.Message)}
	}

	return &sos.Failure{Kind: sos.LocationError, Err: fmt.Errorf("position error %d: %s", message.Code, message.Message)}
}

// deviceFromUserAgent describes the device from the User-Agent header.
func deviceFromUserAgent(header string) data.DeviceInfo {
	ua := user_agent.New(header)
	browser, version := ua.Browser()

	platform := ua.Platform()

	if platform == "" {
		platform = ua.OS()
	}

	return data.DeviceInfo{
		Platform:  platform,
		Version:   fmt.Sprintf("%s %s (%s)", browser, version, ua.OS()),
		UserAgent: header,
	}
}

func (session *session) handleReadError(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		session.logger.WithError(err).Warn("The websocket connection was closed unexpectedly")
	}
}

func (session *session) handleWriteError(err error) {
	if err != nil {
		session.logger.WithError(err).Warn("Couldn't send the message to the page")
	}
}

func newSession(id string, conn *websocket.Conn, fallback data.DeviceInfo, logger logrus.FieldLogger) *session {
	return &session{
		id:       id,
		conn:     conn,
		fallback: fallback,
		logger:   logger,
		pending:  make(map[uint64]chan model.ClientMessage),
		done:     make(chan struct{}),
	}
}
