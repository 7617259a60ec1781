package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"panic-button/config"
	"panic-button/shared"
	"panic-button/sos"
	"panic-button/web-server/model"
	"panic-button/web-server/static"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// SOSController serves the panic button page and runs one SOS control
// per connected page.
type SOSController struct {
	controller
	ctx       context.Context
	cfg       *config.Config
	transport sos.AlertTransport
	notifier  sos.Notifier
	metrics   *shared.Metrics
	sessions  int64
	inFlight  int64

	mutex sync.Mutex
	pages map[*session]struct{}
}

// index sends the panic button page.
func (ctl *SOSController) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	ctl.sendData(w, static.Index)
}

// sosSocket is a Websocket handler exchanging gestures, telemetry and notifications with the page.
func (ctl *SOSController) sosSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	ctl.handleWebsocketUpgradeError(err)

	if err != nil {
		return
	}

	id := uuid.New().String()
	logger := ctl.logger.WithFields(logrus.Fields{
		"session":    id,
		"request_id": requestID(r.Context()),
	})

	session := newSession(id, conn, deviceFromUserAgent(r.UserAgent()), logger)

	telemetry := &sos.Telemetry{
		UserID:   ctl.cfg.UserID,
		Location: session,
		Battery:  session,
		Device:   session,
		Request:  ctl.locationRequest(),
		Logger:   logger,
	}

	// Submissions outlive the page connection.
	control := sos.NewControl(ctl.ctx, telemetry, ctl.transport,
		sos.Notifiers(session, ctl.notifier), logger)
	control.SetHoldThreshold(ctl.cfg.Gesture.HoldThreshold)
	control.OnTransition(session.observeTransition)
	control.OnTransition(ctl.trackInFlight)

	if ctl.metrics != nil {
		control.OnTransition(ctl.metrics.ObserveTransition)
	}

	session.control = control

	ctl.register(session)
	defer ctl.unregister(session)

	logger.Info("Panic button page connected")
	session.observeTransition(sos.Idle, sos.Idle)
	session.run()
	logger.Info("Panic button page disconnected")
}

// Close disconnects the pages and waits for the alerts being submitted
// until the context is done. Pending presses are cancelled.
func (ctl *SOSController) Close(ctx context.Context) error {
	ctl.mutex.Lock()

	for session := range ctl.pages {
		session.conn.Close()
	}

	ctl.mutex.Unlock()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for atomic.LoadInt64(&ctl.inFlight) > 0 {
		select {
		case <-ticker.C:

		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (ctl *SOSController) register(session *session) {
	ctl.mutex.Lock()
	defer ctl.mutex.Unlock()

	ctl.pages[session] = struct{}{}
	atomic.AddInt64(&ctl.sessions, 1)
}

func (ctl *SOSController) unregister(session *session) {
	ctl.mutex.Lock()
	defer ctl.mutex.Unlock()

	delete(ctl.pages, session)
	atomic.AddInt64(&ctl.sessions, -1)
}

func (ctl *SOSController) trackInFlight(from, to sos.State) {
	switch {
	case to == sos.Sending:
		atomic.AddInt64(&ctl.inFlight, 1)

	case from == sos.Sending:
		atomic.AddInt64(&ctl.inFlight, -1)
	}
}

// health reports that the server is up.
func (ctl *SOSController) health(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(model.Health{
		Status:   "ok",
		Sessions: atomic.LoadInt64(&ctl.sessions),
	})

	if err != nil {
		ctl.handleInternalError("Couldn't marshal the object to JSON", err)
		ctl.handleWebError(w, http.StatusInternalServerError, "Couldn't build a JSON response")

		return
	}

	ctl.sendData(w, data)
}

func (ctl *SOSController) locationRequest() sos.LocationRequest {
	return sos.LocationRequest{
		HighAccuracy: ctl.cfg.Location.HighAccuracyEnabled(),
		Timeout:      ctl.cfg.Location.Timeout,
		MaximumAge:   ctl.cfg.Location.MaximumAge,
	}
}

// SetupRoutes sets up HTTP routes for the controller.
func (ctl *SOSController) SetupRoutes(router *mux.Router) {
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(ctl.logger))

	router.HandleFunc("/", ctl.index).Methods("GET")
	router.HandleFunc("/sos", ctl.sosSocket)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware)
	api.HandleFunc("/health", ctl.health).Methods("GET")
}

// NewSOSController returns a new controller submitting alerts through the transport.
// The notifier and the metrics are shared by all the sessions and may be nil.
func NewSOSController(ctx context.Context, cfg *config.Config, transport sos.AlertTransport,
	notifier sos.Notifier, metrics *shared.Metrics, logger logrus.FieldLogger) *SOSController {
	ctl := new(SOSController)
	ctl.ctx = ctx
	ctl.cfg = cfg
	ctl.transport = transport
	ctl.notifier = notifier
	ctl.metrics = metrics
	ctl.logger = logger
	ctl.pages = make(map[*session]struct{})

	return ctl
}

func (ctl *SOSController) handleWebsocketUpgradeError(err error) {
	if err != nil {
		ctl.logger.WithError(err).Error("Couldn't upgrade the connection to the Websocket protocol")
	}
}
