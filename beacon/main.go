package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"panic-button/beacon/button"
	"panic-button/beacon/device"
	"panic-button/config"
	"panic-button/shared"
	"panic-button/sos"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	configPath string
	endpoint   string
	opcuaURL   string
	broker     string
	userID     string
	interval   time.Duration
)

func parseFlags() {
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	flag.StringVar(&endpoint, "endpoint", "", "URL of the alert intake endpoint")
	flag.StringVar(&opcuaURL, "opcua", "", "Address of the OPC UA server of the device")
	flag.StringVar(&broker, "broker", "", "Address of the MQTT broker the button publishes to")
	flag.StringVar(&userID, "user", "", "Identifier of the user the alerts are sent for")
	flag.DurationVar(&interval, "interval", time.Second, "Publishing interval of the device nodes")

	flag.Parse()
}

func main() {
	parseFlags()

	cfg, err := config.Load(configPath)

	if err != nil {
		logrus.WithError(err).Fatal("Couldn't load the configuration")
	}

	applyFlags(cfg)

	logger, closeLog := shared.NewLogger("beacon", cfg.Log)
	defer closeLog()

	handleError(logger, "Invalid configuration", cfg.ValidateBeacon())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Device sensors.
	sensors := device.NewOpcuaSensors(ctx, cfg.OPCUA.Endpoint, device.Nodes{
		Latitude:     cfg.OPCUA.LatitudeNode,
		Longitude:    cfg.OPCUA.LongitudeNode,
		Battery:      cfg.OPCUA.BatteryNode,
		BatteryScale: cfg.OPCUA.BatteryScale,
	}, logger.WithField("device", cfg.OPCUA.Endpoint), interval)
	err = sensors.Connect()
	defer sensors.CloseConnection()
	handleError(logger, "Couldn't connect to the device", err)

	sensors.Start()
	defer sensors.Stop()

	var location sos.LocationProvider = sensors

	// Last known position survives restarts in the cache.
	if cfg.Redis.Address != "" {
		cache := shared.NewCache(cfg.Redis.Address, logger.WithField("cache", "redis"))
		err = cache.Connect()
		defer cache.CloseConnection()
		handleError(logger, "Couldn't connect to the cache", err)

		location = shared.NewCachedLocation(cache, sensors, cfg.UserID)
	}

	metrics := shared.NewMetrics(prometheus.DefaultRegisterer)
	broadcaster := shared.NewBroadcaster(cfg.UserID)

	if cfg.Influx.Address != "" {
		dbclient := shared.NewDbClient(cfg.Influx.Address, cfg.Influx.Database,
			logger.WithField("sink", "influx"), cfg.Influx.Capacity)
		err = dbclient.Connect()
		defer dbclient.CloseConnection()
		handleError(logger, "Couldn't connect to the database", err)

		channel := dbclient.GetSubscriptionChannel()
		broadcaster.AddChannelSubscriber(channel)
		dbclient.Start()
		defer dbclient.Stop()
	}

	if cfg.NATS.Address != "" {
		pb := shared.NewPublisher(cfg.NATS.Address, cfg.NATS.Topic, logger.WithField("sink", "nats"))
		err = pb.Connect()
		defer pb.CloseConnection()
		handleError(logger, "Couldn't connect to the message broker", err)

		channel := pb.GetChannel()
		broadcaster.AddChannelSubscriber(channel)
		pb.Start()
		defer pb.Stop()
	}

	telemetry := &sos.Telemetry{
		UserID:   cfg.UserID,
		Location: location,
		Battery:  sensors,
		Device: sos.StaticDeviceInfo{
			Platform:  "opcua",
			Version:   "beacon",
			UserAgent: cfg.OPCUA.Endpoint,
		},
		Request: sos.LocationRequest{
			HighAccuracy: cfg.Location.HighAccuracyEnabled(),
			Timeout:      cfg.Location.Timeout,
			MaximumAge:   cfg.Location.MaximumAge,
		},
		Logger: logger,
	}

	// Pending records are dropped before the sinks stop.
	defer broadcaster.Close()

	transport := sos.NewHTTPTransport(cfg.Alert.Endpoint, cfg.Alert.Timeout, logger.WithField("transport", "http"))
	notifier := sos.Notifiers(metrics, broadcaster, sos.NotifierFunc(func(outcome sos.Outcome) {
		logOutcome(logger, outcome)
	}))

	control := sos.NewControl(ctx, telemetry, transport, notifier, logger)
	control.SetHoldThreshold(cfg.Gesture.HoldThreshold)
	control.OnTransition(metrics.ObserveTransition)
	control.OnTransition(func(from, to sos.State) {
		logger.WithFields(logrus.Fields{"from": from, "to": to}).Debug("State changed")
	})

	// Physical button.
	listener := button.NewListener(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic, cfg.MQTT.QoS,
		control, logger.WithField("button", cfg.MQTT.Topic))
	err = listener.Connect()
	defer listener.CloseConnection()
	handleError(logger, "Couldn't connect to the button broker", err)

	// Metrics.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		err := http.ListenAndServe(cfg.Metrics.Addr, mux)
		logger.WithError(err).Error("The metrics server stopped")
	}()

	logger.Info("Beacon started")

	// Interrupt.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGTERM, os.Interrupt)

	<-interrupt
	control.Release()
	waitForSubmission(logger, control, 5*time.Second)
	logger.Info("Beacon stopped")
}

// waitForSubmission gives an alert being submitted a chance to complete.
func waitForSubmission(logger logrus.FieldLogger, control *sos.Control, timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	for control.State() == sos.Sending {
		if time.Now().After(deadline) {
			logger.Warn("An alert was still being submitted at shutdown")
			return
		}

		time.Sleep(50 * time.Millisecond)
	}
}

func applyFlags(cfg *config.Config) {
	if endpoint != "" {
		cfg.Alert.Endpoint = endpoint
	}

	if opcuaURL != "" {
		cfg.OPCUA.Endpoint = opcuaURL
	}

	if broker != "" {
		cfg.MQTT.Broker = broker
	}

	if userID != "" {
		cfg.UserID = userID
	}
}

func logOutcome(logger logrus.FieldLogger, outcome sos.Outcome) {
	entry := logger.WithField("duration", outcome.Finished.Sub(outcome.Started))

	if outcome.Succeeded() {
		entry.Info("Authorities have been notified")
		return
	}

	entry.WithError(outcome.Err).WithField("kind", outcome.Kind()).Error("Failed to send SOS")
}

func handleError(logger logrus.FieldLogger, message string, err error) {
	if err != nil {
		logger.WithError(err).Fatal(message)
	}
}
