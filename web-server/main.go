package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"panic-button/config"
	"panic-button/shared"
	"panic-button/sos"
	"panic-button/web-server/api"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	configPath string
	addr       string
	endpoint   string
	userID     string
)

func parseFlags() {
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	flag.StringVar(&addr, "addr", "", "Address the web server listens on")
	flag.StringVar(&endpoint, "endpoint", "", "URL of the alert intake endpoint")
	flag.StringVar(&userID, "user", "", "Identifier of the user the alerts are sent for")

	flag.Parse()
}

func main() {
	parseFlags()

	cfg, err := config.Load(configPath)

	if err != nil {
		logrus.WithError(err).Fatal("Couldn't load the configuration")
	}

	if addr != "" {
		cfg.Server.Addr = addr
	}

	if endpoint != "" {
		cfg.Alert.Endpoint = endpoint
	}

	if userID != "" {
		cfg.UserID = userID
	}

	logger, closeLog := shared.NewLogger("web-server", cfg.Log)
	defer closeLog()

	handleError(logger, "Invalid configuration", cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := shared.NewMetrics(prometheus.DefaultRegisterer)
	broadcaster := shared.NewBroadcaster(cfg.UserID)

	// Alert history in the time-series database.
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

	// Alert feed for the other services.
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

	// Pending records are dropped before the sinks stop.
	defer broadcaster.Close()

	transport := sos.NewHTTPTransport(cfg.Alert.Endpoint, cfg.Alert.Timeout, logger.WithField("transport", "http"))
	notifier := sos.Notifiers(metrics, broadcaster)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	ctl := api.NewSOSController(ctx, cfg, transport, notifier, metrics, logger)
	ctl.SetupRoutes(router)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.WithField("addr", cfg.Server.Addr).Info("Web server started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("The web server failed")
		}
	}()

	// Interrupt.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGTERM, os.Interrupt)

	<-interrupt

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()

	err = server.Shutdown(shutdownCtx)
	handleShutdownError(logger, err)

	// Hijacked websocket connections outlive the server.
	err = ctl.Close(shutdownCtx)
	handleSessionsCloseError(logger, err)
	cancel()

	logger.Info("Web server stopped")
}

func handleError(logger logrus.FieldLogger, message string, err error) {
	if err != nil {
		logger.WithError(err).Fatal(message)
	}
}

func handleSessionsCloseError(logger logrus.FieldLogger, err error) {
	if err != nil {
		logger.WithError(err).Warn("Alerts were still being submitted at shutdown")
	}
}

func handleShutdownError(logger logrus.FieldLogger, err error) {
	if err != nil {
		logger.WithError(err).Error("Couldn't shut the web server down gracefully")
	}
}
