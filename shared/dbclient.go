package shared

import (
	"fmt"
	"strings"

	"panic-button/data"

	influxdb "github.com/influxdata/influxdb1-client/v2"
	"github.com/sirupsen/logrus"
)

// DbClient records alert outcomes in the time-series database.
type DbClient struct {
	address        string
	database       string
	logger         logrus.FieldLogger
	influxClient   influxdb.Client
	subscription   chan data.Measurement
	pointsInSeries int
	stop           chan chan struct{}
	exited         chan struct{}
}

// Connect establishes the connection with the time-series database
// and creates the database if it doesn't exist on the server.
func (dbclient *DbClient) Connect() error {
	client, err := influxdb.NewHTTPClient(influxdb.HTTPConfig{
		Addr: dbclient.address,
	})
	dbclient.handleDbConnectionError(err)

	if err != nil {
		return err
	}

	dbclient.influxClient = client

	query := influxdb.Query{
		Command: "SHOW DATABASES",
	}
	response, err := dbclient.influxClient.Query(query)
	dbclient.handleCheckDatabaseExistsError(err)

	if err != nil {
		return err
	}

	if err = response.Error(); err != nil {
		dbclient.handleCheckDatabaseExistsError(err)

		return err
	}

	exists, err := databaseListed(response, dbclient.database)
	dbclient.handleCheckDatabaseExistsError(err)

	if err != nil {
		return err
	}

	if exists {
		dbclient.logger.Debugf("Database '%s' already exists on the server", dbclient.database)

		return nil
	}

	query = influxdb.Query{
		Command: "CREATE DATABASE " + quoteIdentifier(dbclient.database),
	}
	response, err = dbclient.influxClient.Query(query)

	if err == nil {
		err = response.Error()
	}

	dbclient.handleCreateDatabaseError(err)

	if err != nil {
		return err
	}

	dbclient.logger.Infof("Created database '%s'", dbclient.database)

	return nil
}

// CloseConnection closes the database connection.
func (dbclient *DbClient) CloseConnection() {
	if dbclient.influxClient != nil {
		dbclient.influxClient.Close()
	}
}

// GetSubscriptionChannel returns the channel to accept measurements and write them to the time-series database.
func (dbclient *DbClient) GetSubscriptionChannel() chan<- data.Measurement {
	return dbclient.subscription
}

// Start starts accepting measurements and writing them in series.
func (dbclient *DbClient) Start() {
	dbclient.exited = make(chan struct{})

	go func() {
		defer close(dbclient.exited)

		series, err := dbclient.newSeries()

		if err != nil {
			return
		}

		for {
			select {
			case measurement := <-dbclient.subscription:
				point, err := measurement.ToDataPoint()
				dbclient.handleCreatePointError(err)

				if err != nil {
					continue
				}

				series.AddPoint(point)

				// Write the series once it is full.
				if len(series.Points()) >= dbclient.pointsInSeries {
					dbclient.write(series)

					series, err = dbclient.newSeries()

					if err != nil {
						return
					}
				}

			case done := <-dbclient.stop:
				if len(series.Points()) > 0 {
					dbclient.write(series)
				}

				close(done)

				return
			}
		}
	}()
}

// Stop flushes the pending points and stops writing measurements to the database.
// Measurements sent afterwards are never taken.
func (dbclient *DbClient) Stop() {
	if dbclient.exited == nil {
		return
	}

	done := make(chan struct{})

	select {
	case dbclient.stop <- done:
		<-done

	case <-dbclient.exited:
	}
}

// NewDbClient creates a new client for the time-series database.
func NewDbClient(address, database string, logger logrus.FieldLogger, pointsInSeries int) *DbClient {
	if pointsInSeries < 1 {
		pointsInSeries = 1
	}

	return &DbClient{
		address:        address,
		database:       database,
		logger:         logger,
		pointsInSeries: pointsInSeries,
		subscription:   make(chan data.Measurement),
		stop:           make(chan chan struct{}),
	}
}

func (dbclient *DbClient) newSeries() (influxdb.BatchPoints, error) {
	series, err := influxdb.NewBatchPoints(influxdb.BatchPointsConfig{
		Database:  dbclient.database,
		Precision: "ms",
	})
	dbclient.handleCreateSeriesError(err)

	return series, err
}

func (dbclient *DbClient) write(series influxdb.BatchPoints) {
	err := dbclient.influxClient.Write(series)
	dbclient.handleWriteToDbError(err)
}

// quoteIdentifier quotes an InfluxQL identifier such as a database name.
func quoteIdentifier(name string) string {
	name = strings.ReplaceAll(name, `\`, `\\`)
	name = strings.ReplaceAll(name, `"`, `\"`)

	return `"` + name + `"`
}

func databaseListed(response *influxdb.Response, database string) (bool, error) {
	if len(response.Results) == 0 || len(response.Results[0].Series) == 0 {
		return false, nil
	}

	for _, row := range response.Results[0].Series[0].Values {
		if len(row) == 0 {
			continue
		}

		name, ok := row[0].(string)

		if !ok {
			return false, fmt.Errorf("couldn't get the database name from the result set")
		}

		if name == database {
			return true, nil
		}
	}

	return false, nil
}

func (dbclient *DbClient) handleDbConnectionError(err error) {
	if err != nil {
		dbclient.logger.WithError(err).Error("Couldn't connect to the database")
	}
}

func (dbclient *DbClient) handleWriteToDbError(err error) {
	if err != nil {
		dbclient.logger.WithError(err).Error("Couldn't write data to the database")
	}
}

func (dbclient *DbClient) handleCreateSeriesError(err error) {
	if err != nil {
		dbclient.logger.WithError(err).Error("Couldn't create a point series")
	}
}

func (dbclient *DbClient) handleCreatePointError(err error) {
	if err != nil {
		dbclient.logger.WithError(err).Error("Couldn't create a point for the database")
	}
}

func (dbclient *DbClient) handleCreateDatabaseError(err error) {
	if err != nil {
		dbclient.logger.WithError(err).Error("Couldn't create the database")
	}
}

func (dbclient *DbClient) handleCheckDatabaseExistsError(err error) {
	if err != nil {
		dbclient.logger.WithError(err).Error("Couldn't check if the database exists")
	}
}
