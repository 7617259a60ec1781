package data

import (
	influxdb "github.com/influxdata/influxdb1-client/v2"
)

// Measurement represents an object which can treated as a data portion for a time-series database.
type Measurement interface {
	ToDataPoint() (*influxdb.Point, error)
}
