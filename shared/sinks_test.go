package shared

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"panic-button/data"
	"panic-button/sos"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logger
}

// within fails the test if fn doesn't return in time.
func within(t *testing.T, timeout time.Duration, name string, fn func()) {
	t.Helper()

	finished := make(chan struct{})

	go func() {
		fn()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		t.Fatalf("%s didn't return in %s", name, timeout)
	}
}

type fakeConn struct {
	mutex    sync.Mutex
	block    chan struct{}
	subjects []string
	payloads [][]byte
	closed   bool
}

func (conn *fakeConn) Publish(subject string, payload []byte) error {
	if conn.block != nil {
		<-conn.block
	}

	conn.mutex.Lock()
	defer conn.mutex.Unlock()

	conn.subjects = append(conn.subjects, subject)
	conn.payloads = append(conn.payloads, payload)

	return nil
}

func (conn *fakeConn) Close() {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()

	conn.closed = true
}

func (conn *fakeConn) published() int {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()

	return len(conn.payloads)
}

func TestFanoutCloseReleasesPendingSends(t *testing.T) {
	fanout := NewFanout()
	stuck := make(chan data.Measurement)
	fanout.AddChannel(stuck)

	fanout.SendMeasurement(data.AlertRecord{UserID: "tourist-1"})
	within(t, time.Second, "Close", fanout.Close)

	// Nothing is sent anymore, so the channel can be closed safely.
	fanout.SendMeasurement(data.AlertRecord{UserID: "tourist-1"})
	close(stuck)

	_, open := <-stuck
	assert.False(t, open)
}

func TestPublisherPublishesRecords(t *testing.T) {
	conn := &fakeConn{}
	publisher := NewPublisher("nats://localhost:4222", "sos.alerts", quietLogger())
	publisher.conn = conn

	publisher.Start()
	publisher.GetChannel() <- data.AlertRecord{UserID: "tourist-1", Succeeded: true, Captured: true, Latitude: 1.5}
	within(t, time.Second, "Stop", publisher.Stop)

	require.Equal(t, 1, conn.published())
	assert.Equal(t, "sos.alerts", conn.subjects[0])

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(conn.payloads[0], &record))
	assert.Equal(t, "tourist-1", record["user_id"])
	assert.Equal(t, 1.5, record["lat"])

	publisher.CloseConnection()
	assert.True(t, conn.closed)
}

func TestShutdownWithRecordsInFlight(t *testing.T) {
	conn := &fakeConn{block: make(chan struct{})}
	publisher := NewPublisher("nats://localhost:4222", "sos.alerts", quietLogger())
	publisher.conn = conn

	broadcaster := NewBroadcaster("tourist-1")
	broadcaster.AddChannelSubscriber(publisher.GetChannel())
	publisher.Start()

	// The publisher is busy with the first record while the second waits.
	broadcaster.Notify(sos.Outcome{Err: sos.ErrLocationTimeout, Finished: time.Now()})
	broadcaster.Notify(sos.Outcome{Err: sos.ErrLocationDenied, Finished: time.Now()})

	within(t, time.Second, "Close", broadcaster.Close)
	close(conn.block)
	within(t, time.Second, "Stop", publisher.Stop)

	// Outcomes completing during the shutdown are dropped.
	broadcaster.Notify(sos.Outcome{Err: sos.ErrLocationDenied, Finished: time.Now()})

	assert.LessOrEqual(t, conn.published(), 2)
}

func TestStopWithoutStart(t *testing.T) {
	within(t, time.Second, "Stop", NewPublisher("", "sos.alerts", quietLogger()).Stop)
	within(t, time.Second, "Stop", NewDbClient("", "sos", quietLogger(), 1).Stop)
}

type fakeInflux struct {
	mutex   sync.Mutex
	queries []string
	writes  []string
	dbs     []string
}

func (influx *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	influx.mutex.Lock()
	defer influx.mutex.Unlock()

	w.Header().Set("X-Influxdb-Version", "1.8.10")

	switch r.URL.Path {
	case "/query":
		query := r.FormValue("q")
		influx.queries = append(influx.queries, query)
		w.Header().Set("Content-Type", "application/json")

		if strings.HasPrefix(query, "SHOW DATABASES") {
			io.WriteString(w, `{"results":[{"statement_id":0,"series":[{"name":"databases","columns":["name"],"values":[["_internal"]]}]}]}`)
			return
		}

		io.WriteString(w, `{"results":[{"statement_id":0}]}`)

	case "/write":
		body, _ := io.ReadAll(r.Body)
		influx.writes = append(influx.writes, string(body))
		influx.dbs = append(influx.dbs, r.URL.Query().Get("db"))
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestDbClientWritesSeries(t *testing.T) {
	influx := &fakeInflux{}
	server := httptest.NewServer(influx)
	defer server.Close()

	dbclient := NewDbClient(server.URL, "sos-alerts", quietLogger(), 2)
	require.NoError(t, dbclient.Connect())
	defer dbclient.CloseConnection()

	dbclient.Start()

	for i := 0; i < 3; i++ {
		dbclient.GetSubscriptionChannel() <- data.AlertRecord{
			UserID:    "tourist-1",
			Succeeded: true,
			Captured:  true,
			Latitude:  float64(i),
			Longitude: 2,
			Battery:   50,
			Duration:  time.Second,
			Timestamp: time.Date(2024, 5, 1, 12, 0, i, 0, time.UTC),
		}
	}

	// The third point is flushed on stop.
	within(t, 2*time.Second, "Stop", dbclient.Stop)

	influx.mutex.Lock()
	defer influx.mutex.Unlock()

	assert.Contains(t, influx.queries, `CREATE DATABASE "sos-alerts"`)
	require.Len(t, influx.writes, 2)
	assert.Len(t, strings.Split(strings.TrimSpace(influx.writes[0]), "\n"), 2)
	assert.Len(t, strings.Split(strings.TrimSpace(influx.writes[1]), "\n"), 1)
	assert.True(t, strings.HasPrefix(influx.writes[0], "sos_alerts,"))
	assert.Equal(t, []string{"sos-alerts", "sos-alerts"}, influx.dbs)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"sos"`, quoteIdentifier("sos"))
	assert.Equal(t, `"sos-alerts"`, quoteIdentifier("sos-alerts"))
	assert.Equal(t, `"a\"b\\c"`, quoteIdentifier(`a"b\c`))
}
