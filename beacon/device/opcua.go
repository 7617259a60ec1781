package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"panic-button/sos"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/sirupsen/logrus"
)

// Client handles of the monitored nodes.
const (
	latitudeHandle uint32 = iota
	longitudeHandle
	batteryHandle
)

// Nodes lists the NodeIDs the device publishes its telemetry on.
type Nodes struct {
	Latitude  string
	Longitude string
	// Battery is optional, the level is reported as full without it.
	Battery string
	// BatteryScale divides the raw battery value into a [0, 1] fraction.
	BatteryScale float64
}

// nodeReader performs a single attribute read on the server.
type nodeReader interface {
	Read(request *ua.ReadRequest) (*ua.ReadResponse, error)
}

// OpcuaSensors tracks the position and battery nodes of the device
// through an OPC UA subscription and serves them as telemetry.
// A reading older than the caller accepts is read again from the server.
type OpcuaSensors struct {
	endpoint     string
	nodes        Nodes
	connection   *opcua.Client
	reader       nodeReader
	subscription *opcua.Subscription
	ctx          context.Context
	logger       logrus.FieldLogger
	interval     time.Duration
	stop         chan struct{}

	mutex    sync.Mutex
	readings map[uint32]reading
}

type reading struct {
	value     float64
	timestamp time.Time
}

// Connect establishes the connection with the device server and subscribes to its nodes.
func (sensors *OpcuaSensors) Connect() error {
	opts := []opcua.Option{
		opcua.SecurityModeString("None"),
		opcua.AuthAnonymous(),
	}

	sensors.connection = opcua.NewClient(sensors.endpoint, opts...)
	err := sensors.connection.Connect(sensors.ctx)
	sensors.handleConnectionError(err)

	if err != nil {
		return err
	}

	sensors.reader = sensors.connection

	sensors.subscription, err = sensors.connection.Subscribe(&opcua.SubscriptionParameters{
		Interval: sensors.interval,
	})
	sensors.handleConnectionError(err)

	if err != nil {
		return err
	}

	return sensors.monitorNodes()
}

// CloseConnection closes the connection with the device server.
func (sensors *OpcuaSensors) CloseConnection() {
	if sensors.connection != nil {
		sensors.connection.Close()
	}
}

// Start starts receiving node updates.
func (sensors *OpcuaSensors) Start() {
	go sensors.subscription.Run(sensors.ctx)

	go func() {
		for {
			select {
			case <-sensors.ctx.Done():
				sensors.logger.Info("Disconnected from the device server")
				return

			case <-sensors.stop:
				sensors.logger.Info("Sensors stopped")
				return

			case message := <-sensors.subscription.Notifs:
				if message.Error != nil {
					sensors.logger.WithError(message.Error).Warn("Subscription error")
					continue
				}

				switch notification := message.Value.(type) {
				case *ua.DataChangeNotification:
					sensors.update(notification)

				default:
					sensors.logger.Debug("Unknown message type")
				}
			}
		}
	}()
}

// Stop stops receiving node updates.
func (sensors *OpcuaSensors) Stop() {
	close(sensors.stop)
}

// CurrentPosition returns the last position published by the device if it is
// within the request's maximum age. Otherwise the position nodes are read again,
// since a device that doesn't move publishes no changes.
func (sensors *OpcuaSensors) CurrentPosition(ctx context.Context, request sos.LocationRequest) (sos.Fix, error) {
	sensors.mutex.Lock()
	fix, ok := sensors.fix()
	sensors.mutex.Unlock()

	if ok && request.MaximumAge > 0 && time.Since(fix.Timestamp) <= request.MaximumAge {
		return fix, nil
	}

	if sensors.reader == nil {
		return sos.Fix{}, sos.ErrLocationUnavailable
	}

	return sensors.readPosition(ctx)
}

// BatteryLevel returns the last battery value as a fraction.
func (sensors *OpcuaSensors) BatteryLevel(ctx context.Context) (float64, error) {
	sensors.mutex.Lock()
	defer sensors.mutex.Unlock()

	battery, ok := sensors.readings[batteryHandle]

	if !ok {
		return 0, fmt.Errorf("no battery reading from the device")
	}

	return batteryFraction(battery.value, sensors.nodes.BatteryScale), nil
}

func (sensors *OpcuaSensors) monitorNodes() error {
	nodes := map[uint32]string{
		latitudeHandle:  sensors.nodes.Latitude,
		longitudeHandle: sensors.nodes.Longitude,
	}

	if sensors.nodes.Battery != "" {
		nodes[batteryHandle] = sensors.nodes.Battery
	}

	for handle, node := range nodes {
		id, err := ua.ParseNodeID(node)
		sensors.handleSubscriptionError(err)

		if err != nil {
			return err
		}

		request := opcua.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, handle)
		res, err := sensors.subscription.Monitor(ua.TimestampsToReturnBoth, request)
		sensors.handleSubscriptionError(err)

		if err != nil {
			return err
		}

		if status := res.Results[0].StatusCode; status != ua.StatusOK {
			err = fmt.Errorf("bad response status for node %s: %v", node, status)
			sensors.handleSubscriptionError(err)

			return err
		}
	}

	return nil
}

func (sensors *OpcuaSensors) update(notification *ua.DataChangeNotification) {
	sensors.mutex.Lock()
	defer sensors.mutex.Unlock()

	for _, item := range notification.MonitoredItems {
		sensors.store(item.ClientHandle, item.Value, valueTimestamp(item.Value))
	}
}

// readPosition reads the position nodes, and the battery node if there is one,
// in a single request.
func (sensors *OpcuaSensors) readPosition(ctx context.Context) (sos.Fix, error) {
	handles := []uint32{latitudeHandle, longitudeHandle}
	nodes := []string{sensors.nodes.Latitude, sensors.nodes.Longitude}

	if sensors.nodes.Battery != "" {
		handles = append(handles, batteryHandle)
		nodes = append(nodes, sensors.nodes.Battery)
	}

	request := &ua.ReadRequest{
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	}

	for _, node := range nodes {
		id, err := ua.ParseNodeID(node)

		if err != nil {
			return sos.Fix{}, fmt.Errorf("invalid node %s: %w", node, err)
		}

		request.NodesToRead = append(request.NodesToRead, &ua.ReadValueID{
			NodeID:      id,
			AttributeID: ua.AttributeIDValue,
		})
	}

	type result struct {
		response *ua.ReadResponse
		err      error
	}

	// The read itself takes no context.
	results := make(chan result, 1)

	go func() {
		response, err := sensors.reader.Read(request)
		results <- result{response, err}
	}()

	var response *ua.ReadResponse

	select {
	case res := <-results:
		if res.err != nil {
			sensors.handleReadError(res.err)

			return sos.Fix{}, res.err
		}

		response = res.response

	case <-ctx.Done():
		return sos.Fix{}, ctx.Err()
	}

	if response == nil {
		return sos.Fix{}, fmt.Errorf("empty read response")
	}

	if len(response.Results) != len(handles) {
		return sos.Fix{}, fmt.Errorf("expected %d read results, got %d", len(handles), len(response.Results))
	}

	sensors.mutex.Lock()
	defer sensors.mutex.Unlock()

	// The read returns the current value, whenever it last changed.
	now := time.Now().UTC()

	for i, handle := range handles {
		if !sensors.store(handle, response.Results[i], now) && handle != batteryHandle {
			return sos.Fix{}, fmt.Errorf("bad value for node %s", nodes[i])
		}
	}

	fix, _ := sensors.fix()

	return fix, nil
}

// store must be called with the mutex held.
func (sensors *OpcuaSensors) store(handle uint32, value *ua.DataValue, timestamp time.Time) bool {
	if value == nil || value.Status != ua.StatusOK || value.Value == nil {
		return false
	}

	number, ok := toFloat(value.Value.Value())

	if !ok {
		sensors.logger.WithField("handle", handle).Warn("The node value is not a number")
		return false
	}

	sensors.readings[handle] = reading{value: number, timestamp: timestamp}

	return true
}

// valueTimestamp prefers the time the device sampled the value.
func valueTimestamp(value *ua.DataValue) time.Time {
	if value != nil {
		if !value.SourceTimestamp.IsZero() {
			return value.SourceTimestamp.UTC()
		}

		if !value.ServerTimestamp.IsZero() {
			return value.ServerTimestamp.UTC()
		}
	}

	return time.Now().UTC()
}

// fix must be called with the mutex held.
func (sensors *OpcuaSensors) fix() (sos.Fix, bool) {
	latitude, ok := sensors.readings[latitudeHandle]

	if !ok {
		return sos.Fix{}, false
	}

	longitude, ok := sensors.readings[longitudeHandle]

	if !ok {
		return sos.Fix{}, false
	}

	timestamp := latitude.timestamp

	if longitude.timestamp.Before(timestamp) {
		timestamp = longitude.timestamp
	}

	return sos.Fix{
		Latitude:  latitude.value,
		Longitude: longitude.value,
		Timestamp: timestamp,
	}, true
}

func toFloat(value interface{}) (float64, bool) {
	switch number := value.(type) {
	case float64:
		return number, true
	case float32:
		return float64(number), true
	case int8:
		return float64(number), true
	case int16:
		return float64(number), true
	case int32:
		return float64(number), true
	case int64:
		return float64(number), true
	case uint8:
		return float64(number), true
	case uint16:
		return float64(number), true
	case uint32:
		return float64(number), true
	case uint64:
		return float64(number), true
	}

	return 0, false
}

func batteryFraction(raw, scale float64) float64 {
	if scale <= 0 {
		scale = 100
	}

	return raw / scale
}

func (sensors *OpcuaSensors) handleConnectionError(err error) {
	if err != nil {
		sensors.logger.WithError(err).Error("Couldn't connect to the OPC UA server")
	}
}

func (sensors *OpcuaSensors) handleReadError(err error) {
	if err != nil {
		sensors.logger.WithError(err).Error("Couldn't read the position nodes")
	}
}

func (sensors *OpcuaSensors) handleSubscriptionError(err error) {
	if err != nil {
		sensors.logger.WithError(err).Error("Couldn't subscribe to the node")
	}
}

// NewOpcuaSensors creates sensors reading the device nodes on the OPC UA server.
func NewOpcuaSensors(ctx context.Context, endpoint string, nodes Nodes, logger logrus.FieldLogger, interval time.Duration) *OpcuaSensors {
	return &OpcuaSensors{
		endpoint: endpoint,
		nodes:    nodes,
		ctx:      ctx,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
		readings: make(map[uint32]reading),
	}
}
