package shared

import (
	"panic-button/data"
	"panic-button/sos"
)

// Broadcaster turns gesture outcomes into alert records and fans them out
// to the database client and the publisher.
type Broadcaster struct {
	userID string
	fanout *Fanout
}

// Notify implements sos.Notifier.
func (broadcaster *Broadcaster) Notify(outcome sos.Outcome) {
	record := outcome.Record()

	// Telemetry capture failures carry no payload to take the user from.
	if record.UserID == "" {
		record.UserID = broadcaster.userID
	}

	broadcaster.fanout.SendMeasurement(record)
}

// AddChannelSubscriber adds a channel to receive alert records.
func (broadcaster *Broadcaster) AddChannelSubscriber(channel chan<- data.Measurement) {
	broadcaster.fanout.AddChannel(channel)
}

// RemoveChannelSubscriber removes the channel from the broadcaster.
func (broadcaster *Broadcaster) RemoveChannelSubscriber(channel chan<- data.Measurement) error {
	return broadcaster.fanout.RemoveChannel(channel)
}

// Close stops the broadcasting. It must be called before the subscribers stop.
func (broadcaster *Broadcaster) Close() {
	broadcaster.fanout.Close()
}

// NewBroadcaster creates a broadcaster for the user's outcomes.
func NewBroadcaster(userID string) *Broadcaster {
	return &Broadcaster{
		userID: userID,
		fanout: NewFanout(),
	}
}
