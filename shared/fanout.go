package shared

import (
	"fmt"
	"sync"

	"panic-button/data"
)

// Fanout manages the channels that receive the data you send.
type Fanout struct {
	mutex    sync.RWMutex
	channels []chan<- data.Measurement
	pending  sync.WaitGroup
	done     chan struct{}
	closed   bool
}

// AddChannel adds a new channel in the fanout.
func (fanout *Fanout) AddChannel(channel chan<- data.Measurement) {
	fanout.mutex.Lock()
	defer fanout.mutex.Unlock()

	fanout.channels = append(fanout.channels, channel)
}

// RemoveChannel removes the channel from the fanout.
func (fanout *Fanout) RemoveChannel(channel chan<- data.Measurement) error {
	fanout.mutex.Lock()
	defer fanout.mutex.Unlock()

	for i := range fanout.channels {
		if fanout.channels[i] == channel {
			fanout.channels = append(fanout.channels[:i], fanout.channels[i+1:]...)

			return nil
		}
	}

	return fmt.Errorf("the channel not found")
}

// SendMeasurement sends a new measurement to all the channels of the fanout.
// A slow receiver doesn't hold back the others. Nothing is sent once the fanout is closed.
func (fanout *Fanout) SendMeasurement(measurement data.Measurement) {
	fanout.mutex.RLock()
	defer fanout.mutex.RUnlock()

	if fanout.closed {
		return
	}

	for _, channel := range fanout.channels {
		fanout.pending.Add(1)

		go func(ch chan<- data.Measurement) {
			defer fanout.pending.Done()

			select {
			case ch <- measurement:
			case <-fanout.done:
			}
		}(channel)
	}
}

// Close drops the measurements no receiver has taken yet and waits for
// the pending sends to return. The channels can be closed afterwards.
func (fanout *Fanout) Close() {
	fanout.mutex.Lock()

	if !fanout.closed {
		fanout.closed = true
		close(fanout.done)
	}

	fanout.mutex.Unlock()
	fanout.pending.Wait()
}

// NewFanout creates a new fanout to serve data to registered channels.
func NewFanout() *Fanout {
	return &Fanout{
		channels: make([]chan<- data.Measurement, 0),
		done:     make(chan struct{}),
	}
}
