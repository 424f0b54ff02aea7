// Package stream is the websocket client shared by the venue adapters. One connection
// carries many topics; each topic is subscribed on the venue once no matter how many
// local consumers ask for it.
package stream

import (
	"errors"
	"time"
)

// ErrSkip is returned by Protocol.Route for frames that carry no topic data
// (subscription acks, pongs, welcome messages).
var ErrSkip = errors.New("frame carries no topic data")

// Protocol describes how a venue frames its control messages and wraps its data.
type Protocol struct {
	Name string

	// Subscribe and Unsubscribe build the control frame sent for topic.
	Subscribe   func(id int64, topic string) interface{}
	Unsubscribe func(id int64, topic string) interface{}

	// Route extracts the topic and the inner payload from a data frame.
	Route func(frame []byte) (topic string, payload []byte, err error)

	// Ping builds an application level ping. When nil the client sends websocket pings.
	Ping         func(id int64) interface{}
	PingInterval time.Duration
}
