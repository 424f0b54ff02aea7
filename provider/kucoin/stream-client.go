package kucoin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spooky-finn/orderbook-reconciler/provider/stream"
)

const pingInterval = 18 * time.Second

type SubscribeMessage struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	PrivateChannel bool   `json:"privateChannel"`
	Response       bool   `json:"response"`
}

func NewSubscribeMessage(id int64, topic string, privateChannel bool) SubscribeMessage {
	return SubscribeMessage{ID: strconv.FormatInt(id, 10), Type: "subscribe", Topic: topic, PrivateChannel: privateChannel, Response: true}
}

func NewUnsubscribeMessage(id int64, topic string, privateChannel bool) SubscribeMessage {
	return SubscribeMessage{ID: strconv.FormatInt(id, 10), Type: "unsubscribe", Topic: topic, PrivateChannel: privateChannel, Response: true}
}

type DownstreamMessage struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Code    json.Number     `json:"code"`
	Data    json.RawMessage `json:"data"`
}

var Protocol = stream.Protocol{
	Name: "kucoin",
	Subscribe: func(id int64, topic string) interface{} {
		return NewSubscribeMessage(id, topic, false)
	},
	Unsubscribe: func(id int64, topic string) interface{} {
		return NewUnsubscribeMessage(id, topic, false)
	},
	Route: func(frame []byte) (string, []byte, error) {
		var msg DownstreamMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			return "", nil, err
		}

		switch msg.Type {
		case "message":
			return msg.Topic, msg.Data, nil
		case "error":
			return "", nil, fmt.Errorf("kucoin error frame: code %s: %s", msg.Code, msg.Data)
		default:
			// welcome, ack, pong
			return "", nil, stream.ErrSkip
		}
	},
	Ping: func(id int64) interface{} {
		return SubscribeMessage{ID: strconv.FormatInt(id, 10), Type: "ping"}
	},
	PingInterval: pingInterval,
}

// TokenEndpoint asks for a fresh public token on every dial, as KuCoin tokens expire.
func TokenEndpoint(api *KucoinSyncAPI) stream.EndpointFunc {
	return func(ctx context.Context) (string, error) {
		opts, err := api.WsConnOpts()
		if err != nil {
			return "", err
		}
		if opts.Token == "" || opts.Servers[0].Endpoint == "" {
			return "", errors.New("empty websocket token or endpoint")
		}

		q := url.Values{}
		q.Set("token", opts.Token)
		q.Set("connectId", uuid.NewString())

		return opts.Servers[0].Endpoint + "?" + q.Encode(), nil
	}
}

func NewKucoinStreamClient(api *KucoinSyncAPI, logger zerolog.Logger) *stream.Client {
	return stream.NewClient(Protocol, TokenEndpoint(api), stream.WithLogger(logger))
}
