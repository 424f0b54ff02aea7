package stream

import (
	"github.com/spooky-finn/orderbook-reconciler/domain"
	"github.com/spooky-finn/orderbook-reconciler/wire"
)

// DepthStream serves depth diffs of one venue: a topic naming rule plus the venue's
// wire encoding on top of a shared Client.
type DepthStream struct {
	client   *Client
	encoding wire.Encoding
	topic    func(symbol string) (string, error)
}

func NewDepthStream(client *Client, encoding wire.Encoding, topic func(symbol string) (string, error)) *DepthStream {
	return &DepthStream{client: client, encoding: encoding, topic: topic}
}

func (s *DepthStream) Encoding() wire.Encoding {
	return s.encoding
}

// DepthDiffStream subscribes every symbol's topic. Either all topics are subscribed or
// none is.
func (s *DepthStream) DepthDiffStream(symbols []string, handler domain.DeltaHandler, onError func(error)) (*domain.Subscription, error) {
	topics := make([]string, 0, len(symbols))
	unsubs := make([]func(), 0, len(symbols))

	unsubscribeAll := func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}

	for _, symbol := range symbols {
		topic, err := s.topic(symbol)
		if err != nil {
			unsubscribeAll()
			return nil, &domain.SubscriptionError{Topics: []string{symbol}, Err: err}
		}

		symbol := symbol
		unsub, err := s.client.Subscribe(topic, func(payload []byte) {
			event, err := s.encoding.DecodeDelta(symbol, payload)
			if err != nil {
				onError(err)
				return
			}
			handler(event)
		}, onError)
		if err != nil {
			unsubscribeAll()
			return nil, err
		}

		topics = append(topics, topic)
		unsubs = append(unsubs, unsub)
	}

	return &domain.Subscription{Topics: topics, Unsubscribe: unsubscribeAll}, nil
}
