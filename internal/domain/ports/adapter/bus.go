package adapter

import "context"

// BusMessage is one keyed record destined for a bus topic. Keying by
// recipient id keeps retries for the same recipient on one partition.
type BusMessage struct {
	Key   string
	Value []byte
}

// BusPublisher publishes messages to a partitioned topic. A multi-message
// call is a single bulk publish: an error means the batch must be treated as
// unpublished.
type BusPublisher interface {
	Publish(ctx context.Context, topic string, msgs ...BusMessage) error
}
