package queue

import (
	"strings"
	"time"
)

// Open returns a MemoryBroker for memory:// URLs and an AMQPBroker otherwise.
func Open(url string, ttl time.Duration) (Broker, error) {
	if strings.HasPrefix(url, "memory://") {
		return NewMemoryBroker(), nil
	}
	return NewAMQPBroker(url, ttl, AllQueues...)
}
