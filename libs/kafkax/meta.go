package kafkax

import (
	"github.com/md-rashed-zaman/medibook/libs/config"
	"github.com/segmentio/kafka-go"
)

// EventMeta is the metadata carried in headers on every message we publish.
type EventMeta struct {
	EventID   string
	EventType string
}

func (m EventMeta) Headers() []kafka.Header {
	return []kafka.Header{
		{Key: "event_id", Value: []byte(m.EventID)},
		{Key: "event_type", Value: []byte(m.EventType)},
	}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	return config.SplitList(raw)
}
