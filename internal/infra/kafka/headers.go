package kafka

import (
	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/propagation"
)

// producerHeaders adapts outgoing record headers to the OpenTelemetry propagator.
type producerHeaders struct {
	headers *[]sarama.RecordHeader
}

func (h producerHeaders) Get(key string) string {
	for _, header := range *h.headers {
		if string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

func (h producerHeaders) Set(key, value string) {
	for i, header := range *h.headers {
		if string(header.Key) == key {
			(*h.headers)[i].Value = []byte(value)
			return
		}
	}
	*h.headers = append(*h.headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (h producerHeaders) Keys() []string {
	keys := make([]string, 0, len(*h.headers))
	for _, header := range *h.headers {
		keys = append(keys, string(header.Key))
	}
	return keys
}

// consumerHeaders exposes incoming record headers read-only.
type consumerHeaders []*sarama.RecordHeader

func (h consumerHeaders) Get(key string) string {
	for _, header := range h {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

func (h consumerHeaders) Set(string, string) {}

func (h consumerHeaders) Keys() []string {
	keys := make([]string, 0, len(h))
	for _, header := range h {
		if header != nil {
			keys = append(keys, string(header.Key))
		}
	}
	return keys
}

var (
	_ propagation.TextMapCarrier = producerHeaders{}
	_ propagation.TextMapCarrier = consumerHeaders(nil)
)
