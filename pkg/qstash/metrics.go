package qstash

import (
	"context"
	"errors"
	"strings"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

// MetricsSink hands routing metrics to QStash, which delivers them to the
// metrics webhook asynchronously.
type MetricsSink struct {
	client      *Client
	destination string
}

var _ contractx.MetricsSink = (*MetricsSink)(nil)

func NewMetricsSink(client *Client, destination string) (*MetricsSink, error) {
	if client == nil {
		return nil, errors.New("qstash: client is required")
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, errors.New("qstash: metrics destination is required")
	}
	return &MetricsSink{client: client, destination: destination}, nil
}

func (s *MetricsSink) AppendMetrics(ctx context.Context, rec contractx.MetricsRecord) error {
	_, err := s.client.Publish(ctx, s.destination, rec)
	return err
}
