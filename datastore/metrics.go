package datastore

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

var _ contractx.MetricsSink = (*Store)(nil)
var _ contractx.TierResolver = (*Store)(nil)

func (s *Store) AppendMetrics(ctx context.Context, rec contractx.MetricsRecord) error {
	row := &AgentMetric{
		ID:             rec.ID,
		AgentType:      rec.HandlerType,
		SessionID:      rec.SessionID,
		Intent:         rec.Intent,
		Confidence:     rec.Confidence,
		ResponseTimeMs: rec.ResponseTimeMs,
		Successful:     rec.Successful,
		ErrorMessage:   rec.ErrorMessage,
		CreatedAt:      rec.CreatedAt,
	}
	if row.ID == "" {
		row.ID = newID()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("datastore: append metrics: %w", err)
	}
	return nil
}

// RecentMetrics returns the latest routing metrics, newest first.
func (s *Store) RecentMetrics(ctx context.Context, limit int) ([]AgentMetric, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []AgentMetric
	if err := s.db.NewSelect().Model(&rows).Order("am.created_at DESC").Limit(limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("datastore: recent metrics: %w", err)
	}
	return rows, nil
}
