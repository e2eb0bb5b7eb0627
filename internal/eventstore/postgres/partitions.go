package postgres

import (
	"context"
	"fmt"

	"github.com/eventedge/eventstore/internal/migrate"
	"github.com/eventedge/eventstore/migrations"
)

// EnsurePartition attaches a LIST partition for partition to streams,
// messages, and subscriptions if one does not already exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS ... PARTITION OF) and safe to race:
// concurrent callers provisioning the same tenant for the first time simply
// both succeed, since the DDL itself is the source of truth, not the local
// cache.
//
// This generalizes the teacher's per-namespace-schema bootstrap (one schema
// per tenant, created lazily on first write) to per-tenant declarative
// partitions on a single shared schema.
func (s *Store) EnsurePartition(ctx context.Context, partition string) error {
	s.mu.Lock()
	if s.attached[partition] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	suffix := migrate.SanitizeIdentifier(partition)
	stmt := migrate.ApplyTemplate(migrations.PartitionTemplate, map[string]string{
		"SUFFIX":    suffix,
		"PARTITION": partition,
	})

	// Retry a handful of times: PARTITION OF validation briefly contends with
	// a concurrent first-time attach of the same partition value.
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return fmt.Errorf("postgres: attach partition %q: %w", partition, lastErr)
	}

	s.mu.Lock()
	s.attached[partition] = true
	s.mu.Unlock()
	return nil
}
