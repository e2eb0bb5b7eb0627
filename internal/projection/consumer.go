package projection

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/eventedge/eventstore/internal/eventstore"
	"github.com/eventedge/eventstore/internal/logger"
	"golang.org/x/sync/errgroup"
)

// Store is what the consumer needs from the event store: everything the
// runner needs, plus stream discovery for its keyset scan.
type Store interface {
	Reader
	ListStreamIDs(ctx context.Context, partition, afterStreamID string, limit int) ([]string, error)
}

// CatchAllHandler observes every event the consumer dispatches, independent
// of the registry. It exists for observability only and is never expected
// to mutate a read model.
type CatchAllHandler func(ctx context.Context, pctx Context, ev eventstore.Event)

// ErrorReporter captures an error alongside structured tags, typically
// forwarding to Sentry. A nil reporter disables reporting.
type ErrorReporter func(err error, tags map[string]string)

const streamScanPageSize = 50

// Config configures a Consumer.
type Config struct {
	ConsumerName      string        // default "<partition>-read-model"
	Partition         string        // required
	BatchSize         int64         // default 100
	PollingInterval   time.Duration // default 1s
	MaxPollingBackoff time.Duration // default 30s; cap on the discovery-error retry backoff
	Registry          Registry
	CatchAll          CatchAllHandler
	Metrics           *Metrics
	Reporter          ErrorReporter
}

// Consumer is a long-running polling service that keyset-scans a partition's
// streams and drives the runner over each one.
type Consumer struct {
	store  Store
	db     *sql.DB
	cfg    Config
	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewConsumer builds a Consumer against store/db with cfg, filling in
// defaults for ConsumerName, BatchSize, and PollingInterval when unset.
func NewConsumer(store Store, db *sql.DB, cfg Config) (*Consumer, error) {
	if cfg.Partition == "" {
		return nil, errors.New("projection: consumer requires a partition")
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = cfg.Partition + "-read-model"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = time.Second
	}
	if cfg.MaxPollingBackoff <= 0 {
		cfg.MaxPollingBackoff = 30 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	return &Consumer{store: store, db: db, cfg: cfg}, nil
}

// Start spawns the polling loop under group, so its lifetime is tied to
// whatever else the caller runs under the same errgroup (typically the
// health/metrics HTTP server). Start is non-blocking.
func (c *Consumer) Start(ctx context.Context, group *errgroup.Group) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.group = group

	group.Go(func() error {
		c.loop(runCtx)
		return nil
	})
}

// Stop signals the loop to exit and waits, bounded by ctx, for the in-flight
// batch to finish.
func (c *Consumer) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.group.Wait() //nolint:errcheck
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) loop(ctx context.Context) {
	afterStreamID := ""
	failureStreak := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streamIDs, err := c.store.ListStreamIDs(ctx, c.cfg.Partition, afterStreamID, streamScanPageSize)
		if err != nil {
			c.report(ctx, err)
			failureStreak++
			c.sleepBackoff(ctx, failureStreak)
			continue
		}
		failureStreak = 0

		if len(streamIDs) == 0 {
			afterStreamID = "" // wrap around: start from the beginning again
			c.sleep(ctx)
			continue
		}

		for _, streamID := range streamIDs {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.processStream(ctx, streamID)
		}

		afterStreamID = streamIDs[len(streamIDs)-1]
		c.sleep(ctx)
	}
}

func (c *Consumer) processStream(ctx context.Context, streamID string) {
	subscriptionID := c.cfg.ConsumerName + ":" + streamID
	streamCtx := logger.WithStream(ctx, c.cfg.Partition, streamID, subscriptionID)
	log := logger.FromContext(streamCtx)

	processed, currentVersion, err := ProjectEvents(streamCtx, c.store, c.db, c.cfg.Registry, subscriptionID, streamID, RunOptions{
		Partition: c.cfg.Partition,
		BatchSize: c.cfg.BatchSize,
		CatchAll:  c.cfg.CatchAll,
	})

	if checkpoint, cpErr := c.store.GetCheckpoint(streamCtx, subscriptionID, c.cfg.Partition); cpErr == nil && currentVersion >= checkpoint {
		c.cfg.Metrics.CheckpointLag.WithLabelValues(c.cfg.Partition, c.cfg.ConsumerName).
			Set(float64(currentVersion - checkpoint))
	}

	if err != nil {
		var handlerErr *eventstore.HandlerError
		if errors.As(err, &handlerErr) {
			c.cfg.Metrics.HandlerErrors.WithLabelValues(c.cfg.Partition, c.cfg.ConsumerName).Inc()
		}
		log.Error().Err(err).Int("processed", processed).Msg("projection pass failed")
		c.report(streamCtx, err)
		return
	}

	if processed > 0 {
		c.cfg.Metrics.EventsProcessed.WithLabelValues(c.cfg.Partition, c.cfg.ConsumerName).Add(float64(processed))
		log.Debug().Int("processed", processed).Msg("projection pass applied")
	}
}

func (c *Consumer) report(ctx context.Context, err error) {
	logger.FromContext(ctx).Error().Err(err).Msg("consumer loop error")
	if c.cfg.Reporter != nil {
		c.cfg.Reporter(err, map[string]string{
			"partition": c.cfg.Partition,
			"consumer":  c.cfg.ConsumerName,
		})
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	c.sleepFor(ctx, c.cfg.PollingInterval)
}

// sleepBackoff waits PollingInterval * 2^(attempt-1), capped at
// MaxPollingBackoff, before the stream-discovery loop retries after a
// failure. attempt is the number of consecutive failures observed so far,
// including this one.
func (c *Consumer) sleepBackoff(ctx context.Context, attempt int) {
	delay := c.cfg.PollingInterval << uint(attempt-1) //nolint:gosec
	if delay <= 0 || delay > c.cfg.MaxPollingBackoff {
		delay = c.cfg.MaxPollingBackoff
	}
	c.sleepFor(ctx, delay)
}

func (c *Consumer) sleepFor(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
