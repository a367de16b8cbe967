package observability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// StatsSource is the subset of *pool.Manager a SnapshotPublisher needs;
// kept as an interface so this package doesn't import pool and tests can
// supply a fake.
type StatsSource interface {
	Stats() map[string]PoolSnapshot
}

// PoolSnapshot mirrors pool.Stats in a form safe to marshal — it does
// not import the pool package's Connection/Request types.
type PoolSnapshot struct {
	Origin     string `json:"origin"`
	Starting   int    `json:"starting"`
	BackingOff int    `json:"backing_off"`
	Idle       int    `json:"idle"`
	Leased     int    `json:"leased"`
	QueueDepth int    `json:"queue_depth"`
}

// SnapshotPublisher periodically publishes every pool's point-in-time
// stats to Redis pub/sub, so a separate process (a dashboard, another
// instance of this daemon) can observe pool health without scraping
// /metrics. Grounded on redisclient.Client: same go-redis/v9 client
// construction, same degrade-on-error-and-keep-running posture.
type SnapshotPublisher struct {
	client *redis.Client
	topic  string
	log    zerolog.Logger
}

// NewSnapshotPublisher parses redisURL the same way redisclient.New
// does and wraps the resulting client.
func NewSnapshotPublisher(redisURL, topic string, log zerolog.Logger) (*SnapshotPublisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &SnapshotPublisher{
		client: redis.NewClient(opt),
		topic:  topic,
		log:    log.With().Str("component", "snapshot-publisher").Logger(),
	}, nil
}

// Run publishes a snapshot every interval until ctx is cancelled. A
// publish failure is logged and skipped rather than treated as fatal —
// losing one snapshot tick is harmless, the next tick supersedes it.
func (p *SnapshotPublisher) Run(ctx context.Context, source StatsSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce(ctx, source)
		}
	}
}

func (p *SnapshotPublisher) publishOnce(ctx context.Context, source StatsSource) {
	payload, err := json.Marshal(source.Stats())
	if err != nil {
		p.log.Error().Err(err).Msg("marshal pool snapshot")
		return
	}
	if err := p.client.Publish(ctx, p.topic, payload).Err(); err != nil {
		p.log.Warn().Err(err).Msg("publish pool snapshot")
	}
}

// Close releases the underlying Redis client.
func (p *SnapshotPublisher) Close() error {
	return p.client.Close()
}
