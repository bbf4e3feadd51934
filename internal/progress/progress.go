// Package progress appends run step transitions to a Redis stream so
// other processes can follow runs while they are in flight.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/cowbook/cowbook-api/internal/tracking"
)

// Stream defaults.
const (
	DefaultStream = "cowbook:runs:progress"
	DefaultMaxLen = 10000
)

// streamAdder is the subset of redis.Cmdable the reporter needs.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Reporter is a tracking.Reporter writing to one stream.
type Reporter struct {
	client streamAdder
	stream string
	maxLen int64
	now    func() time.Time
}

var _ tracking.Reporter = (*Reporter)(nil)

// NewReporter creates a Reporter on DefaultStream.
func NewReporter(client streamAdder) *Reporter {
	return &Reporter{
		client: client,
		stream: DefaultStream,
		maxLen: DefaultMaxLen,
		now:    time.Now,
	}
}

// Report appends one entry. Failures are logged, never returned: progress
// is advisory and must not affect the run.
func (r *Reporter) Report(ctx context.Context, runID string, step tracking.Step) {
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"run_id": runID,
			"step":   string(step),
			"at":     r.now().UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		log.Warn().Err(err).Str("runId", runID).Str("step", string(step)).Msg("Failed to publish run progress")
		return
	}
	log.Debug().Str("runId", runID).Str("step", string(step)).Str("entryId", id).Msg("Run progress published")
}

// Connect parses a redis:// URL, opens a client and checks it with PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}
