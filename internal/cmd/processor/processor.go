// Package processor parses processor command flags and launches the delivery
// queue processor runtime.
package processor

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	entrypoint "github.com/classpulse/classpulse/internal/platform/cmd"
	"github.com/classpulse/classpulse/internal/services/comms/cache"
	"github.com/classpulse/classpulse/internal/services/comms/domain"
	commsproc "github.com/classpulse/classpulse/internal/services/comms/processor"
	"github.com/classpulse/classpulse/internal/services/comms/storage/sqlite"
)

// Config holds processor command configuration.
type Config struct {
	DBPath           string        `env:"CLASSPULSE_PROCESSOR_DB_PATH" envDefault:"data/comms.db"`
	Consumer         string        `env:"CLASSPULSE_PROCESSOR_CONSUMER" envDefault:"comms-processor"`
	PollInterval     time.Duration `env:"CLASSPULSE_PROCESSOR_POLL_INTERVAL" envDefault:"5s"`
	LeaseTTL         time.Duration `env:"CLASSPULSE_PROCESSOR_LEASE_TTL" envDefault:"2m"`
	SendTimeout      time.Duration `env:"CLASSPULSE_PROCESSOR_SEND_TIMEOUT" envDefault:"10s"`
	RetryBackoff     time.Duration `env:"CLASSPULSE_PROCESSOR_RETRY_BACKOFF" envDefault:"24h"`
	BatchSize        int           `env:"CLASSPULSE_PROCESSOR_BATCH_SIZE" envDefault:"32"`
	SendingHourStart int           `env:"CLASSPULSE_PROCESSOR_SENDING_HOUR_START" envDefault:"0"`
	SendingHourEnd   int           `env:"CLASSPULSE_PROCESSOR_SENDING_HOUR_END" envDefault:"0"`
	RedisAddr        string        `env:"CLASSPULSE_PROCESSOR_REDIS_ADDR" envDefault:""`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The comms SQLite database path")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Queue lease consumer name")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Queue poll interval")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "Queue entry lease duration")
	fs.DurationVar(&cfg.SendTimeout, "send-timeout", cfg.SendTimeout, "Provider send timeout")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Same-channel retry delay")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Maximum claims per drain pass")
	fs.IntVar(&cfg.SendingHourStart, "sending-hour-start", cfg.SendingHourStart, "Sending window start hour (UTC)")
	fs.IntVar(&cfg.SendingHourEnd, "sending-hour-end", cfg.SendingHourEnd, "Sending window end hour (UTC, exclusive)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the projection cache (empty disables)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the delivery queue processor runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceProcessor, func(ctx context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				log.Printf("close store: %v", closeErr)
			}
		}()

		var projections domain.ProjectionCache
		if cfg.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			defer func() {
				if closeErr := client.Close(); closeErr != nil {
					log.Printf("close redis: %v", closeErr)
				}
			}()
			projections = cache.New(client, 0)
		}

		proc, err := commsproc.New(commsproc.Config{
			Consumer:         cfg.Consumer,
			PollInterval:     cfg.PollInterval,
			LeaseTTL:         cfg.LeaseTTL,
			SendTimeout:      cfg.SendTimeout,
			RetryBackoff:     cfg.RetryBackoff,
			BatchSize:        cfg.BatchSize,
			SendingHourStart: cfg.SendingHourStart,
			SendingHourEnd:   cfg.SendingHourEnd,
		}, store, commsproc.NewLogSender(), projections, nil, nil)
		if err != nil {
			return err
		}

		log.Printf("processor %s polling every %s", cfg.Consumer, cfg.PollInterval)
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}
