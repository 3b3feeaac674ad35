package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/bryan-buckman/feedwindow/internal/authors"
	"github.com/bryan-buckman/feedwindow/internal/config"
	"github.com/bryan-buckman/feedwindow/internal/events"
	"github.com/bryan-buckman/feedwindow/internal/opml"
	"github.com/bryan-buckman/feedwindow/internal/remote"
	"github.com/bryan-buckman/feedwindow/internal/rss"
)

// backends holds the optional external connections. Zero values mean the
// in-process fallback is in use.
type backends struct {
	docs     remote.DocumentStore
	postgres *remote.PostgresDocuments
	redis    *redis.Client
	nats     *nats.Conn
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	if dsn := cfg.Stores.PostgresDSN; dsn != "" {
		pg, err := remote.NewPostgres(dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		b.postgres = pg
		b.docs = pg
	} else {
		slog.Warn("no postgres DSN configured, using in-memory document store")
		b.docs = remote.NewMemoryDocuments()
	}

	if addr := cfg.Stores.RedisAddr; addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("connect redis %s: %w", addr, err)
		}
		b.redis = rdb
	}

	if url := cfg.Stores.NATSURL; url != "" {
		nc, err := nats.Connect(url)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect nats %s: %w", url, err)
		}
		b.nats = nc
	}
	return b, nil
}

// directory returns the author directory: Redis when configured, else an
// empty static one that leaves every author unknown.
func (b *backends) directory() authors.Directory {
	if b.redis != nil {
		return authors.NewRedisDirectory(b.redis)
	}
	return authors.StaticDirectory{}
}

// authorWriter returns where the seeder records feed display info.
func (b *backends) authorWriter() rss.AuthorWriter {
	if b.redis != nil {
		return authors.NewRedisDirectory(b.redis)
	}
	return nil
}

func (b *backends) sink(logger *slog.Logger) events.Sink {
	sinks := events.Multi{events.LogSink{Logger: logger}}
	if b.nats != nil {
		sinks = append(sinks, events.NewNATSSink(b.nats, logger))
	}
	return sinks
}

func (b *backends) Close() {
	if b.nats != nil {
		b.nats.Drain()
	}
	if b.redis != nil {
		b.redis.Close()
	}
	if b.postgres != nil {
		b.postgres.Close()
	}
}

func newSeeder(cfg *config.Config, b *backends, logger *slog.Logger) (*rss.Seeder, error) {
	opts := []rss.Option{
		rss.WithWorkers(cfg.Seed.Workers),
		rss.WithMaxPerFeed(cfg.Seed.MaxPerFeed),
		rss.WithLogger(logger),
	}
	if w := b.authorWriter(); w != nil {
		opts = append(opts, rss.WithAuthors(w))
	}
	seeder := rss.NewSeeder(b.docs, opts...)

	if path := cfg.Seed.OPMLPath; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open opml: %w", err)
		}
		defer f.Close()
		entries, err := opml.Parse(f)
		if err != nil {
			return nil, err
		}
		n := seeder.AddFeeds(entries...)
		logger.Info("loaded feed list", "path", path, "feeds", n)
	}
	return seeder, nil
}
