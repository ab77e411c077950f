// Package database archives terminal jobs in PostgreSQL.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Options configures Connect.
type Options struct {
	URL string
	// MaxConns caps the pool. Zero uses 8.
	MaxConns int32
	// ConnectAttempts is how many pings Connect tries before giving up.
	// Zero uses 5. The server may still be starting when dubby boots.
	ConnectAttempts int
	RetryDelay      time.Duration
	Log             zerolog.Logger
}

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect opens a pool and pings the server, retrying while it is
// unreachable.
func Connect(ctx context.Context, opts Options) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = opts.MaxConns
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 8
	}
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute

	attempts := opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 5
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	dsn := maskDSN(opts.URL)
	if err := pingWithRetry(ctx, pool, attempts, delay, opts.Log.With().Str("url", dsn).Logger()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", dsn, err)
	}

	opts.Log.Info().
		Str("url", dsn).
		Int32("max_conns", cfg.MaxConns).
		Msg("database connected")

	return &DB{Pool: pool, log: opts.Log}, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func pingWithRetry(ctx context.Context, p pinger, attempts int, delay time.Duration, log zerolog.Logger) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = p.Ping(ctx); err == nil {
			return nil
		}
		if i == attempts || ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i).Dur("retry_in", delay).Msg("database not reachable yet")
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
	}
	return err
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

// maskDSN hides the password of a connection URL for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}

func (db *DB) Close() {
	db.log.Info().Msg("closing database pool")
	db.Pool.Close()
}
