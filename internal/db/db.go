package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/payloadbench/apiserver/config"
)

const pingTimeout = 5 * time.Second

// pool holds connection limits sized for a single benchmark instance that
// writes one row per served response.
var pool = struct {
	maxOpen, maxIdle  int
	idleTime, maxLife time.Duration
}{
	maxOpen:  25,
	maxIdle:  5,
	idleTime: 2 * time.Minute,
	maxLife:  30 * time.Minute,
}

// DSN builds the postgres URL for cfg.
func DSN(cfg config.DatabaseConfig) string {
	q := url.Values{}
	if cfg.UseSSL {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     cfg.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Open connects through lib/pq and pings the database before returning.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	connector, err := pq.NewConnector(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	conn := sql.OpenDB(connector)
	conn.SetMaxOpenConns(pool.maxOpen)
	conn.SetMaxIdleConns(pool.maxIdle)
	conn.SetConnMaxIdleTime(pool.idleTime)
	conn.SetConnMaxLifetime(pool.maxLife)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("postgres ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return conn, nil
}
