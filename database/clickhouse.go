package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type ClickHouseClient struct {
	Conn clickhouse.Conn
}

type ClickHouseOptions struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// NewClickHouseDB connects to the raw-event store over the native protocol.
func NewClickHouseDB(opts ClickHouseOptions) (*ClickHouseClient, error) {
	if opts.Host == "" || opts.Database == "" {
		return nil, fmt.Errorf("clickhouse host and database are required")
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", opts.Host, opts.Port)},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "inkwell-api", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: time.Second * 5,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse via Native TCP: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Println("Successfully connected to ClickHouse database via Native TCP!")
	return &ClickHouseClient{Conn: conn}, nil
}

// EnsureSchema creates the raw events table. Retention is enforced by the
// table TTL: rows age out 60 days after their server timestamp.
func (c *ClickHouseClient) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS analytics_events (
			event_id        UUID,
			name            LowCardinality(String),
			session_hash    String,
			client_ts       DateTime64(3, 'UTC'),
			server_ts       DateTime64(3, 'UTC'),
			path            String,
			referrer        String,
			device_type     LowCardinality(String),
			os              LowCardinality(String),
			browser         LowCardinality(String),
			progress_bucket UInt8,
			ip_hash         String
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(server_ts)
		ORDER BY (name, server_ts, path)
		TTL toDateTime(server_ts) + INTERVAL 60 DAY
	`
	if err := c.Conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create analytics_events table: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) Close() {
	if c.Conn != nil {
		c.Conn.Close()
		log.Println("ClickHouse connection closed.")
	}
}
