package remote

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig selects a ClickHouse table.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// ClickHouseSink inserts one row per frame.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// tableName accepts a bare or database-qualified ClickHouse identifier.
var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTable reports whether name can be used as the sink table.
func ValidTable(name string) bool { return tableName.MatchString(name) }

// quoteTable renders a validated table name with backquoted parts.
func quoteTable(name string) string {
	return "`" + strings.ReplaceAll(name, ".", "`.`") + "`"
}

func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSink, error) {
	if !ValidTable(cfg.Table) {
		return nil, fmt.Errorf("%w: invalid clickhouse table %q", ErrEndpoint, cfg.Table)
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: clickhouse open: %v", ErrEndpoint, err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: clickhouse ping: %v", ErrEndpoint, err)
	}
	if err := conn.Exec(ctx, createTableSQL(quoteTable(cfg.Table))); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: clickhouse create table: %v", ErrEndpoint, err)
	}
	return &ClickHouseSink{conn: conn, table: quoteTable(cfg.Table)}, nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			can_id UInt32,
			extended Bool,
			dlc UInt8,
			data Array(UInt8),
			interval_us Int64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMMDD(timestamp)
		ORDER BY (timestamp, can_id)
	`, table)
}

func (s *ClickHouseSink) Deliver(ctx context.Context, b Batch) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return fmt.Errorf("%w: clickhouse prepare: %v", ErrEndpoint, err)
	}
	ts := b.Timestamps()
	for i, f := range b.Frames {
		if err := batch.Append(ts[i], f.ID, f.Extended(), f.Len, append([]uint8(nil), f.Payload()...), f.Interval.Microseconds()); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("%w: clickhouse append: %v", ErrEndpoint, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("%w: clickhouse send: %v", ErrEndpoint, err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error { return s.conn.Close() }
