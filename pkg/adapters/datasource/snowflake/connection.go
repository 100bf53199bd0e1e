package snowflake

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/alexbrainman/odbc" // ODBC driver, registers "odbc"
	"go.uber.org/zap"

	"github.com/wr-db/snowflake-writer/pkg/adapters/datasource"
	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/logging"
	"github.com/wr-db/snowflake-writer/pkg/retry"
	sqlbuilder "github.com/wr-db/snowflake-writer/pkg/sql"
)

// DriverName is the database/sql driver used for warehouse sessions.
const DriverName = "odbc"

// Opener opens a database handle; sql.Open by default.
type Opener func(driverName, dsn string) (*sql.DB, error)

// Option customizes a Connection.
type Option func(*Connection)

// WithOpener replaces sql.Open, e.g. with a handle from go-sqlmock.
func WithOpener(open Opener) Option {
	return func(c *Connection) {
		c.open = open
	}
}

// WithRetryConfig overrides the connect backoff.
func WithRetryConfig(cfg *retry.Config) Option {
	return func(c *Connection) {
		c.retryCfg = cfg
	}
}

// Connection is a single Snowflake session. The underlying *sql.DB is capped at one
// connection and that connection is pinned, so temporary tables, USE statements
// and the query tag all apply to every statement.
type Connection struct {
	cfg      Config
	logger   *zap.Logger
	open     Opener
	retryCfg *retry.Config

	db   *sql.DB
	conn *sql.Conn
}

var _ datasource.Connection = (*Connection)(nil)

// NewConnection validates cfg and connects, retrying transient failures (failed
// REST logins reported as ODBC state S1000, network errors) with exponential
// backoff. Any other failure is returned immediately.
func NewConnection(ctx context.Context, cfg *Config, logger *zap.Logger, opts ...Option) (*Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Connection{
		cfg:    cfg.withDefaults(),
		logger: logger.Named("snowflake"),
		open:   sql.Open,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retryCfg == nil {
		c.retryCfg = retry.ConnectConfig(c.cfg.MaxBackoffAttempts)
	}

	c.logger.Debug("Connecting to Snowflake",
		zap.String("dsn", logging.SanitizeConnectionString(c.cfg.DSN())))

	attempt := 0
	err := retry.DoIfRetryable(ctx, c.retryCfg, func() error {
		attempt++
		err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("Snowflake connection attempt failed",
				zap.Int("attempt", attempt),
				zap.String("error", logging.SanitizeError(err)))
		}
		return err
	})
	if err != nil {
		if isMissingDriver(err) {
			return nil, apperrors.NewApplicationError(err, "Missing driver: %s", logging.SanitizeError(err))
		}
		return nil, apperrors.NewUserError(err, "Initializing Snowflake connection failed: %s", logging.SanitizeError(err))
	}

	return c, nil
}

// isMissingDriver matches the driver manager's IM002 "no default driver" error.
func isMissingDriver(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "im002") || strings.Contains(msg, "could not find driver")
}

func (c *Connection) connect(ctx context.Context) error {
	db, err := c.open(DriverName, c.cfg.DSN())
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return fmt.Errorf("connect: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return fmt.Errorf("ping: %w", err)
	}

	if c.cfg.RunID != "" {
		if _, err := conn.ExecContext(ctx, c.queryTagStatement()); err != nil {
			conn.Close()
			db.Close()
			return fmt.Errorf("set query tag: %w", err)
		}
	}

	c.db = db
	c.conn = conn
	return nil
}

func (c *Connection) queryTagStatement() string {
	tag, _ := json.Marshal(map[string]string{"runId": c.cfg.RunID})
	return "ALTER SESSION SET QUERY_TAG = " + c.QuoteLiteral(string(tag))
}

// prepare normalizes the statement and logs it with credentials redacted.
func (c *Connection) prepare(query string) (string, error) {
	if c.conn == nil {
		return "", apperrors.NewApplicationError(errors.New("connection is closed"), "Connection is closed")
	}
	stmt, err := sqlbuilder.NormalizeStatement(query)
	if err != nil {
		return "", apperrors.NewApplicationError(err, "Invalid statement: %s", err.Error())
	}
	c.logger.Info("Executing query", zap.String("query", logging.RedactCredentials(stmt)))
	return stmt, nil
}

func (c *Connection) queryError(err error) error {
	return apperrors.NewUserError(err, "Query execution error: %s", logging.SanitizeError(err))
}

// Exec runs a statement and discards any result.
func (c *Connection) Exec(ctx context.Context, query string) error {
	stmt, err := c.prepare(query)
	if err != nil {
		return err
	}
	if _, err := c.conn.ExecContext(ctx, stmt); err != nil {
		return c.queryError(err)
	}
	return nil
}

// FetchAll runs a statement and returns all rows.
func (c *Connection) FetchAll(ctx context.Context, query string) ([]datasource.Row, error) {
	stmt, err := c.prepare(query)
	if err != nil {
		return nil, err
	}

	rows, err := c.conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, c.queryError(err)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, c.queryError(err)
	}

	result := make([]datasource.Row, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, c.queryError(err)
		}

		row := make(datasource.Row, len(columnNames))
		for i, col := range columnNames {
			val := values[i]
			// The ODBC driver hands back text as []byte
			if b, ok := val.([]byte); ok {
				val = string(b)
			}
			row[col] = val
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, c.queryError(err)
	}

	return result, nil
}

// QuoteIdentifier doubles embedded double quotes and wraps the value in double quotes.
func (c *Connection) QuoteIdentifier(s string) string {
	return sqlbuilder.QuoteIdentifier(s)
}

// QuoteLiteral backslash-escapes the value and wraps it in single quotes.
func (c *Connection) QuoteLiteral(s string) string {
	return sqlbuilder.QuoteLiteral(s)
}

// Close releases the pinned session and the handle. Safe to call more than once.
func (c *Connection) Close() error {
	var errs []error
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
		c.conn = nil
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
		c.db = nil
	}
	return errors.Join(errs...)
}
