package snowflake

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/retry"
	sqlbuilder "github.com/wr-db/snowflake-writer/pkg/sql"
)

// Config contains Snowflake session options.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	Database  string
	Schema    string
	Warehouse string // optional; the user's DEFAULT_WAREHOUSE is used when empty

	// RunID tags every statement of the session via QUERY_TAG.
	RunID string

	// Driver is the ODBC driver name registered with the driver manager.
	Driver string

	MaxBackoffAttempts int
	LoginTimeout       int // seconds
	NetworkTimeout     int // seconds, 0 means not set
	QueryTimeout       int // seconds, 0 means not set
	Tracing            int
}

// DefaultPort returns the default Snowflake port.
func DefaultPort() int {
	return 443
}

// DefaultDriver returns the name the Snowflake ODBC driver registers under.
func DefaultDriver() string {
	return "SnowflakeDSIIDriver"
}

// DefaultMaxBackoffAttempts returns how often a failed REST login is retried.
func DefaultMaxBackoffAttempts() int {
	return retry.DefaultMaxAttempts
}

// DefaultLoginTimeout returns the default login timeout in seconds.
func DefaultLoginTimeout() int {
	return 30
}

// Validate checks that every required parameter is present.
func (c *Config) Validate() error {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"host", c.Host},
		{"user", c.User},
		{"password", c.Password},
		{"database", c.Database},
		{"schema", c.Schema},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperrors.NewUserError(apperrors.ErrInvalidSpec, "Missing options: %s", strings.Join(missing, ", "))
	}
	if c.Port < 0 || c.Port > 65535 {
		return apperrors.NewUserError(apperrors.ErrInvalidSpec, "Invalid port: %d", c.Port)
	}
	return nil
}

// withDefaults fills unset optional fields.
func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort()
	}
	if c.Driver == "" {
		c.Driver = DefaultDriver()
	}
	if c.MaxBackoffAttempts == 0 {
		c.MaxBackoffAttempts = DefaultMaxBackoffAttempts()
	}
	if c.LoginTimeout == 0 {
		c.LoginTimeout = DefaultLoginTimeout()
	}
	return c
}

// DSN returns the ODBC connection string including credentials.
// Log it only through logging.SanitizeConnectionString.
func (c *Config) DSN() string {
	cfg := c.withDefaults()

	parts := []string{
		"Driver=" + cfg.Driver,
		"Server=" + cfg.Host,
		"Port=" + strconv.Itoa(cfg.Port),
		"Tracing=" + strconv.Itoa(cfg.Tracing),
		"Login_timeout=" + strconv.Itoa(cfg.LoginTimeout),
		"Database=" + odbcValue(sqlbuilder.QuoteIdentifier(cfg.Database)),
		"Schema=" + odbcValue(sqlbuilder.QuoteIdentifier(cfg.Schema)),
	}
	if cfg.NetworkTimeout > 0 {
		parts = append(parts, "Network_timeout="+strconv.Itoa(cfg.NetworkTimeout))
	}
	if cfg.QueryTimeout > 0 {
		parts = append(parts, "Query_timeout="+strconv.Itoa(cfg.QueryTimeout))
	}
	if cfg.Warehouse != "" {
		parts = append(parts, "Warehouse="+odbcValue(sqlbuilder.QuoteIdentifier(cfg.Warehouse)))
	}
	parts = append(parts,
		"CLIENT_SESSION_KEEP_ALIVE=TRUE",
		"uid="+odbcValue(cfg.User),
		"pwd="+odbcValue(cfg.Password),
	)
	return strings.Join(parts, ";")
}

// odbcValue braces a connection string value that contains separators.
func odbcValue(v string) string {
	if !strings.ContainsAny(v, ";{}=") {
		return v
	}
	return "{" + strings.ReplaceAll(v, "}", "}}") + "}"
}

func (c *Config) String() string {
	return fmt.Sprintf("%s@%s/%s.%s", c.User, c.Host, c.Database, c.Schema)
}
