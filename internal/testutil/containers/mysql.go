//go:build integration

package containers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_$][a-zA-Z0-9_$]*$`)

var errNoDB = errors.New("database connection is nil")

// MySQLContainer is a running MySQL server plus a shared *sql.DB used for
// housekeeping between tests.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	db        *sql.DB
	dsn       string
}

// MySQLConfig holds options for NewMySQLContainer.
type MySQLConfig struct {
	Database string
	Username string
	Password string
	ImageTag string
}

// DefaultMySQLConfig returns the settings used when NewMySQLContainer gets nil.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Database: "alarmpipe_test",
		Username: "alarmpipe",
		Password: "alarmpipe",
		ImageTag: "8.0",
	}
}

// NewMySQLContainer starts MySQL and verifies it answers a ping.
func NewMySQLContainer(ctx context.Context, config *MySQLConfig) (*MySQLContainer, error) {
	cfg := DefaultMySQLConfig()
	if config != nil {
		cfg = *config
	}

	container, err := mysql.Run(ctx, "mysql:"+cfg.ImageTag,
		mysql.WithDatabase(cfg.Database),
		mysql.WithUsername(cfg.Username),
		mysql.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start MySQL container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MySQLContainer{container: container, db: db, dsn: dsn}, nil
}

// GetDSN returns a go-sql-driver DSN for the test database.
func (c *MySQLContainer) GetDSN() string {
	return c.dsn
}

// HealthCheck runs SELECT 1.
func (c *MySQLContainer) HealthCheck(ctx context.Context) error {
	if c.db == nil {
		return errNoDB
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("health check returned %d", one)
	}
	return nil
}

// Reset truncates tables. Names are checked against MySQL identifier rules
// before any statement runs.
func (c *MySQLContainer) Reset(ctx context.Context, tables []string) error {
	if c.db == nil {
		return errNoDB
	}
	for _, table := range tables {
		if !tableNameRe.MatchString(table) {
			return fmt.Errorf("invalid table name: %q", table)
		}
	}
	for _, table := range tables {
		if _, err := c.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE `%s`", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}
	return nil
}

// Terminate closes the housekeeping connection and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
