// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package dbopen connects to the PostgreSQL database that holds the
// backlog ledger.
package dbopen

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxotel"

	"github.com/cardinalhq/rawetl/internal/backlog/migrations"
)

// LedgerEnvPrefix names the environment variables read by ConnectLedger.
const LedgerEnvPrefix = "RAWETL_LEDGER"

var ErrDatabaseNotConfigured = errors.New("database connection configuration is unavailable")

// GetDatabaseURLFromEnv builds a PostgreSQL URL from PREFIX_HOST,
// PREFIX_PORT, PREFIX_USER, PREFIX_PASSWORD, PREFIX_DBNAME and
// PREFIX_SSLMODE. PREFIX_URL, when set, wins outright. HOST and DBNAME
// are required; PORT defaults to 5432.
func GetDatabaseURLFromEnv(prefix string) (string, error) {
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}

	if urlStr := os.Getenv(prefix + "URL"); urlStr != "" {
		return urlStr, nil
	}

	host := os.Getenv(prefix + "HOST")
	dbname := os.Getenv(prefix + "DBNAME")

	var missing []string
	if host == "" {
		missing = append(missing, prefix+"HOST")
	}
	if dbname == "" {
		missing = append(missing, prefix+"DBNAME")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	port := os.Getenv(prefix + "PORT")
	if port == "" {
		port = "5432"
	}

	u := &url.URL{
		Scheme: "postgresql",
		Host:   host + ":" + port,
		Path:   dbname,
	}
	if user := os.Getenv(prefix + "USER"); user != "" {
		if pass := os.Getenv(prefix + "PASSWORD"); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}

	q := u.Query()
	if sslmode := os.Getenv(prefix + "SSLMODE"); sslmode != "" {
		q.Set("sslmode", sslmode)
	}
	if appName := os.Getenv("OTEL_SERVICE_NAME"); appName != "" {
		q.Set("application_name", applicationName(appName))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// applicationName keeps only characters postgres accepts without quoting
// and truncates to the 63 byte identifier limit.
func applicationName(s string) string {
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, s)
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}

// NewPool opens a pgx pool with OpenTelemetry query tracing.
func NewPool(ctx context.Context, connString, name string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.ConnConfig.Tracer = &pgxotel.QueryTracer{Name: name}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// Options tunes ConnectLedger.
type Options struct {
	// Migrate applies pending ledger migrations after connecting.
	Migrate bool
}

// ConnectLedger opens the ledger database described by the RAWETL_LEDGER_*
// environment.
func ConnectLedger(ctx context.Context, opts Options) (*pgxpool.Pool, error) {
	connString, err := GetDatabaseURLFromEnv(LedgerEnvPrefix)
	if err != nil {
		return nil, errors.Join(ErrDatabaseNotConfigured, fmt.Errorf("ledger connection string: %w", err))
	}

	pool, err := NewPool(ctx, connString, "ledger")
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to ledger database: %w", err)
	}

	if opts.Migrate {
		if err := migrations.RunMigrationsUp(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}
