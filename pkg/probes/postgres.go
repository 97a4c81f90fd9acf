/*
Copyright 2025 The airia-test-pod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package probes

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

// Postgres validates connectivity to the platform's PostgreSQL server
// and enumerates databases and installed extensions.
type Postgres struct {
	cfg config.Postgres
}

func NewPostgres(cfg config.Postgres) *Postgres { return &Postgres{cfg: cfg} }

func (p *Postgres) ID() string            { return "postgresqlv2" }
func (p *Postgres) DisplayName() string   { return "PostgreSQL" }
func (p *Postgres) Configured() bool      { return p.cfg.Configured() }
func (p *Postgres) MissingKeys() []string { return p.cfg.MissingKeys() }

// connString builds the connection URL. Credentials go through
// url.UserPassword so reserved characters in the user or password
// survive parsing.
func (p *Postgres) connString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.cfg.User, p.cfg.Password),
		Host:     net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port)),
		Path:     "/" + p.cfg.Database,
		RawQuery: url.Values{"sslmode": []string{p.cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

func (p *Postgres) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(p)
	if !p.Configured() {
		return probe.Skipped(p, p.MissingKeys())
	}

	conn, err := pgx.Connect(ctx, p.connString())
	if err != nil {
		r.Fail("connect", fmt.Sprintf("could not connect to %s:%d: %v", p.cfg.Host, p.cfg.Port, err),
			"verify POSTGRESQL_HOST/PORT are reachable from the cluster and that the user and password are valid; check pg_hba.conf allows this client", "PG_CONNECT")
		return r.Complete()
	}
	defer conn.Close(context.Background())

	var version string
	if err := conn.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		r.Fail("connect", fmt.Sprintf("connected but SELECT version() failed: %v", err),
			"the connection was established but queries fail; check the user's CONNECT privilege on the database", "PG_QUERY")
		return r.Complete()
	}
	r.Pass("connect", "connected", map[string]any{"server_version": version})

	p.listDatabases(ctx, conn, r)
	p.listExtensions(ctx, conn, r)
	return r.Complete()
}

func (p *Postgres) listDatabases(ctx context.Context, conn *pgx.Conn, r *probe.Recorder) {
	rows, err := conn.Query(ctx,
		`SELECT datname, pg_size_pretty(pg_database_size(datname))
		 FROM pg_database WHERE datistemplate = false ORDER BY datname`)
	if err != nil {
		r.Fail("list_databases", fmt.Sprintf("could not list databases: %v", err),
			"the probe user lacks permission to read pg_database; grant it CONNECT on the server's databases", "PG_LIST_DB")
		return
	}
	defer rows.Close()

	sizes := map[string]any{}
	for rows.Next() {
		var name, size string
		if err := rows.Scan(&name, &size); err != nil {
			r.Fail("list_databases", fmt.Sprintf("scanning database row: %v", err),
				"unexpected catalog shape; check the server is a supported PostgreSQL version", "PG_LIST_DB")
			return
		}
		sizes[name] = size
	}
	r.Pass("list_databases", fmt.Sprintf("%d databases", len(sizes)), sizes)
}

func (p *Postgres) listExtensions(ctx context.Context, conn *pgx.Conn, r *probe.Recorder) {
	rows, err := conn.Query(ctx, "SELECT extname, extversion FROM pg_extension ORDER BY extname")
	if err != nil {
		r.Fail("list_extensions", fmt.Sprintf("could not list extensions: %v", err),
			"the probe user cannot read pg_extension in this database; connect as a user with USAGE on the catalog", "PG_LIST_EXT")
		return
	}
	defer rows.Close()

	exts := map[string]any{}
	for rows.Next() {
		var name, version string
		if err := rows.Scan(&name, &version); err != nil {
			r.Fail("list_extensions", fmt.Sprintf("scanning extension row: %v", err),
				"unexpected catalog shape; check the server is a supported PostgreSQL version", "PG_LIST_EXT")
			return
		}
		exts[name] = version
	}
	r.Pass("list_extensions", fmt.Sprintf("%d extensions", len(exts)), exts)
}
