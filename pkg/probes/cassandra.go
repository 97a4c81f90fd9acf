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
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

// Cassandra validates connectivity to the Cassandra cluster, checks
// node health, and verifies keyspace access and replication settings.
type Cassandra struct {
	cfg config.Cassandra
}

func NewCassandra(cfg config.Cassandra) *Cassandra { return &Cassandra{cfg: cfg} }

func (c *Cassandra) ID() string            { return "cassandra" }
func (c *Cassandra) DisplayName() string   { return "Cassandra" }
func (c *Cassandra) Configured() bool      { return c.cfg.Configured() }
func (c *Cassandra) MissingKeys() []string { return c.cfg.MissingKeys() }

func (c *Cassandra) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(c)
	if !c.Configured() {
		return probe.Skipped(c, c.MissingKeys())
	}

	cluster := gocql.NewCluster(c.cfg.Hosts...)
	cluster.Port = c.cfg.Port
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: c.cfg.Username,
		Password: c.cfg.Password,
	}
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < cluster.Timeout {
			cluster.Timeout = remaining
			cluster.ConnectTimeout = remaining
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		r.Fail("connect", fmt.Sprintf("could not connect to %s: %v", strings.Join(c.cfg.Hosts, ","), err),
			"verify CASSANDRA_HOSTS/PORT are reachable and the credentials are accepted by the cluster's authenticator", "CASSANDRA_CONNECT")
		return r.Complete()
	}
	defer session.Close()

	var releaseVersion, clusterName string
	if err := session.Query("SELECT release_version, cluster_name FROM system.local").
		WithContext(ctx).Scan(&releaseVersion, &clusterName); err != nil {
		r.Fail("connect", fmt.Sprintf("connected but system.local query failed: %v", err),
			"the session opened but reads fail; check the user's SELECT permission on system tables", "CASSANDRA_QUERY")
		return r.Complete()
	}
	r.Pass("connect", "connected", map[string]any{
		"cluster_name":    clusterName,
		"release_version": releaseVersion,
	})

	c.clusterHealth(ctx, session, r)
	keyspaces := c.listKeyspaces(ctx, session, r)
	c.queryExecution(ctx, session, r)
	c.replication(ctx, session, r, keyspaces)
	return r.Complete()
}

func (c *Cassandra) clusterHealth(ctx context.Context, session *gocql.Session, r *probe.Recorder) {
	iter := session.Query("SELECT peer, release_version FROM system.peers").WithContext(ctx).Iter()
	peers := 0
	var peer, version string
	for iter.Scan(&peer, &version) {
		peers++
	}
	if err := iter.Close(); err != nil {
		r.Fail("cluster_health", fmt.Sprintf("could not read system.peers: %v", err),
			"a node answered but peer information is unreadable; check whether some nodes are down or still joining", "CASSANDRA_PEERS")
		return
	}
	r.Pass("cluster_health", fmt.Sprintf("%d node(s) reachable", peers+1), map[string]any{
		"contacted_node_peers": peers,
	})
}

func (c *Cassandra) listKeyspaces(ctx context.Context, session *gocql.Session, r *probe.Recorder) []string {
	iter := session.Query("SELECT keyspace_name FROM system_schema.keyspaces").WithContext(ctx).Iter()
	var keyspaces []string
	var name string
	for iter.Scan(&name) {
		keyspaces = append(keyspaces, name)
	}
	if err := iter.Close(); err != nil {
		r.Fail("list_keyspaces", fmt.Sprintf("could not list keyspaces: %v", err),
			"grant the probe user DESCRIBE on the cluster or SELECT on system_schema", "CASSANDRA_KEYSPACES")
		return nil
	}
	details := map[string]any{"keyspaces": keyspaces}
	if c.cfg.Keyspace != "" {
		found := false
		for _, ks := range keyspaces {
			if ks == c.cfg.Keyspace {
				found = true
				break
			}
		}
		details["configured_keyspace_present"] = found
		if !found {
			r.Fail("list_keyspaces", fmt.Sprintf("configured keyspace %q does not exist", c.cfg.Keyspace),
				fmt.Sprintf("create keyspace %q or correct CASSANDRA_KEYSPACE", c.cfg.Keyspace), "CASSANDRA_NO_KEYSPACE")
			return keyspaces
		}
	}
	r.Pass("list_keyspaces", fmt.Sprintf("%d keyspaces", len(keyspaces)), details)
	return keyspaces
}

func (c *Cassandra) queryExecution(ctx context.Context, session *gocql.Session, r *probe.Recorder) {
	start := time.Now()
	var now time.Time
	if err := session.Query("SELECT now() FROM system.local").WithContext(ctx).Scan(&now); err != nil {
		r.Fail("query_execution", fmt.Sprintf("test query failed: %v", err),
			"basic reads are failing; inspect the coordinator node's logs for timeouts or overload", "CASSANDRA_QUERY")
		return
	}
	r.Pass("query_execution", "test query succeeded", map[string]any{
		"latency_ms": float64(time.Since(start).Microseconds()) / 1000,
	})
}

func (c *Cassandra) replication(ctx context.Context, session *gocql.Session, r *probe.Recorder, keyspaces []string) {
	target := c.cfg.Keyspace
	if target == "" {
		r.Skip("replication", "no CASSANDRA_KEYSPACE configured; replication not checked")
		return
	}
	var replication map[string]string
	if err := session.Query("SELECT replication FROM system_schema.keyspaces WHERE keyspace_name = ?", target).
		WithContext(ctx).Scan(&replication); err != nil {
		r.Fail("replication", fmt.Sprintf("could not read replication for %q: %v", target, err),
			"the keyspace exists but its schema row is unreadable; check system_schema permissions", "CASSANDRA_REPLICATION")
		return
	}
	details := map[string]any{}
	for k, v := range replication {
		details[k] = v
	}
	r.Pass("replication", fmt.Sprintf("replication settings for %q", target), details)
}
