// Package cowsql wires together the volatile VFS, the leader execution
// pipeline, the follower apply path, Raft, and the role manager into a
// single embeddable node, per the external interfaces described in §6.
package cowsql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/psanford/sqlite3vfs"

	"github.com/cowsql/go-cowsql/apply"
	"github.com/cowsql/go-cowsql/id"
	"github.com/cowsql/go-cowsql/internal/logging"
	"github.com/cowsql/go-cowsql/internal/sqlite"
	"github.com/cowsql/go-cowsql/internal/vfs"
	"github.com/cowsql/go-cowsql/leader"
	"github.com/cowsql/go-cowsql/raft"
	"github.com/cowsql/go-cowsql/roles"
)

// Default values for the fields of Config left unset, matching §6's
// configuration surface exactly.
const (
	DefaultHeartbeatTimeoutMs        = 15000
	DefaultPageSize                  = 4096
	DefaultCheckpointThresholdFrames = 1000
)

// Config is the environment and configuration structure consumed by a
// node, mirroring §6's enumerated options field for field.
type Config struct {
	// HeartbeatTimeoutMs bounds Raft leader election responsiveness.
	HeartbeatTimeoutMs int
	// PageSize is the SQLite page size new databases on this node use.
	PageSize int
	// CheckpointThresholdFrames is how many outstanding WAL frames
	// trigger a follower-side checkpoint.
	CheckpointThresholdFrames int
	// Voters is the target number of voting cluster members.
	Voters int
	// Standbys is the target number of non-voting standby members.
	Standbys int
	// FailureDomain is an opaque fault-isolation tag used by the role
	// manager to diversify voter placement.
	FailureDomain uint64
	// Weight influences promotion/demotion tie-breaking; lower is
	// preferred for promotion.
	Weight uint64
	// NodeID uniquely identifies this node; must be nonzero.
	NodeID uint64
	// Dir is an advisory path for on-disk modes; unused by the volatile
	// VFS, but still required by Raft for its log/stable/snapshot
	// stores.
	Dir string
	// Address is this node's Raft bind/advertise address. Empty runs a
	// single, unreachable in-memory node (tests, or a standalone demo).
	Address string
}

func (c *Config) setDefaults() {
	if c.HeartbeatTimeoutMs <= 0 {
		c.HeartbeatTimeoutMs = DefaultHeartbeatTimeoutMs
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.CheckpointThresholdFrames <= 0 {
		c.CheckpointThresholdFrames = DefaultCheckpointThresholdFrames
	}
}

func (c *Config) validate() error {
	if c.NodeID == 0 {
		return fmt.Errorf("cowsql: node_id must be nonzero")
	}
	if c.Voters < 1 {
		return fmt.Errorf("cowsql: voters must be >= 1")
	}
	if c.Standbys < 0 {
		return fmt.Errorf("cowsql: standbys must be >= 0")
	}
	return nil
}

// Node is a running cowsql instance: one Raft participant hosting one or
// more volatile databases, each servable through a Leader.
type Node struct {
	config   Config
	follower *apply.Follower
	raft     *raft.Node
	manager  *roles.Manager
	rng      *id.State

	registry *vfs.Registry
	vfsName  string

	leaders map[string]*leader.Leader
	conns   map[string]*sqlite.Conn
}

// Open creates a node from config, initialising the volatile VFS
// registry, the follower apply path, and the Raft instance backing it.
// The VFS registry and its SQLite registration are created once here and
// shared by every database this node later opens via Database, matching
// §3's "process-wide" Registry contract: one bounded slot table and one
// serializing mutex per node, not one per database. No database is
// attached until Database is called.
func Open(config Config) (*Node, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	logging.Info("cowsql: opening node", logging.Ctx{"node_id": config.NodeID})

	follower := apply.NewFollower()

	raftNode, err := raft.New(raft.Config{
		NodeID:           config.NodeID,
		Address:          config.Address,
		Dir:              config.Dir,
		HeartbeatTimeout: time.Duration(config.HeartbeatTimeoutMs) * time.Millisecond,
	}, follower)
	if err != nil {
		return nil, fmt.Errorf("cowsql: start raft: %w", err)
	}

	registry := vfs.NewRegistry(vfs.DefaultSlots)
	vfsName := fmt.Sprintf("cowsql-vfs-%d", config.NodeID)
	if err := sqlite3vfs.RegisterVFS(vfsName, vfs.NewAdapter(registry)); err != nil {
		return nil, fmt.Errorf("cowsql: register volatile vfs: %w", err)
	}

	seed := config.NodeID
	rng := id.NewState(seed|1, seed|2, seed|4, seed|8)
	rng.Jump()

	return &Node{
		config:   config,
		follower: follower,
		raft:     raftNode,
		rng:      rng,
		registry: registry,
		vfsName:  vfsName,
		leaders:  make(map[string]*leader.Leader),
		conns:    make(map[string]*sqlite.Conn),
	}, nil
}

// Database opens (creating if necessary) a replicated database named
// name and returns its Leader, through which execs are submitted. The
// same Leader is returned on repeated calls with the same name.
func (n *Node) Database(name string) (*leader.Leader, error) {
	if l, ok := n.leaders[name]; ok {
		return l, nil
	}

	conn, err := sqlite.Open(n.registry, n.vfsName, name, n.config.PageSize)
	if err != nil {
		return nil, fmt.Errorf("cowsql: open database %q: %w", name, err)
	}

	n.follower.Register(&apply.Database{
		Name:                name,
		Registry:            conn.Registry(),
		Checkpointer:        conn.DB(),
		CheckpointThreshold: n.config.CheckpointThresholdFrames,
	})

	// Each leader gets its own copy of the node's root PRNG state, and the
	// root is then jumped for whichever database is opened next, per §4.4:
	// distinct leaders must produce disjoint request-id streams, not share
	// one generator across every database on the node.
	leaderRNG := *n.rng
	n.rng.Jump()

	timeout := time.Duration(n.config.HeartbeatTimeoutMs) * time.Millisecond
	l := leader.NewLeader(name, conn.Registry(), n.raft.Raft, timeout, &leaderRNG)

	n.conns[name] = conn
	n.leaders[name] = l
	return l, nil
}

// DB returns the *sql.DB backing an already-opened database, for issuing
// the statements a Leader's Step callback should run. Panics-free: it
// simply returns nil if name hasn't been opened via Database yet.
func (n *Node) DB(name string) *sql.DB {
	conn, ok := n.conns[name]
	if !ok {
		return nil
	}
	return conn.DB()
}

// AdjustRoles runs one role-manager pass against the given cluster view,
// applying computed changes through assigner. Intended to be called
// periodically by whichever node currently holds Raft leadership.
func (n *Node) AdjustRoles(cluster []roles.NodeView, assigner roles.Assigner) {
	if n.manager == nil {
		n.manager = roles.NewManager(n.config.Voters, n.config.Standbys, n.config.NodeID, assigner)
	}
	n.manager.Adjust(context.Background(), cluster)
}

// Close shuts down Raft, closes every open database connection, and
// aborts any leader execs still queued.
func (n *Node) Close() error {
	logging.Info("cowsql: closing node", logging.Ctx{"node_id": n.config.NodeID})

	for _, l := range n.leaders {
		l.Close()
	}
	if n.manager != nil {
		n.manager.CancelPending()
	}

	var firstErr error
	for _, conn := range n.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	// The registry is shared by every database this node hosts; it is torn
	// down once here, after every Conn using it has already closed, rather
	// than per-database inside Conn.Close.
	n.registry.TeardownAll()

	if err := n.raft.Shutdown(10 * time.Second); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
