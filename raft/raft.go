// Package raft wires the replication and apply packages into
// hashicorp/raft: FSM, transport, log/stable/snapshot stores, and
// single-voter bootstrap. It has no voter/standby/spare membership
// operations; the role manager applies changes through its own
// roles.Assigner.
package raft

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/cowsql/go-cowsql/apply"
	"github.com/cowsql/go-cowsql/internal/logging"
)

// Config is everything needed to stand up a Raft instance for one node.
type Config struct {
	// NodeID is this node's numeric identity, used as raft.ServerID.
	NodeID uint64
	// Address is this node's Raft-transport bind and advertise address
	// ("host:port"). Empty means run as a single, unreachable in-memory
	// node, useful for tests.
	Address string
	// Dir is the directory holding the Raft log, stable store, and
	// snapshots. It is created if missing.
	Dir string
	// HeartbeatTimeout bounds leader election responsiveness; zero uses
	// hashicorp/raft's own default.
	HeartbeatTimeout time.Duration
	// TransportTimeout bounds individual RPC round trips over the
	// network transport.
	TransportTimeout time.Duration
}

// Node bundles a running Raft instance with the resources that need
// explicit cleanup on shutdown.
type Node struct {
	Raft      *raft.Raft
	FSM       *FSM
	transport raft.Transport
	logStore  *raftboltdb.BoltStore
}

// New creates a Raft instance backed by follower as its FSM. If this is
// the sole server in the cluster (no existing state found and no peers
// are about to join), it self-bootstraps as a single-voter cluster, the
// way a first node does in the original code this is adapted from.
func New(cfg Config, follower *apply.Follower) (*Node, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("raft: data directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("raft: create data directory: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(strconv.FormatUint(cfg.NodeID, 10))
	raftConfig.Logger = newHCLogger()
	if cfg.HeartbeatTimeout > 0 {
		raftConfig.HeartbeatTimeout = cfg.HeartbeatTimeout
		raftConfig.ElectionTimeout = cfg.HeartbeatTimeout
	}

	var transport raft.Transport
	if cfg.Address == "" {
		_, inmem := raft.NewInmemTransport("")
		transport = inmem
		raftConfig.StartAsLeader = true
	} else {
		timeout := cfg.TransportTimeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		addr, err := net.ResolveTCPAddr("tcp", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("raft: invalid address %q: %w", cfg.Address, err)
		}
		tcp, err := raft.NewTCPTransport(cfg.Address, addr, 3, timeout, raftLogWriterAsIOWriter())
		if err != nil {
			return nil, fmt.Errorf("raft: create tcp transport: %w", err)
		}
		transport = tcp
	}

	if err := raft.ValidateConfig(raftConfig); err != nil {
		return nil, fmt.Errorf("raft: invalid configuration: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.Dir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("raft: open bolt log store: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStoreWithLogger(cfg.Dir, 2, nil)
	if err != nil {
		logStore.Close()
		return nil, fmt.Errorf("raft: open snapshot store: %w", err)
	}

	hasState, err := raft.HasExistingState(logStore, logStore, snapshots)
	if err != nil {
		logStore.Close()
		return nil, fmt.Errorf("raft: check existing state: %w", err)
	}
	if !hasState {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{ID: raftConfig.LocalID, Address: transport.LocalAddr()},
			},
		}
		if err := raft.BootstrapCluster(raftConfig, logStore, logStore, snapshots, transport, configuration); err != nil {
			logStore.Close()
			return nil, fmt.Errorf("raft: bootstrap cluster: %w", err)
		}
	}

	fsm := NewFSM(follower)
	r, err := raft.NewRaft(raftConfig, fsm, logStore, logStore, snapshots, transport)
	if err != nil {
		logStore.Close()
		return nil, fmt.Errorf("raft: start raft: %w", err)
	}

	return &Node{Raft: r, FSM: fsm, transport: transport, logStore: logStore}, nil
}

// Shutdown stops Raft and releases the bolt log store, waiting up to
// timeout for a graceful stop before giving up.
func (n *Node) Shutdown(timeout time.Duration) error {
	logging.Debug("raft: shutting down")
	done := make(chan error, 1)
	go func() { done <- n.Raft.Shutdown().Error() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("raft: shutdown: %w", err)
		}
	case <-time.After(timeout):
		return fmt.Errorf("raft: shutdown did not complete within %s", timeout)
	}
	return n.logStore.Close()
}

// newHCLogger builds an hclog.Logger that forwards every line through the
// core's own structured logger, so Raft's internal chatter lands in the
// same log stream as the rest of the node.
func newHCLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Output: &raftLogWriter{},
		Level:  hclog.Debug,
	})
}

func raftLogWriterAsIOWriter() *raftLogWriter {
	return &raftLogWriter{}
}

// raftLogWriter implements io.Writer on top of the core's logging
// package, translating hclog's bracketed level prefix into a call to the
// matching Debug/Info/Warn/Error function.
type raftLogWriter struct{}

func (w *raftLogWriter) Write(line []byte) (int, error) {
	level := ""
	msg := ""
	x := bytes.IndexByte(line, '[')
	if x >= 0 {
		y := bytes.IndexByte(line[x:], ']')
		if y >= 0 {
			level = string(line[x+1 : x+y])
			rest := line[x+y+1:]
			msg = strings.TrimSpace(string(rest))
		}
	}
	if level == "" {
		return len(line), nil
	}

	switch level {
	case "DEBUG", "TRACE":
		logging.Debug(msg)
	case "INFO":
		logging.Info(msg)
	case "WARN":
		logging.Warn(msg)
	case "ERROR":
		logging.Error(msg)
	}
	return len(line), nil
}
