package raft_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	hraft "github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowsql/go-cowsql/apply"
	cowraft "github.com/cowsql/go-cowsql/raft"
	"github.com/cowsql/go-cowsql/internal/vfs"
	"github.com/cowsql/go-cowsql/replication"
)

type noopCheckpointer struct{}

func (noopCheckpointer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}

func waitForLeader(t *testing.T, n *cowraft.Node) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n.Raft.State() == hraft.Leader {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("node never became leader")
}

func TestSingleNodeBootstrapsAndApplies(t *testing.T) {
	registry := vfs.NewRegistry(0)
	follower := apply.NewFollower()
	follower.Register(&apply.Database{
		Name:         "test.db",
		Registry:     registry,
		Checkpointer: noopCheckpointer{},
	})

	node, err := cowraft.New(cowraft.Config{
		NodeID: 1,
		Dir:    t.TempDir(),
	}, follower)
	require.NoError(t, err)
	defer node.Shutdown(5 * time.Second)

	waitForLeader(t, node)

	entry := &replication.Entry{
		Command: &replication.Command{
			Database: "test.db",
			Batch: &vfs.FrameBatch{
				PageSize: 4096,
				IsBegin:  true,
				IsCommit: true,
				Frames:   []vfs.FrameEntry{{PageNumber: 1, Data: make([]byte, 4096)}},
			},
		},
	}
	data, err := replication.EncodeEntry(entry)
	require.NoError(t, err)

	future := node.Raft.Apply(data, 5*time.Second)
	require.NoError(t, future.Error())
	assert.Nil(t, future.Response())

	wal, err := registry.Open("test.db-wal", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, wal.FrameCount())
}
