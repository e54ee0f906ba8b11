package apply

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowsql/go-cowsql/internal/vfs"
	"github.com/cowsql/go-cowsql/replication"
)

type fakeCheckpointer struct {
	calls int
}

func (f *fakeCheckpointer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.calls++
	return nil, nil
}

func newTestFollower(t *testing.T, threshold int) (*Follower, *vfs.Registry, *fakeCheckpointer) {
	t.Helper()
	registry := vfs.NewRegistry(0)
	ckpt := &fakeCheckpointer{}
	fo := NewFollower()
	fo.Register(&Database{
		Name:                "test.db",
		Registry:            registry,
		Checkpointer:        ckpt,
		CheckpointThreshold: threshold,
	})
	return fo, registry, ckpt
}

func batchCommand(start int, begin, commit bool, pgnos ...uint32) *replication.Command {
	frames := make([]vfs.FrameEntry, len(pgnos))
	for i, n := range pgnos {
		frames[i] = vfs.FrameEntry{PageNumber: n, Data: make([]byte, 4096)}
	}
	return &replication.Command{
		Database: "test.db",
		Batch: &vfs.FrameBatch{
			PageSize:   4096,
			StartFrame: start,
			IsBegin:    begin,
			IsCommit:   commit,
			Frames:     frames,
		},
	}
}

func TestApplyForwardReplay(t *testing.T) {
	fo, registry, _ := newTestFollower(t, 1000)

	err := fo.Apply(context.Background(), batchCommand(0, true, true, 1, 2))
	require.NoError(t, err)

	wal, err := registry.Open("test.db-wal", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, wal.FrameCount())
	assert.True(t, wal.LastFrameCommitted())
}

func TestApplyRejectsUnknownDatabase(t *testing.T) {
	fo, _, _ := newTestFollower(t, 1000)
	cmd := batchCommand(0, true, true, 1)
	cmd.Database = "other.db"
	err := fo.Apply(context.Background(), cmd)
	assert.Error(t, err)
}

func TestApplyIsIdempotentOnReplay(t *testing.T) {
	fo, registry, _ := newTestFollower(t, 1000)

	require.NoError(t, fo.Apply(context.Background(), batchCommand(0, true, true, 1, 2)))
	// Re-applying the same already-committed batch (simulating Raft log
	// replay after a crash restart) must be a no-op.
	require.NoError(t, fo.Apply(context.Background(), batchCommand(0, true, true, 1, 2)))

	wal, err := registry.Open("test.db-wal", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, wal.FrameCount())
}

func TestApplyRejectsGapInSequence(t *testing.T) {
	fo, _, _ := newTestFollower(t, 1000)
	err := fo.Apply(context.Background(), batchCommand(5, true, true, 6))
	assert.Error(t, err)
}

func TestApplyRejectsBeginOverUncommittedTail(t *testing.T) {
	fo, _, _ := newTestFollower(t, 1000)
	require.NoError(t, fo.Apply(context.Background(), batchCommand(0, true, false, 1)))
	err := fo.Apply(context.Background(), batchCommand(1, true, true, 2))
	assert.Error(t, err)
}

func TestApplyTriggersCheckpointAtThreshold(t *testing.T) {
	fo, _, ckpt := newTestFollower(t, 2)

	require.NoError(t, fo.Apply(context.Background(), batchCommand(0, true, false, 1)))
	assert.Equal(t, 0, ckpt.calls)

	require.NoError(t, fo.Apply(context.Background(), batchCommand(1, false, true, 2)))
	assert.Equal(t, 1, ckpt.calls)
}

func TestApplyTruncatesMainDB(t *testing.T) {
	fo, registry, _ := newTestFollower(t, 1000)

	main, err := registry.Open("test.db", vfs.FlagCreate|vfs.FlagMainDB)
	require.NoError(t, err)
	hdr := make([]byte, 4096) // a full first page, carrying the page size at its conventional offset
	hdr[16], hdr[17] = 0x10, 0x00
	require.NoError(t, main.WriteAt(hdr, 0))
	require.NoError(t, main.WriteAt(make([]byte, 4096), 4096))
	require.NoError(t, main.WriteAt(make([]byte, 4096), 8192))

	cmd := batchCommand(0, true, true, 1)
	cmd.Batch.IsTruncate = true
	cmd.Batch.TruncatePages = 1

	require.NoError(t, fo.Apply(context.Background(), cmd))
	assert.Equal(t, int64(4096), main.Size())
}
