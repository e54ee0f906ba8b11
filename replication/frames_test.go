package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowsql/go-cowsql/id"
	"github.com/cowsql/go-cowsql/internal/vfs"
)

func sampleCommand() *Command {
	return &Command{
		Database: "test.db",
		Batch: &vfs.FrameBatch{
			PageSize: 4096,
			IsBegin:  true,
			IsCommit: true,
			Frames: []vfs.FrameEntry{
				{PageNumber: 1, Data: make([]byte, 4096)},
				{PageNumber: 2, Data: make([]byte, 4096)},
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cmd := sampleCommand()
	cmd.Batch.Frames[1].Data[0] = 0xAB

	buf, err := Encode(cmd)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, cmd.Database, decoded.Database)
	assert.Equal(t, cmd.Batch.PageSize, decoded.Batch.PageSize)
	assert.True(t, decoded.Batch.IsBegin)
	assert.True(t, decoded.Batch.IsCommit)
	assert.False(t, decoded.Batch.IsTruncate)
	require.Len(t, decoded.Batch.Frames, 2)
	assert.EqualValues(t, 2, decoded.Batch.Frames[1].PageNumber)
	assert.Equal(t, byte(0xAB), decoded.Batch.Frames[1].Data[0])
}

func TestEncodeDecodeTruncateMarker(t *testing.T) {
	cmd := sampleCommand()
	cmd.Batch.IsTruncate = true
	cmd.Batch.TruncatePages = 7

	buf, err := Encode(cmd)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.True(t, decoded.Batch.IsTruncate)
	assert.EqualValues(t, 7, decoded.Batch.TruncatePages)
}

func TestDecodeRejectsBadTag(t *testing.T) {
	_, err := Decode([]byte{0x02, 0, 0})
	assert.Error(t, err)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	buf, err := Encode(sampleCommand())
	require.NoError(t, err)

	_, err = Decode(buf[:len(buf)-1])
	assert.Error(t, err)
}

func TestEntryRoundTrip(t *testing.T) {
	e := &Entry{Command: sampleCommand()}
	e.ReqID = id.Next(id.NewState(1, 2, 3, 4))

	buf, err := EncodeEntry(e)
	require.NoError(t, err)

	decoded, err := DecodeEntry(buf)
	require.NoError(t, err)
	assert.Equal(t, e.ReqID, decoded.ReqID)
	assert.Equal(t, e.Command.Database, decoded.Command.Database)
}

func TestDecodeEntryRejectsTooShort(t *testing.T) {
	_, err := DecodeEntry(make([]byte, 4))
	assert.Error(t, err)
}
