package roles

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRaftControl struct {
	transferErr    error
	leaderID       uint64
	leaderAddr     string
	leaderKnown    bool
	transferCalled bool
}

func (f *fakeRaftControl) TransferLeadership(ctx context.Context) error {
	f.transferCalled = true
	return f.transferErr
}

func (f *fakeRaftControl) Leader() (uint64, string, bool) {
	return f.leaderID, f.leaderAddr, f.leaderKnown
}

type assignedRole struct {
	target uint64
	role   Role
}

type fakeRemoteAssigner struct {
	assigned []assignedRole
	failOn   uint64
}

func (f *fakeRemoteAssigner) AssignRole(ctx context.Context, leaderID uint64, leaderAddress string, targetID uint64, role Role) error {
	if targetID == f.failOn {
		return fmt.Errorf("rpc failed for node %d", targetID)
	}
	f.assigned = append(f.assigned, assignedRole{target: targetID, role: role})
	return nil
}

func TestHandoverPromotesCandidateAndStepsDownLocal(t *testing.T) {
	raftCtl := &fakeRaftControl{leaderID: 2, leaderAddr: "node2:8080", leaderKnown: true}
	prober := &fakeProber{responses: map[uint64]struct {
		domain, weight uint64
		err            error
	}{
		1: {domain: 0, weight: 0},
		2: {domain: 1, weight: 1},
		3: {domain: 2, weight: 1},
	}}
	remote := &fakeRemoteAssigner{}
	servers := []NodeAddress{
		{ID: 1, Address: "node1:8080", Role: RoleVoter},
		{ID: 2, Address: "node2:8080", Role: RoleVoter},
		{ID: 3, Address: "node3:8080", Role: RoleSpare},
	}

	err := Handover(context.Background(), 1, raftCtl, prober, servers, remote)
	require.NoError(t, err)

	assert.True(t, raftCtl.transferCalled)
	require.Len(t, remote.assigned, 2)
	assert.Equal(t, assignedRole{target: 3, role: RoleVoter}, remote.assigned[0])
	assert.Equal(t, assignedRole{target: 1, role: RoleSpare}, remote.assigned[1])
}

func TestHandoverAbortsWithoutAnotherLeader(t *testing.T) {
	raftCtl := &fakeRaftControl{leaderKnown: false}
	prober := &fakeProber{responses: map[uint64]struct {
		domain, weight uint64
		err            error
	}{1: {domain: 0, weight: 0}}}
	remote := &fakeRemoteAssigner{}
	servers := []NodeAddress{{ID: 1, Address: "node1:8080", Role: RoleVoter}}

	err := Handover(context.Background(), 1, raftCtl, prober, servers, remote)
	assert.Error(t, err)
	assert.Empty(t, remote.assigned)
}

func TestHandoverAbortsWithoutPromotionCandidate(t *testing.T) {
	raftCtl := &fakeRaftControl{leaderID: 2, leaderAddr: "node2:8080", leaderKnown: true}
	prober := &fakeProber{responses: map[uint64]struct {
		domain, weight uint64
		err            error
	}{
		1: {domain: 0, weight: 0},
		2: {domain: 0, weight: 0},
	}}
	remote := &fakeRemoteAssigner{}
	servers := []NodeAddress{
		{ID: 1, Address: "node1:8080", Role: RoleVoter},
		{ID: 2, Address: "node2:8080", Role: RoleVoter},
	}

	err := Handover(context.Background(), 1, raftCtl, prober, servers, remote)
	assert.Error(t, err)
	assert.Empty(t, remote.assigned)
}

func TestHandoverStopsOnFirstRPCFailure(t *testing.T) {
	raftCtl := &fakeRaftControl{leaderID: 2, leaderAddr: "node2:8080", leaderKnown: true}
	prober := &fakeProber{responses: map[uint64]struct {
		domain, weight uint64
		err            error
	}{
		1: {domain: 0, weight: 0},
		2: {domain: 1, weight: 1},
		3: {domain: 2, weight: 1},
	}}
	remote := &fakeRemoteAssigner{failOn: 3}
	servers := []NodeAddress{
		{ID: 1, Address: "node1:8080", Role: RoleVoter},
		{ID: 2, Address: "node2:8080", Role: RoleVoter},
		{ID: 3, Address: "node3:8080", Role: RoleSpare},
	}

	err := Handover(context.Background(), 1, raftCtl, prober, servers, remote)
	assert.Error(t, err)
	assert.Empty(t, remote.assigned)
}
