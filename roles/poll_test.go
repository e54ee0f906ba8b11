package roles

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeProber struct {
	responses map[uint64]struct {
		domain, weight uint64
		err            error
	}
}

func (f *fakeProber) Probe(ctx context.Context, id uint64, address string) (uint64, uint64, error) {
	r, ok := f.responses[id]
	if !ok {
		return 0, 0, fmt.Errorf("no fake response configured for node %d", id)
	}
	return r.domain, r.weight, r.err
}

func TestPollClusterMarksRespondingNodesOnline(t *testing.T) {
	prober := &fakeProber{responses: map[uint64]struct {
		domain, weight uint64
		err            error
	}{
		1: {domain: 7, weight: 3, err: nil},
		2: {domain: 0, weight: 0, err: fmt.Errorf("dial tcp: connection refused")},
	}}

	servers := []NodeAddress{
		{ID: 1, Address: "1.2.3.4:8080", Role: RoleVoter},
		{ID: 2, Address: "5.6.7.8:8080", Role: RoleSpare},
	}

	views := PollCluster(context.Background(), prober, servers)

	assert.Len(t, views, 2)
	assert.Equal(t, NodeView{ID: 1, Role: RoleVoter, Online: true, FailureDomain: 7, Weight: 3}, views[0])
	assert.Equal(t, NodeView{ID: 2, Role: RoleSpare, Online: false}, views[1])
}

func TestPollClusterPreservesInputOrder(t *testing.T) {
	prober := &fakeProber{responses: map[uint64]struct {
		domain, weight uint64
		err            error
	}{
		10: {domain: 1, weight: 1},
		20: {domain: 2, weight: 2},
		30: {domain: 3, weight: 3},
	}}

	servers := []NodeAddress{
		{ID: 30, Address: "c", Role: RoleSpare},
		{ID: 10, Address: "a", Role: RoleVoter},
		{ID: 20, Address: "b", Role: RoleStandby},
	}

	views := PollCluster(context.Background(), prober, servers)

	assert.Equal(t, uint64(30), views[0].ID)
	assert.Equal(t, uint64(10), views[1].ID)
	assert.Equal(t, uint64(20), views[2].ID)
	for _, v := range views {
		assert.True(t, v.Online)
	}
}
