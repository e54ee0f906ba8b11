package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeChangesDemotesOfflineNodes(t *testing.T) {
	cluster := []NodeView{
		{ID: 1, Role: RoleVoter, Online: false},
		{ID: 2, Role: RoleVoter, Online: true},
		{ID: 3, Role: RoleVoter, Online: true},
	}
	changes := ComputeChanges(2, 0, cluster, 2)
	assert.Contains(t, changes, Change{ID: 1, Role: RoleSpare})
}

func TestComputeChangesPromotesToReachVoterTarget(t *testing.T) {
	cluster := []NodeView{
		{ID: 1, Role: RoleVoter, Online: true},
		{ID: 2, Role: RoleStandby, Online: true, FailureDomain: 1, Weight: 5},
		{ID: 3, Role: RoleSpare, Online: true, FailureDomain: 2, Weight: 1},
	}
	changes := ComputeChanges(3, 0, cluster, 1)
	var promoted []uint64
	for _, c := range changes {
		if c.Role == RoleVoter {
			promoted = append(promoted, c.ID)
		}
	}
	assert.ElementsMatch(t, []uint64{2, 3}, promoted)
}

func TestComputeChangesPrefersLeastOccupiedFailureDomain(t *testing.T) {
	cluster := []NodeView{
		{ID: 1, Role: RoleVoter, Online: true, FailureDomain: 100},
		{ID: 2, Role: RoleSpare, Online: true, FailureDomain: 100, Weight: 0},
		{ID: 3, Role: RoleSpare, Online: true, FailureDomain: 200, Weight: 0},
	}
	changes := ComputeChanges(2, 0, cluster, 1)
	assert.Len(t, changes, 1)
	assert.Equal(t, uint64(3), changes[0].ID, "node 3's failure domain isn't yet represented among voters")
}

func TestComputeChangesPrefersLowerWeightOnTie(t *testing.T) {
	cluster := []NodeView{
		{ID: 1, Role: RoleVoter, Online: true, FailureDomain: 1},
		{ID: 2, Role: RoleSpare, Online: true, FailureDomain: 2, Weight: 10},
		{ID: 3, Role: RoleSpare, Online: true, FailureDomain: 3, Weight: 1},
	}
	changes := ComputeChanges(2, 0, cluster, 1)
	assert.Len(t, changes, 1)
	assert.Equal(t, uint64(3), changes[0].ID)
}

func TestComputeChangesPrefersStandbyOverSpareOnFullTie(t *testing.T) {
	cluster := []NodeView{
		{ID: 1, Role: RoleVoter, Online: true, FailureDomain: 1},
		{ID: 2, Role: RoleStandby, Online: true, FailureDomain: 2, Weight: 1},
		{ID: 3, Role: RoleSpare, Online: true, FailureDomain: 2, Weight: 1},
	}
	changes := ComputeChanges(2, 0, cluster, 1)
	assert.Len(t, changes, 1)
	assert.Equal(t, uint64(2), changes[0].ID)
}

func TestComputeChangesDemotesSurplusVotersNeverLocal(t *testing.T) {
	cluster := []NodeView{
		{ID: 1, Role: RoleVoter, Online: true, FailureDomain: 1, Weight: 1},
		{ID: 2, Role: RoleVoter, Online: true, FailureDomain: 1, Weight: 1},
		{ID: 3, Role: RoleVoter, Online: true, FailureDomain: 1, Weight: 1},
	}
	changes := ComputeChanges(1, 0, cluster, 1)
	for _, c := range changes {
		assert.NotEqual(t, uint64(1), c.ID, "local node must never be demoted")
	}
	assert.Len(t, changes, 2)
}

func TestComputeChangesPromotesAndDemotesStandbys(t *testing.T) {
	cluster := []NodeView{
		{ID: 1, Role: RoleVoter, Online: true},
		{ID: 2, Role: RoleSpare, Online: true},
		{ID: 3, Role: RoleStandby, Online: true},
		{ID: 4, Role: RoleStandby, Online: true},
	}
	changes := ComputeChanges(1, 1, cluster, 1)
	var toSpare []uint64
	for _, c := range changes {
		if c.Role == RoleSpare {
			toSpare = append(toSpare, c.ID)
		}
	}
	// Exactly one of the two existing standbys must be demoted to spare to
	// reach the target of 1, and node 2 (already a spare) stays untouched.
	assert.Len(t, toSpare, 1)
	assert.Contains(t, []uint64{3, 4}, toSpare[0])
}

func TestComputeChangesNoOpWhenAlreadyAtTarget(t *testing.T) {
	cluster := []NodeView{
		{ID: 1, Role: RoleVoter, Online: true},
		{ID: 2, Role: RoleVoter, Online: true},
		{ID: 3, Role: RoleStandby, Online: true},
	}
	changes := ComputeChanges(2, 1, cluster, 1)
	assert.Empty(t, changes)
}
