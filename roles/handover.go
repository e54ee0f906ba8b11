package roles

import (
	"context"
	"sort"

	"github.com/cowsql/go-cowsql/internal/errs"
)

// RaftControl is the subset of Raft the handover path needs: transferring
// leadership away, and learning who the current leader is afterward.
type RaftControl interface {
	// TransferLeadership asks Raft to hand leadership to any other voter.
	// It is called unconditionally; Raft itself reports when the local
	// node isn't the leader, which is not an error worth surfacing here.
	TransferLeadership(ctx context.Context) error
	// Leader returns the current leader's id and address, and whether a
	// leader is currently known at all.
	Leader() (id uint64, address string, ok bool)
}

// RemoteAssigner issues a role-change RPC against the cluster leader, used
// once this node is no longer leader itself.
type RemoteAssigner interface {
	AssignRole(ctx context.Context, leaderID uint64, leaderAddress string, targetID uint64, role Role) error
}

// Handover smooths over this node's planned departure while it is leader
// or a voter: it transfers leadership, polls the cluster to find a
// promotion candidate, promotes that candidate, and demotes itself
// straight to spare — the same two-RPC sequence as
// handoverVoterWorkCb in the original role manager (promote target to
// voter, then demote self to spare; no standby intermediate).
func Handover(ctx context.Context, localID uint64, raftCtl RaftControl, prober Prober, servers []NodeAddress, remote RemoteAssigner) error {
	// Try the transfer unconditionally; if we're not the leader this is a
	// harmless no-op from Raft's perspective.
	_ = raftCtl.TransferLeadership(ctx)

	views := PollCluster(ctx, prober, servers)

	leaderID, leaderAddr, ok := raftCtl.Leader()
	if !ok || leaderID == localID {
		return errs.Wrap(errs.KindAborted, "handover: no other leader available", nil)
	}

	target, found := selectPromotionCandidate(views, localID)
	if !found {
		return errs.Wrap(errs.KindAborted, "handover: no promotion candidate found", nil)
	}

	if err := remote.AssignRole(ctx, leaderID, leaderAddr, target, RoleVoter); err != nil {
		return errs.Wrap(errs.KindAborted, "handover: promote candidate", err)
	}
	if err := remote.AssignRole(ctx, leaderID, leaderAddr, localID, RoleSpare); err != nil {
		return errs.Wrap(errs.KindAborted, "handover: step down to spare", err)
	}
	return nil
}

// selectPromotionCandidate picks the best non-voter, non-local node to
// promote to voter, using the same tie-break ordering as ComputeChanges.
func selectPromotionCandidate(views []NodeView, localID uint64) (uint64, bool) {
	nodes := make([]NodeView, len(views))
	copy(nodes, views)

	domains := domainCounts{}
	for _, v := range nodes {
		if v.Online && v.Role == RoleVoter && v.ID != localID {
			domains.add(v.FailureDomain)
		}
	}

	sort.Stable(byPromotionOrder{nodes, domains})

	for _, n := range nodes {
		if n.Online && n.Role != RoleVoter && n.ID != localID {
			return n.ID, true
		}
	}
	return 0, false
}
