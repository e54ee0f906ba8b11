// Package roles implements automatic role management: keeping a cluster's
// voter and standby counts at their configured targets, and smoothing over
// a node's planned departure via leadership handover.
package roles

// Role is a cluster node's current Raft role.
type Role int

const (
	RoleSpare Role = iota
	RoleStandby
	RoleVoter
)

// NodeView is one node's state as seen by the leader's latest cluster poll:
// whether it answered at all, and, if so, its failure domain and weight.
type NodeView struct {
	ID            uint64
	Role          Role
	Online        bool
	FailureDomain uint64
	Weight        uint64
}

// Change is one computed role assignment: node ID to new role.
type Change struct {
	ID   uint64
	Role Role
}
