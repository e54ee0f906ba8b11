package roles

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// NodeAddress is one entry of the current Raft configuration: enough to
// open a diagnostic connection to the node and to seed its NodeView with
// the role Raft already believes it holds.
type NodeAddress struct {
	ID      uint64
	Address string
	Role    Role
}

// Prober asks a single node for its failure domain and weight. An error
// return means the node is treated as offline for this polling round,
// matching the original role manager's "if the client request fails,
// leave the node's online flag false" behavior.
type Prober interface {
	Probe(ctx context.Context, id uint64, address string) (domain, weight uint64, err error)
}

// PollCluster concurrently probes every node in servers and returns a
// NodeView snapshot suitable for ComputeChanges. Probing fans out onto
// the errgroup's goroutine pool so that one slow or unreachable node
// doesn't block learning about the rest, mirroring the blocking
// thread-pool fan-out the original role manager uses for the same
// purpose.
func PollCluster(ctx context.Context, prober Prober, servers []NodeAddress) []NodeView {
	views := make([]NodeView, len(servers))
	for i, srv := range servers {
		views[i] = NodeView{ID: srv.ID, Role: srv.Role}
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		i, srv := i, srv
		g.Go(func() error {
			domain, weight, err := prober.Probe(ctx, srv.ID, srv.Address)
			if err != nil {
				return nil
			}
			views[i].Online = true
			views[i].FailureDomain = domain
			views[i].Weight = weight
			return nil
		})
	}
	// Probe failures are swallowed inside each goroutine (an offline node
	// is valid input, not an error), so Wait can't actually fail here.
	_ = g.Wait()

	return views
}
