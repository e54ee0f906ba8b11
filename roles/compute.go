package roles

import "sort"

// domainCounts tracks, for one role class (voters or standbys), how many
// currently-assigned nodes occupy each failure domain seen so far. It
// mirrors the bounded linear-scan table from the original role manager;
// since it is sized dynamically here, there is no tracked-domain cap.
type domainCounts map[uint64]int

func (d domainCounts) count(domain uint64) int { return d[domain] }
func (d domainCounts) add(domain uint64)       { d[domain]++ }
func (d domainCounts) remove(domain uint64) {
	if d[domain] > 0 {
		d[domain]--
	}
}

// seniority orders non-voter roles so that a standby is preferred over a
// spare when both are otherwise tied for promotion.
func seniority(r Role) int {
	if r == RoleStandby {
		return 1
	}
	return 0
}

// byPromotionOrder sorts a cluster snapshot so that the best promotion
// candidates (for a given role class's domain counts) come first: fewer
// existing occupants of the node's failure domain, then lower weight,
// then standby before spare.
type byPromotionOrder struct {
	nodes  []NodeView
	counts domainCounts
}

func (s byPromotionOrder) Len() int      { return len(s.nodes) }
func (s byPromotionOrder) Swap(i, j int) { s.nodes[i], s.nodes[j] = s.nodes[j], s.nodes[i] }
func (s byPromotionOrder) Less(i, j int) bool {
	left, right := s.nodes[i], s.nodes[j]
	if c := s.counts.count(left.FailureDomain) - s.counts.count(right.FailureDomain); c != 0 {
		return c < 0
	}
	if w := int64(left.Weight) - int64(right.Weight); w != 0 {
		return w < 0
	}
	return seniority(left.Role) > seniority(right.Role)
}

// byDemotionOrder is the exact mirror of byPromotionOrder: worst
// promotion candidates (the best demotion candidates) come first.
type byDemotionOrder struct{ byPromotionOrder }

func (s byDemotionOrder) Less(i, j int) bool { return s.byPromotionOrder.Less(j, i) }

// ComputeChanges implements the pure, deterministic adjustment pass: given
// a cluster snapshot and target voter/standby counts, it returns the full
// set of role changes needed, in application order, collapsing duplicate
// changes for the same node to the last one computed (via the caller's
// use of Queue, not here — ComputeChanges itself returns one entry at a
// time as it decides each change, exactly as the original emits them
// through its callback).
func ComputeChanges(voters, standbys int, cluster []NodeView, localID uint64) []Change {
	nodes := make([]NodeView, len(cluster))
	copy(nodes, cluster)

	var changes []Change
	voterCount, standbyCount := 0, 0
	voterDomains := domainCounts{}
	standbyDomains := domainCounts{}

	// Step 1: demote offline nodes to spare; count online voters/standbys.
	for i := range nodes {
		n := &nodes[i]
		switch {
		case !n.Online && n.Role != RoleSpare:
			changes = append(changes, Change{ID: n.ID, Role: RoleSpare})
			n.Role = RoleSpare
		case n.Online && n.Role == RoleVoter:
			voterCount++
			voterDomains.add(n.FailureDomain)
		case n.Online && n.Role == RoleStandby:
			standbyCount++
			standbyDomains.add(n.FailureDomain)
		}
	}

	// Step 2: promote toward the voter target.
	if voterCount < voters {
		sort.Stable(byPromotionOrder{nodes, voterDomains})
	}
	for i := range nodes {
		if voterCount >= voters {
			break
		}
		n := &nodes[i]
		if !n.Online || n.Role == RoleVoter {
			continue
		}
		changes = append(changes, Change{ID: n.ID, Role: RoleVoter})
		if n.Role == RoleStandby {
			standbyCount--
			standbyDomains.remove(n.FailureDomain)
		}
		n.Role = RoleVoter
		voterCount++
		voterDomains.add(n.FailureDomain)
	}

	// Step 3: demote surplus voters to spare, never touching the local node.
	if voterCount > voters {
		sort.Stable(byDemotionOrder{byPromotionOrder{nodes, voterDomains}})
	}
	for i := range nodes {
		if voterCount <= voters {
			break
		}
		n := &nodes[i]
		if n.Role != RoleVoter || n.ID == localID {
			continue
		}
		changes = append(changes, Change{ID: n.ID, Role: RoleSpare})
		n.Role = RoleSpare
		voterCount--
		voterDomains.remove(n.FailureDomain)
	}

	// Step 4: promote spares toward the standby target.
	if standbyCount < standbys {
		sort.Stable(byPromotionOrder{nodes, standbyDomains})
	}
	for i := range nodes {
		if standbyCount >= standbys {
			break
		}
		n := &nodes[i]
		if !n.Online || n.Role != RoleSpare {
			continue
		}
		changes = append(changes, Change{ID: n.ID, Role: RoleStandby})
		n.Role = RoleStandby
		standbyCount++
		standbyDomains.add(n.FailureDomain)
	}

	// Step 5: demote surplus standbys to spare.
	if standbyCount > standbys {
		sort.Stable(byDemotionOrder{byPromotionOrder{nodes, standbyDomains}})
	}
	for i := range nodes {
		if standbyCount <= standbys {
			break
		}
		n := &nodes[i]
		if n.Role != RoleStandby {
			continue
		}
		changes = append(changes, Change{ID: n.ID, Role: RoleSpare})
		n.Role = RoleSpare
		standbyCount--
		standbyDomains.remove(n.FailureDomain)
	}

	return changes
}
