package social

import "context"

// PruneOvermutedUsers sweeps ascending distance from 0 to 20, removing
// every overmuted user found at each distance in a single batched pass
// before moving to the next distance, so a removal at distance d cannot
// be reconsidered by the same sweep at distance d+1 using stale counts.
func (g *Graph) PruneOvermutedUsers(threshold float64) int {
	removed := 0
	for d := 0; d <= 20; d++ {
		g.mu.Lock()
		var batch []UID
		for uid, dist := range g.distance {
			if dist != d {
				continue
			}
			if g.isOvermutedLocked(uid, threshold) {
				batch = append(batch, uid)
			}
		}
		for _, uid := range batch {
			g.removeUserLocked(uid)
		}
		g.mu.Unlock()
		removed += len(batch)
	}
	return removed
}

// removeUserLocked deletes uid from every index. Caller must hold g.mu.
func (g *Graph) removeUserLocked(uid UID) {
	for target := range g.follows[uid] {
		delete(g.followers[target], uid)
	}
	for owner := range g.followers[uid] {
		delete(g.follows[owner], uid)
	}
	for target := range g.mutes[uid] {
		delete(g.muters[target], uid)
	}
	for owner := range g.muters[uid] {
		delete(g.mutes[owner], uid)
	}
	delete(g.follows, uid)
	delete(g.followers, uid)
	delete(g.mutes, uid)
	delete(g.muters, uid)
	delete(g.distance, uid)
	delete(g.followListCreatedAt, uid)
	delete(g.muteListCreatedAt, uid)
	if pk, ok := g.pubkeyOf[uid]; ok {
		delete(g.uidOf, pk)
		delete(g.pubkeyOf, uid)
	}
}

// RemoveMutedNotFollowedUsers runs the three-phase scan: phase 1 builds
// the set of users who have at least one follower, phase 2 scans every
// muted user absent from that set, phase 3 batch-removes them. Phases run
// as separate steps (rather than one locked pass) so a very large graph
// does not hold the write lock for the whole scan; ctx cancellation is
// checked between phases.
func (g *Graph) RemoveMutedNotFollowedUsers(ctx context.Context) error {
	g.mu.RLock()
	hasFollower := make(map[UID]struct{}, len(g.followers))
	for target, owners := range g.followers {
		if len(owners) > 0 {
			hasFollower[target] = struct{}{}
		}
	}
	mutedUsers := make(map[UID]struct{})
	for _, targets := range g.mutes {
		for target := range targets {
			mutedUsers[target] = struct{}{}
		}
	}
	g.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	var toRemove []UID
	for uid := range mutedUsers {
		if _, followed := hasFollower[uid]; !followed {
			toRemove = append(toRemove, uid)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	for _, uid := range toRemove {
		g.removeUserLocked(uid)
	}
	g.mu.Unlock()
	return nil
}
